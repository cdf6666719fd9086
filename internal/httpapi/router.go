// Package httpapi exposes the engine over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/middleware"
)

// Options configures the router.
type Options struct {
	Engine *credgate.Engine
	Config credgate.HTTPConfig
	Logger *zap.Logger
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Ready backs /healthz. Nil always reports ready.
	Ready func(ctx context.Context) error
	// Debug enables gin debug mode.
	Debug bool
}

type API struct {
	engine *credgate.Engine
	log    *zap.Logger
	ready  func(ctx context.Context) error
}

// NewRouter builds a gin engine with recovery, request logging, CORS and the
// auth routes.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Engine == nil {
		return nil, errors.New("http router requires an engine")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	api := &API{engine: opts.Engine, log: logger, ready: opts.Ready}

	r := gin.New()
	if err := r.SetTrustedProxies(opts.Config.TrustedProxies); err != nil {
		return nil, fmt.Errorf("http trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(loggingMiddleware(logger))
	if len(opts.Config.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.Config.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", api.handleHealth)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := r.Group("/auth")
	auth.POST("/login", api.handleLogin)
	auth.POST("/refresh", api.handleRefresh)
	auth.POST("/logout", api.handleLogout)
	auth.POST("/introspect", api.handleIntrospect)
	auth.GET("/me", middleware.GinAuthenticate(opts.Engine), api.handleMe)

	return r, nil
}

func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

func writeError(c *gin.Context, err error) {
	status, code := middleware.Classify(err)
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": msg})
}
