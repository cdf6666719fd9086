package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/middleware"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	Token string `json:"token"`
	// All revokes every token of the principal; the bearer must be a live access token.
	All bool `json:"all"`
}

type introspectRequest struct {
	Token string `json:"token"`
}

func (a *API) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		badRequest(c, "login and password are required")
		return
	}

	pair, err := a.engine.Login(c.Request.Context(), credgate.LoginRequest{
		Identity:   req.Login,
		Secret:     req.Password,
		SourceAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (a *API) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badRequest(c, "refresh_token is required")
		return
	}
	pair, err := a.engine.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (a *API) handleLogout(c *gin.Context) {
	var req logoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json body")
			return
		}
	}
	bearer, hasBearer := middleware.BearerToken(c.GetHeader("Authorization"))
	ctx := c.Request.Context()

	if req.All {
		if !hasBearer {
			writeError(c, credgate.ErrInvalidToken)
			return
		}
		claims, err := a.engine.Authenticate(ctx, bearer)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := a.engine.LogoutAll(ctx, claims.UID); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	token := req.Token
	if token == "" {
		token = bearer
	}
	if token == "" {
		writeError(c, credgate.ErrInvalidToken)
		return
	}
	if err := a.engine.Logout(ctx, token); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleIntrospect(c *gin.Context) {
	var req introspectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		badRequest(c, "token is required")
		return
	}
	info, err := a.engine.Introspect(c.Request.Context(), req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (a *API) handleMe(c *gin.Context) {
	token, _ := middleware.BearerToken(c.GetHeader("Authorization"))
	p, err := a.engine.CurrentPrincipal(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *API) handleHealth(c *gin.Context) {
	if a.ready != nil {
		if err := a.ready(c.Request.Context()); err != nil {
			a.log.Warn("readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
