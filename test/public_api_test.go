package test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/jwt"
	"github.com/MrEthical07/credgate/middleware"
)

// This test intentionally guards public API compile-compat for consumers.
func TestPublicAPISurfaceCompile(t *testing.T) {
	_ = credgate.New
	_ = credgate.DefaultConfig
	_ = credgate.LoadConfig

	var _ *credgate.Engine
	var _ credgate.Config
	var _ credgate.Principal
	var _ credgate.LoginRequest
	var _ credgate.TokenPair
	var _ credgate.Introspection
	var _ credgate.LockoutStatus
	var _ credgate.UserStore
	var _ credgate.SecretUpdater
	var _ credgate.StatusUpdater

	var _ error = credgate.ErrInvalidCredentials
	var _ error = credgate.ErrAccountLocked
	var _ error = credgate.ErrInvalidToken
	var _ error = credgate.ErrTokenExpired
	var _ error = credgate.ErrRevoked
	var _ error = credgate.ErrDependencyUnavailable
	var _ error = credgate.ErrPermissionDenied
	var _ error = credgate.ErrEngineNotReady
	var _ error = credgate.ErrPrincipalNotFound

	var _ func(*credgate.Engine) func(http.Handler) http.Handler = middleware.Authenticate
	var _ func(*credgate.Engine, string) func(http.Handler) http.Handler = middleware.Require
	var _ func(*credgate.Engine) func(http.Handler) http.Handler = middleware.RequireURL
	var _ func(*credgate.Engine, string) gin.HandlerFunc = middleware.GinRequire
	var _ func(error) (int, string) = middleware.Classify

	var _ func(*credgate.Engine, context.Context, credgate.LoginRequest) (*credgate.TokenPair, error) = (*credgate.Engine).Login
	var _ func(*credgate.Engine, context.Context, string) (*credgate.TokenPair, error) = (*credgate.Engine).Refresh
	var _ func(*credgate.Engine, context.Context, string) error = (*credgate.Engine).Logout
	var _ func(*credgate.Engine, context.Context, int64) error = (*credgate.Engine).LogoutAll
	var _ func(*credgate.Engine, context.Context, string) bool = (*credgate.Engine).Validate
	var _ func(*credgate.Engine, context.Context, string, string) bool = (*credgate.Engine).Authorize
	var _ func(*credgate.Engine, context.Context, string, string) bool = (*credgate.Engine).AuthorizeURL
	var _ func(*credgate.Engine, context.Context, string) (*jwt.Claims, error) = (*credgate.Engine).Authenticate
}
