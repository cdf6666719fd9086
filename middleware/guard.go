package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/jwt"
)

// Error codes written by the guards and by internal/httpapi.
const (
	CodeUnauthorized  = "unauthorized"
	CodeTokenInvalid  = "token_invalid"
	CodeTokenExpired  = "token_expired"
	CodeTokenRevoked  = "token_revoked"
	CodeAuthFailed    = "authentication_failed"
	CodeAccountLocked = "account_locked"
	CodeForbidden     = "forbidden"
	CodeUnavailable   = "unavailable"
)

// Classify maps an engine error to an HTTP status and a stable error code.
// Dependency failures are reported as 503; the request is still denied.
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, credgate.ErrPermissionDenied):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, credgate.ErrDependencyUnavailable), errors.Is(err, credgate.ErrEngineNotReady):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, credgate.ErrTokenExpired):
		return http.StatusUnauthorized, CodeTokenExpired
	case errors.Is(err, credgate.ErrRevoked):
		return http.StatusUnauthorized, CodeTokenRevoked
	case errors.Is(err, credgate.ErrInvalidToken):
		return http.StatusUnauthorized, CodeTokenInvalid
	case errors.Is(err, credgate.ErrAccountLocked):
		return http.StatusUnauthorized, CodeAccountLocked
	case errors.Is(err, credgate.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeAuthFailed
	default:
		return http.StatusUnauthorized, CodeUnauthorized
	}
}

// ClaimsFromContext returns the claims attached by a guard.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	return credgate.ClaimsFromContext(ctx)
}

type checkFunc func(r *http.Request, token string) (*jwt.Claims, error)

// Authenticate admits requests carrying a live access token.
func Authenticate(engine *credgate.Engine) func(http.Handler) http.Handler {
	return guard(func(r *http.Request, token string) (*jwt.Claims, error) {
		return engine.Authenticate(r.Context(), token)
	})
}

// Require admits requests whose principal holds the permission code.
func Require(engine *credgate.Engine, code string) func(http.Handler) http.Handler {
	return guard(func(r *http.Request, token string) (*jwt.Claims, error) {
		return engine.Check(r.Context(), token, code)
	})
}

// RequireURL admits requests whose principal holds a resource grant covering
// the request path.
func RequireURL(engine *credgate.Engine) func(http.Handler) http.Handler {
	return guard(func(r *http.Request, token string) (*jwt.Claims, error) {
		return engine.CheckURL(r.Context(), token, r.URL.Path)
	})
}

func guard(check checkFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, CodeUnauthorized, http.StatusUnauthorized)
				return
			}

			claims, err := check(r, token)
			if err != nil {
				status, code := Classify(err)
				http.Error(w, code, status)
				return
			}

			ctx := credgate.WithClaims(r.Context(), claims)
			ctx = credgate.WithClientIP(ctx, remoteIP(r.RemoteAddr))
			ctx = credgate.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
