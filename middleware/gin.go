package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/jwt"
)

// Gin guards record c.ClientIP() in the request context. Configure the router's
// trusted proxies; gin's default trusts forwarding headers from every peer.

// ClaimsKey is the gin context key holding *jwt.Claims after a gin guard passes.
const ClaimsKey = "credgate.claims"

// GinAuthenticate is the gin form of Authenticate.
func GinAuthenticate(engine *credgate.Engine) gin.HandlerFunc {
	return ginGuard(func(c *gin.Context, token string) (*jwt.Claims, error) {
		return engine.Authenticate(c.Request.Context(), token)
	})
}

// GinRequire is the gin form of Require.
func GinRequire(engine *credgate.Engine, code string) gin.HandlerFunc {
	return ginGuard(func(c *gin.Context, token string) (*jwt.Claims, error) {
		return engine.Check(c.Request.Context(), token, code)
	})
}

// GinRequireURL is the gin form of RequireURL.
func GinRequireURL(engine *credgate.Engine) gin.HandlerFunc {
	return ginGuard(func(c *gin.Context, token string) (*jwt.Claims, error) {
		return engine.CheckURL(c.Request.Context(), token, c.Request.URL.Path)
	})
}

func ginGuard(check func(*gin.Context, string) (*jwt.Claims, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": CodeUnauthorized})
			return
		}
		claims, err := check(c, token)
		if err != nil {
			status, code := Classify(err)
			c.AbortWithStatusJSON(status, gin.H{"error": code})
			return
		}

		ctx := credgate.WithClaims(c.Request.Context(), claims)
		ctx = credgate.WithClientIP(ctx, c.ClientIP())
		ctx = credgate.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// GinClaims returns the claims attached by a gin guard.
func GinClaims(c *gin.Context) (*jwt.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}
