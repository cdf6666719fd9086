package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/internal/testenv"
)

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || claims.UID != testenv.AliceID {
			t.Errorf("claims missing from context: %+v", claims)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func do(h http.Handler, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc":  true,
		"bearer abc":  true,
		"Bearer ":     false,
		"Basic abc":   false,
		"":            false,
		"Bearerabc":   false,
		"Bearer   x ": true,
	}
	for header, want := range cases {
		if _, ok := BearerToken(header); ok != want {
			t.Fatalf("BearerToken(%q) = %v, want %v", header, ok, want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{credgate.ErrPermissionDenied, http.StatusForbidden, CodeForbidden},
		{fmt.Errorf("%w: redis down", credgate.ErrDependencyUnavailable), http.StatusServiceUnavailable, CodeUnavailable},
		{credgate.ErrTokenExpired, http.StatusUnauthorized, CodeTokenExpired},
		{credgate.ErrRevoked, http.StatusUnauthorized, CodeTokenRevoked},
		{credgate.ErrInvalidToken, http.StatusUnauthorized, CodeTokenInvalid},
		{credgate.ErrAccountLocked, http.StatusUnauthorized, CodeAccountLocked},
		{credgate.ErrInvalidCredentials, http.StatusUnauthorized, CodeAuthFailed},
		{errors.New("other"), http.StatusUnauthorized, CodeUnauthorized},
	}
	for _, tc := range cases {
		status, code := Classify(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("Classify(%v) = %d %q, want %d %q", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestRequire(t *testing.T) {
	env := testenv.New(t)
	pair := env.Login(t)
	bearer := "Bearer " + pair.AccessToken

	if rec := do(Require(env.Engine, testenv.PermOrdersRead)(okHandler(t)), "/x", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: got %d", rec.Code)
	}
	if rec := do(Require(env.Engine, testenv.PermOrdersRead)(okHandler(t)), "/x", bearer); rec.Code != http.StatusNoContent {
		t.Fatalf("granted: got %d", rec.Code)
	}
	if rec := do(Require(env.Engine, testenv.PermOrdersWrite)(okHandler(t)), "/x", bearer); rec.Code != http.StatusForbidden {
		t.Fatalf("denied: got %d", rec.Code)
	}
	if rec := do(RequireURL(env.Engine)(okHandler(t)), "/api/orders/9", bearer); rec.Code != http.StatusNoContent {
		t.Fatalf("url granted: got %d", rec.Code)
	}
	if rec := do(RequireURL(env.Engine)(okHandler(t)), "/api/users", bearer); rec.Code != http.StatusForbidden {
		t.Fatalf("url denied: got %d", rec.Code)
	}
	if rec := do(Authenticate(env.Engine)(okHandler(t)), "/x", "Bearer "+pair.RefreshToken); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token as bearer: got %d", rec.Code)
	}

	env.Mini.Close()
	if rec := do(Require(env.Engine, testenv.PermOrdersRead)(okHandler(t)), "/x", bearer); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("redis down must deny with 503, got %d", rec.Code)
	}
}

func TestGinRequire(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := testenv.New(t)
	pair := env.Login(t)

	r := gin.New()
	r.GET("/orders", GinRequire(env.Engine, testenv.PermOrdersRead), func(c *gin.Context) {
		claims, ok := GinClaims(c)
		if !ok || claims.UID != testenv.AliceID {
			t.Errorf("claims missing: %+v", claims)
		}
		c.Status(http.StatusNoContent)
	})
	r.GET("/admin", GinRequire(env.Engine, "admin.all"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if rec := do(r, "/orders", "Bearer "+pair.AccessToken); rec.Code != http.StatusNoContent {
		t.Fatalf("granted: got %d", rec.Code)
	}
	if rec := do(r, "/admin", "Bearer "+pair.AccessToken); rec.Code != http.StatusForbidden {
		t.Fatalf("denied: got %d", rec.Code)
	}
	if rec := do(r, "/orders", "Bearer nope"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", rec.Code)
	}
}
