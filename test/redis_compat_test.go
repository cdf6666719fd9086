//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/internal/testenv"
)

// TestRedisCompat runs the core engine scenarios against every configured backend.
func TestRedisCompat(t *testing.T) {
	for _, mode := range redisModes() {
		mode := mode
		t.Run(mode.name, func(t *testing.T) {
			t.Run("LoginAuthorize", func(t *testing.T) { testLoginAuthorize(t, mode) })
			t.Run("RefreshReplay", func(t *testing.T) { testRefreshReplay(t, mode) })
			t.Run("LogoutAll", func(t *testing.T) { testLogoutAll(t, mode) })
			t.Run("Lockout", func(t *testing.T) { testLockout(t, mode) })
			t.Run("PermissionInvalidation", func(t *testing.T) { testPermissionInvalidation(t, mode) })
		})
	}
}

func testLoginAuthorize(t *testing.T, mode redisMode) {
	env := newModeEnv(t, mode)
	ctx := context.Background()

	pair, err := login(t, env, testenv.Password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !env.Engine.Authorize(ctx, pair.AccessToken, testenv.PermOrdersRead) {
		t.Fatal("expected orders.read to be granted")
	}
	if env.Engine.Authorize(ctx, pair.AccessToken, testenv.PermOrdersWrite) {
		t.Fatal("orders.write must be denied")
	}
	if !env.Engine.AuthorizeURL(ctx, pair.AccessToken, "/api/orders/42/lines") {
		t.Fatal("expected URL access under /api/orders/**")
	}
	if env.Engine.AuthorizeURL(ctx, pair.AccessToken, "/api/invoices") {
		t.Fatal("URL outside the granted pattern must be denied")
	}
}

func testRefreshReplay(t *testing.T, mode redisMode) {
	env := newModeEnv(t, mode)
	ctx := context.Background()

	pair, err := login(t, env, testenv.Password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	next, err := env.Engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh must mint a new refresh token")
	}
	if _, err := env.Engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, credgate.ErrRevoked) {
		t.Fatalf("replayed refresh: expected ErrRevoked, got %v", err)
	}
	if _, err := env.Engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("rotated refresh token should work: %v", err)
	}
}

func testLogoutAll(t *testing.T, mode redisMode) {
	env := newModeEnv(t, mode)
	ctx := context.Background()

	first, err := login(t, env, testenv.Password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := login(t, env, testenv.Password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := env.Engine.LogoutAll(ctx, testenv.AliceID); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	for _, token := range []string{first.AccessToken, second.AccessToken} {
		if _, err := env.Engine.Authenticate(ctx, token); !errors.Is(err, credgate.ErrRevoked) {
			t.Fatalf("expected ErrRevoked after LogoutAll, got %v", err)
		}
	}
	if _, err := env.Engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, credgate.ErrRevoked) {
		t.Fatalf("refresh after LogoutAll: expected ErrRevoked, got %v", err)
	}
}

func testLockout(t *testing.T, mode redisMode) {
	env := newModeEnv(t, mode)

	for i := 0; i < 5; i++ {
		if _, err := login(t, env, "not-the-password"); !errors.Is(err, credgate.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := login(t, env, testenv.Password); !errors.Is(err, credgate.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if err := env.Engine.Unlock(context.Background(), "alice"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := env.Engine.UnlockAddress(context.Background(), "198.51.100.7"); err != nil {
		t.Fatalf("UnlockAddress: %v", err)
	}
	if _, err := login(t, env, testenv.Password); err != nil {
		t.Fatalf("login after unlock: %v", err)
	}
}

func testPermissionInvalidation(t *testing.T, mode redisMode) {
	env := newModeEnv(t, mode)
	ctx := context.Background()

	pair, err := login(t, env, testenv.Password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !env.Engine.Authorize(ctx, pair.AccessToken, testenv.PermOrdersRead) {
		t.Fatal("expected grant before role change")
	}
	if err := env.Engine.Permissions().SetRoleEnabled(ctx, 10, false); err != nil {
		t.Fatalf("SetRoleEnabled: %v", err)
	}
	if env.Engine.Authorize(ctx, pair.AccessToken, testenv.PermOrdersRead) {
		t.Fatal("disabled role must stop granting immediately")
	}
}
