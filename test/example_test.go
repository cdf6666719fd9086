package test

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/permission"
	"github.com/MrEthical07/credgate/store/memory"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	cfg := credgate.DefaultConfig()
	cfg.JWT.SigningKey = "replace-with-a-32-byte-or-longer-secret"

	roles := permission.NewMemoryStore()
	roles.PutPermission(permission.Permission{ID: 1, Code: "orders.read", Enabled: true})
	roles.PutRole(1, "clerk", true, 1)

	engine, _ := credgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.NewUsers()).
		WithRoleSource(roles).
		WithRoleMutator(roles).
		Build()
	_ = engine
}

// ExampleEngine_Login shows a typical login entrypoint call and structured error handling.
func ExampleEngine_Login() {
	var engine *credgate.Engine
	_, err := engine.Login(context.Background(), credgate.LoginRequest{
		Identity:   "alice",
		Secret:     "correct-horse-1",
		SourceAddr: "203.0.113.9",
	})
	switch {
	case errors.Is(err, credgate.ErrAccountLocked):
		fmt.Println("locked")
	case errors.Is(err, credgate.ErrDependencyUnavailable), errors.Is(err, credgate.ErrEngineNotReady):
		fmt.Println("try again later")
	case err != nil:
		fmt.Println("denied")
	}
	// Output: try again later
}

// ExampleEngine_Authorize checks a permission code against an access token.
func ExampleEngine_Authorize() {
	var engine *credgate.Engine
	if !engine.Authorize(context.Background(), "access-token", "orders.read") {
		fmt.Println("forbidden")
	}
	// Output: forbidden
}
