// Package testenv builds a fully wired Engine over miniredis and in-memory stores
// for tests outside the root package.
package testenv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/loginlog"
	"github.com/MrEthical07/credgate/password"
	"github.com/MrEthical07/credgate/permission"
	"github.com/MrEthical07/credgate/store/memory"
)

// Seeded principals and grants.
const (
	Password = "correct-horse-1"

	AliceID int64 = 1
	BobID   int64 = 2

	PermOrdersRead  = "orders.read"
	PermOrdersWrite = "orders.write"
	OrdersURL       = "/api/orders/**"
)

type Env struct {
	Engine *credgate.Engine
	Mini   *miniredis.Miniredis
	Redis  *redis.Client
	Users  *memory.Users
	Roles  *permission.MemoryStore
	Log    *loginlog.ChannelWriter
}

// Config returns a valid configuration with cheap argon2 parameters.
func Config() credgate.Config {
	cfg := credgate.DefaultConfig()
	cfg.JWT.SigningKey = "testenv-signing-key-testenv-signing"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Store.OperationTimeout = time.Second
	cfg.Store.WriteRetries = 1
	cfg.Store.WriteRetryMaxElapsed = 100 * time.Millisecond
	return cfg
}

// HashPassword hashes secret with the parameters of Config.
func HashPassword(t testing.TB, secret string) string {
	t.Helper()
	cfg := Config().Password
	argon, err := password.NewArgon2(password.Argon2Config{
		Memory: cfg.Memory, Time: cfg.Time, Parallelism: cfg.Parallelism,
		SaltLength: cfg.SaltLength, KeyLength: cfg.KeyLength,
	})
	if err != nil {
		t.Fatalf("argon2: %v", err)
	}
	hash, err := argon.Hash(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return hash
}

// New starts miniredis and builds an engine with alice (active, role clerk with
// orders.read on /api/orders/**) and bob (disabled).
func New(t testing.TB, mutate ...func(*credgate.Config)) *Env {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewWithRedis(t, rdb, mr, mutate...)
}

// NewWithRedis builds the environment on an existing client. mr may be nil.
func NewWithRedis(t testing.TB, rdb *redis.Client, mr *miniredis.Miniredis, mutate ...func(*credgate.Config)) *Env {
	t.Helper()
	cfg := Config()
	for _, m := range mutate {
		m(&cfg)
	}

	hash := HashPassword(t, Password)
	users := memory.NewUsers()
	_ = users.Put(credgate.Principal{ID: AliceID, LoginName: "alice", SecretHash: hash, Active: true})
	_ = users.Put(credgate.Principal{ID: BobID, LoginName: "bob", SecretHash: hash, Active: false})

	roles := permission.NewMemoryStore()
	roles.PutPermission(permission.Permission{ID: 1, Code: PermOrdersRead, Enabled: true,
		Resource: permission.Resource{Type: permission.ResourceAPI, URL: OrdersURL}})
	roles.PutPermission(permission.Permission{ID: 2, Code: PermOrdersWrite, Enabled: true})
	roles.PutRole(10, "clerk", true, 1)

	logs := loginlog.NewChannelWriter(1024)
	engine, err := credgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithRoleSource(roles).
		WithRoleMutator(roles).
		WithLoginLog(logs).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	if err := engine.Permissions().AssignRoles(context.Background(), AliceID, []int64{10}); err != nil {
		t.Fatalf("assign roles: %v", err)
	}
	return &Env{Engine: engine, Mini: mr, Redis: rdb, Users: users, Roles: roles, Log: logs}
}

// Login signs alice in and fails the test on error.
func (e *Env) Login(t testing.TB) *credgate.TokenPair {
	t.Helper()
	pair, err := e.Engine.Login(context.Background(), credgate.LoginRequest{
		Identity:   "alice",
		Secret:     Password,
		SourceAddr: "192.0.2.10",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return pair
}
