//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/internal/testenv"
)

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (*redis.Client, *miniredis.Miniredis)
}

// redisModes returns the Redis backends to test. miniredis is always available;
// a real server is added when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes() []redisMode {
	modes := []redisMode{{
		name: "miniredis",
		setup: func(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
			t.Helper()
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis: %v", err)
			}
			t.Cleanup(mr.Close)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
			t.Cleanup(func() { _ = rdb.Close() })
			return rdb, mr
		},
	}}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				// Flush the test DB to avoid state leaking between runs.
				rdb.FlushDB(context.Background())
				t.Cleanup(func() { rdb.FlushDB(context.Background()); _ = rdb.Close() })
				return rdb, nil
			},
		})
	}
	return modes
}

func newModeEnv(t *testing.T, mode redisMode, mutate ...func(*credgate.Config)) *testenv.Env {
	t.Helper()
	rdb, mr := mode.setup(t)
	return testenv.NewWithRedis(t, rdb, mr, mutate...)
}

func login(t *testing.T, env *testenv.Env, secret string) (*credgate.TokenPair, error) {
	t.Helper()
	return env.Engine.Login(context.Background(), credgate.LoginRequest{
		Identity:   "alice",
		Secret:     secret,
		SourceAddr: "198.51.100.7",
	})
}
