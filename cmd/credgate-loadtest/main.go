package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/password"
	"github.com/MrEthical07/credgate/permission"
	"github.com/MrEthical07/credgate/store/memory"
)

const (
	loadPassword = "load-test-secret"
	permRead     = "orders.read"
)

// principalState tracks the live refresh token of one seeded principal.
type principalState struct {
	id      int64
	name    string
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("credgate-loadtest", pflag.ContinueOnError)
	var (
		principals  = flagSet.Int("principals", 1000, "number of principals to seed")
		concurrency = flagSet.Int("concurrency", 256, "number of concurrent workers")
		ops         = flagSet.Int("ops", 200000, "operations per phase (authorize + refresh)")
		redisAddr   = flagSet.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flagSet.String("prefix", "lt", "redis key prefix")
	)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 {
		return errors.New("principals, concurrency, and ops must be > 0")
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	engine, users, err := buildEngine(client, *prefix)
	if err != nil {
		return err
	}
	defer engine.Close()

	states, err := seed(ctx, engine, users, *principals)
	if err != nil {
		return err
	}

	loginStats := runLoginPhase(ctx, engine, states, min(*ops, 10*(*principals)), *concurrency)
	authorizeStats := runAuthorizePhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("authorize", authorizeStats)
	printStats("refresh", refreshStats)
	return nil
}

func buildEngine(client redis.UniversalClient, prefix string) (*credgate.Engine, *memory.Users, error) {
	cfg := credgate.DefaultConfig()
	cfg.JWT.SigningKey = "credgate-loadtest-signing-key-0123456789"
	cfg.Store.RedisPrefix = prefix
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Lockout.Threshold = 1 << 20

	roles := permission.NewMemoryStore()
	roles.PutPermission(permission.Permission{ID: 1, Code: permRead, Enabled: true})
	roles.PutRole(1, "reader", true, 1)

	users := memory.NewUsers()
	engine, err := credgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(users).
		WithRoleSource(roles).
		WithRoleMutator(roles).
		Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}
	return engine, users, nil
}

func seed(ctx context.Context, engine *credgate.Engine, users *memory.Users, n int) ([]principalState, error) {
	cfg := engine.Config().Password
	argon, err := password.NewArgon2(password.Argon2Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	hash, err := argon.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	fmt.Printf("seeding %d principals...\n", n)
	start := time.Now()
	states := make([]principalState, n)
	for i := range states {
		id := int64(i + 1)
		name := fmt.Sprintf("user-%d", i)
		if err := users.Put(credgate.Principal{ID: id, LoginName: name, SecretHash: hash, Active: true}); err != nil {
			return nil, err
		}
		if err := engine.Permissions().AssignRoles(ctx, id, []int64{1}); err != nil {
			return nil, fmt.Errorf("assign roles: %w", err)
		}
		pair, err := engine.Login(ctx, credgate.LoginRequest{Identity: name, Secret: loadPassword})
		if err != nil {
			return nil, fmt.Errorf("seed login %s: %w", name, err)
		}
		states[i] = principalState{id: id, name: name, access: pair.AccessToken, refresh: pair.RefreshToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return states, nil
}

// runPhase drives op from concurrency workers until ops calls have been made.
func runPhase(ops, concurrency int, salt int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*salt))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func runLoginPhase(ctx context.Context, engine *credgate.Engine, states []principalState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 4099, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		_, err := engine.Login(ctx, credgate.LoginRequest{Identity: state.name, Secret: loadPassword})
		return err
	})
}

func runAuthorizePhase(ctx context.Context, engine *credgate.Engine, states []principalState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 7919, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		_, err := engine.Check(ctx, state.access, permRead)
		return err
	})
}

func runRefreshPhase(ctx context.Context, engine *credgate.Engine, states []principalState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 6151, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		pair, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return err
		}
		state.access, state.refresh = pair.AccessToken, pair.RefreshToken
		return nil
	})
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
