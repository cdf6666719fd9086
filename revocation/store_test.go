package revocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, RedisConfig{Prefix: "t"}), mr, rdb
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newSQLStore(t *testing.T) (*SQLStore, *testClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := NewSQLStore(db, clock.Now)
	if err != nil {
		t.Fatalf("new sql store: %v", err)
	}
	return store, clock
}

func TestRedisRevokeMembershipAndExpiry(t *testing.T) {
	store, mr, _ := newRedisStore(t)
	ctx := context.Background()

	created, err := store.Revoke(ctx, "jti-1", time.Minute)
	if err != nil || !created {
		t.Fatalf("revoke: created=%v err=%v", created, err)
	}
	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	if ttl := mr.TTL("t:rvk:jti-1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected marker ttl %v", ttl)
	}

	again, err := store.Revoke(ctx, "jti-1", time.Minute)
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if again {
		t.Fatal("second revoke must report existing marker")
	}

	mr.FastForward(61 * time.Second)
	revoked, err = store.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected marker to expire, got %v err=%v", revoked, err)
	}
}

func TestRedisRevokeNonPositiveTTLIsNoOp(t *testing.T) {
	store, mr, _ := newRedisStore(t)
	created, err := store.Revoke(context.Background(), "jti-dead", 0)
	if err != nil || created {
		t.Fatalf("expected no-op, got created=%v err=%v", created, err)
	}
	if mr.Exists("t:rvk:jti-dead") {
		t.Fatal("no marker should be written for an already-expired token")
	}
}

func TestRedisConcurrentRevokeSingleWinner(t *testing.T) {
	store, _, _ := newRedisStore(t)
	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			created, err := store.Revoke(context.Background(), "shared", time.Minute)
			if err != nil {
				t.Errorf("revoke: %v", err)
				return
			}
			if created {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestRedisPrincipalCutoff(t *testing.T) {
	store, _, _ := newRedisStore(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)

	if err := store.RevokePrincipal(ctx, 7, cutoff, time.Hour); err != nil {
		t.Fatalf("revoke principal: %v", err)
	}

	cases := []struct {
		name     string
		uid      int64
		issuedAt time.Time
		want     bool
	}{
		{"before cutoff", 7, cutoff.Add(-time.Minute), true},
		{"same second", 7, cutoff.Truncate(time.Second), true},
		{"same millisecond", 7, cutoff, true},
		{"later in the cutoff second", 7, cutoff.Add(300 * time.Millisecond), false},
		{"after cutoff", 7, cutoff.Add(2 * time.Second), false},
		{"other principal", 8, cutoff.Add(-time.Minute), false},
	}
	for _, tc := range cases {
		got, err := store.Check(ctx, "unrelated", tc.uid, tc.issuedAt)
		if err != nil {
			t.Fatalf("%s: check: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	if _, err := store.Revoke(ctx, "jti-x", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, err := store.Check(ctx, "jti-x", 8, cutoff)
	if err != nil || !got {
		t.Fatalf("expected revoked jti to fail check, got %v err=%v", got, err)
	}
}

func TestRedisSweepRepairsMarkersWithoutTTL(t *testing.T) {
	store, mr, _ := newRedisStore(t)
	if err := mr.Set("t:rvk:orphan", "1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Revoke(context.Background(), "healthy", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	repaired, err := store.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("expected one repaired marker, got %d", repaired)
	}
	if mr.TTL("t:rvk:orphan") <= 0 {
		t.Fatal("orphan marker should now carry a ttl")
	}
}

func TestRedisUnavailable(t *testing.T) {
	store, mr, _ := newRedisStore(t)
	mr.Close()
	if _, err := store.IsRevoked(context.Background(), "jti"); err == nil {
		t.Fatal("expected error when redis is down")
	}
	if _, err := store.Revoke(context.Background(), "jti", time.Minute); err == nil {
		t.Fatal("expected error when redis is down")
	}
}

func TestSQLRevokeMembershipAndSweep(t *testing.T) {
	store, clock := newSQLStore(t)
	ctx := context.Background()

	created, err := store.Revoke(ctx, "jti-1", time.Minute)
	if err != nil || !created {
		t.Fatalf("revoke: created=%v err=%v", created, err)
	}
	again, err := store.Revoke(ctx, "jti-1", time.Minute)
	if err != nil || again {
		t.Fatalf("second revoke: created=%v err=%v", again, err)
	}
	if _, err := store.Revoke(ctx, "jti-2", time.Hour); err != nil {
		t.Fatalf("revoke jti-2: %v", err)
	}

	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}

	clock.Advance(2 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expired marker must not count, got %v err=%v", revoked, err)
	}

	removed, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed row, got %d", removed)
	}
	revoked, err = store.IsRevoked(ctx, "jti-2")
	if err != nil || !revoked {
		t.Fatalf("live marker must survive sweep, got %v err=%v", revoked, err)
	}
}

func TestSQLPrincipalCutoff(t *testing.T) {
	store, clock := newSQLStore(t)
	ctx := context.Background()
	cutoff := clock.Now()

	if err := store.RevokePrincipal(ctx, 3, cutoff, time.Hour); err != nil {
		t.Fatalf("revoke principal: %v", err)
	}
	if err := store.RevokePrincipal(ctx, 3, cutoff.Add(time.Minute), time.Hour); err != nil {
		t.Fatalf("revoke principal again: %v", err)
	}

	got, err := store.Check(ctx, "jti", 3, cutoff.Add(30*time.Second))
	if err != nil || !got {
		t.Fatalf("expected token before moved cutoff to be revoked, got %v err=%v", got, err)
	}
	got, err = store.Check(ctx, "jti", 3, cutoff.Add(2*time.Minute))
	if err != nil || got {
		t.Fatalf("expected later token to be live, got %v err=%v", got, err)
	}

	clock.Advance(2 * time.Hour)
	got, err = store.Check(ctx, "jti", 3, cutoff)
	if err != nil || got {
		t.Fatalf("expired cutoff must not apply, got %v err=%v", got, err)
	}
	removed, err := store.SweepExpired(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("expected cutoff row swept, removed=%d err=%v", removed, err)
	}
}
