package permission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingSource struct {
	inner Source
	calls atomic.Int64
	fail  atomic.Bool
}

func (s *countingSource) RolesForPrincipal(ctx context.Context, id int64) ([]Role, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, errors.New("db down")
	}
	return s.inner.RolesForPrincipal(ctx, id)
}

func seedStore() *MemoryStore {
	m := NewMemoryStore()
	m.PutPermission(Permission{ID: 1, Code: "orders.read", Enabled: true, Resource: Resource{Type: ResourceAPI, URL: "/orders/**"}})
	m.PutPermission(Permission{ID: 2, Code: "orders.write", Enabled: true})
	m.PutPermission(Permission{ID: 3, Code: "admin.panel", Enabled: true, Resource: Resource{Type: ResourceMenu, URL: "/admin"}})
	m.PutRole(10, "clerk", true, 1, 2)
	m.PutRole(20, "admin", true, 3)
	_ = m.AssignRoles(context.Background(), 100, []int64{10})
	_ = m.AssignRoles(context.Background(), 200, []int64{10, 20})
	return m
}

func newCachedResolver(t *testing.T) (*Resolver, *countingSource, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cache, err := NewRedisCache(rdb, RedisCacheConfig{Prefix: "t"})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	store := seedStore()
	src := &countingSource{inner: store}
	r, err := NewResolver(src, WithCache(cache), WithMutator(store))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r, src, mr
}

func TestPermissionsForUsesCache(t *testing.T) {
	r, src, _ := newCachedResolver(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := r.HasPermission(ctx, 100, "orders.read")
		if err != nil || !ok {
			t.Fatalf("expected orders.read, got %v err=%v", ok, err)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected one source load, got %d", got)
	}

	ok, err := r.HasURLAccess(ctx, 100, "/orders/7")
	if err != nil || !ok {
		t.Fatalf("expected url access from cached set, got %v err=%v", ok, err)
	}
	ok, err = r.HasURLAccess(ctx, 100, "/admin")
	if err != nil || ok {
		t.Fatalf("clerk must not reach /admin, got %v err=%v", ok, err)
	}
}

func TestInvalidateThenReadIsFresh(t *testing.T) {
	r, _, _ := newCachedResolver(t)
	ctx := context.Background()

	ok, _ := r.HasPermission(ctx, 100, "admin.panel")
	if ok {
		t.Fatal("clerk should not start with admin.panel")
	}
	if err := r.AssignRoles(ctx, 100, []int64{10, 20}); err != nil {
		t.Fatalf("assign roles: %v", err)
	}
	ok, err := r.HasPermission(ctx, 100, "admin.panel")
	if err != nil || !ok {
		t.Fatalf("expected grant to be visible immediately, got %v err=%v", ok, err)
	}
}

func TestRoleMutationInvalidatesHolders(t *testing.T) {
	r, _, _ := newCachedResolver(t)
	ctx := context.Background()

	for _, id := range []int64{100, 200} {
		if ok, _ := r.HasPermission(ctx, id, "orders.write"); !ok {
			t.Fatalf("principal %d should hold orders.write", id)
		}
	}
	if err := r.SetRolePermissions(ctx, 10, []int64{1}); err != nil {
		t.Fatalf("set role permissions: %v", err)
	}
	for _, id := range []int64{100, 200} {
		if ok, _ := r.HasPermission(ctx, id, "orders.write"); ok {
			t.Fatalf("principal %d kept a revoked grant", id)
		}
	}

	if err := r.SetRoleEnabled(ctx, 20, false); err != nil {
		t.Fatalf("disable role: %v", err)
	}
	if ok, _ := r.HasURLAccess(ctx, 200, "/admin"); ok {
		t.Fatal("disabled role must stop granting access")
	}
}

func TestPermissionToggleInvalidatesAll(t *testing.T) {
	r, _, _ := newCachedResolver(t)
	ctx := context.Background()

	if ok, _ := r.HasPermission(ctx, 100, "orders.read"); !ok {
		t.Fatal("expected orders.read")
	}
	if err := r.SetPermissionEnabled(ctx, 1, false); err != nil {
		t.Fatalf("disable permission: %v", err)
	}
	if ok, _ := r.HasPermission(ctx, 100, "orders.read"); ok {
		t.Fatal("disabled permission still granted")
	}
	if ok, _ := r.HasPermission(ctx, 200, "orders.read"); ok {
		t.Fatal("disabled permission still granted to second principal")
	}
}

func TestStaleFillIsRejected(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cache, err := NewRedisCache(rdb, RedisCacheConfig{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()

	_, stamp, err := cache.Load(ctx, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cache.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	stored, err := cache.Store(ctx, 1, stamp, Resolve(nil))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if stored {
		t.Fatal("fill computed before invalidation must not be stored")
	}

	_, stamp, _ = cache.Load(ctx, 1)
	if err := cache.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if stored, _ := cache.Store(ctx, 1, stamp, Resolve(nil)); stored {
		t.Fatal("fill computed before epoch bump must not be stored")
	}
}

func TestCacheFailureFallsBackToSource(t *testing.T) {
	r, src, mr := newCachedResolver(t)
	mr.Close()

	ok, err := r.HasPermission(context.Background(), 100, "orders.read")
	if err != nil || !ok {
		t.Fatalf("expected source fallback, got %v err=%v", ok, err)
	}
	if src.calls.Load() == 0 {
		t.Fatal("source should have been consulted")
	}
}

func TestSourceFailureDenies(t *testing.T) {
	r, src, _ := newCachedResolver(t)
	src.fail.Store(true)

	ok, err := r.HasPermission(context.Background(), 100, "orders.read")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if ok {
		t.Fatal("source failure must deny")
	}
}

func TestConcurrentMissesCollapse(t *testing.T) {
	r, src, _ := newCachedResolver(t)
	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := r.PermissionsFor(context.Background(), 200); err != nil {
				t.Errorf("permissions for: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := src.calls.Load(); got < 1 || got > n {
		t.Fatalf("unexpected source load count %d", got)
	}
}

type gatedSource struct {
	inner   Source
	calls   atomic.Int64
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSource) RolesForPrincipal(ctx context.Context, id int64) ([]Role, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.inner.RolesForPrincipal(ctx, id)
}

func TestCancelledCallerDoesNotAbortSharedFill(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache, err := NewRedisCache(rdb, RedisCacheConfig{Prefix: "t"})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	src := &gatedSource{inner: seedStore(), entered: make(chan struct{}), release: make(chan struct{})}
	r, err := NewResolver(src, WithCache(cache), WithFillTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.PermissionsFor(ctx, 100)
		leaderErr <- err
	}()
	<-src.entered

	followerErr := make(chan error, 1)
	go func() {
		ok, err := r.HasPermission(context.Background(), 100, "orders.read")
		if err == nil && !ok {
			err = errors.New("permission missing")
		}
		followerErr <- err
	}()

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) || !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("cancelled caller should see its own cancellation, got %v", err)
	}
	close(src.release)

	if err := <-followerErr; err != nil {
		t.Fatalf("joined caller must not inherit the cancellation: %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected a single source load, got %d", got)
	}
}

func TestResolverWithoutMutatorIsReadOnly(t *testing.T) {
	r, err := NewResolver(seedStore())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	if err := r.AssignRoles(context.Background(), 1, nil); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	ok, err := r.HasPermission(context.Background(), 200, "admin.panel")
	if err != nil || !ok {
		t.Fatalf("uncached resolver should still resolve, got %v err=%v", ok, err)
	}
}
