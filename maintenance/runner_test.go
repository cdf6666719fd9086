package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MrEthical07/credgate/loginlog"
)

type countingSweeper struct {
	calls atomic.Int64
	err   error
}

func (s *countingSweeper) SweepExpired(context.Context) (int64, error) {
	s.calls.Add(1)
	return 2, s.err
}

func TestRunOncePurgesOldLoginLogs(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	store, err := loginlog.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()
	for _, at := range []time.Time{now.Add(-100 * 24 * time.Hour), now.Add(-time.Hour)} {
		if err := store.Append(ctx, loginlog.Entry{Action: loginlog.ActionLogin, Identity: "alice", Outcome: loginlog.OutcomeSuccess, OccurredAt: at}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	sweeper := &countingSweeper{}
	r, err := New(Config{Interval: time.Minute, Retention: 90 * 24 * time.Hour}, sweeper, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := r.RunOnce(ctx)
	if res.Err() != nil {
		t.Fatalf("RunOnce: %v", res.Err())
	}
	if res.Swept != 2 || res.Purged != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	left, err := store.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(left) != 1 {
		t.Fatalf("expected 1 entry left, got %d", len(left))
	}
}

func TestRunOnceContinuesAfterSweepFailure(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("redis down")}
	r, err := New(Config{Interval: time.Minute}, sweeper, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if res := r.RunOnce(context.Background()); res.SweepErr == nil || res.Err() == nil {
		t.Fatalf("expected sweep error, got %+v", res)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sweeper := &countingSweeper{}
	r, err := New(Config{Interval: 10 * time.Millisecond}, sweeper, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("runner did not tick, calls=%d", sweeper.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNewRejectsZeroInterval(t *testing.T) {
	if _, err := New(Config{}, nil, nil, nil); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
