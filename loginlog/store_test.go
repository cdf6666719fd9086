package loginlog

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newStore(t *testing.T) *Store {
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

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStoreAppendAssignsULIDAndRecentOrders(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, outcome := range []Outcome{OutcomeFailure, OutcomeFailure, OutcomeSuccess} {
		err := s.Append(ctx, Entry{
			Action:     ActionLogin,
			Identity:   "u:alice",
			SourceAddr: "10.0.0.1",
			Outcome:    outcome,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := s.Append(ctx, Entry{Action: ActionLogin, Identity: "u:bob", Outcome: OutcomeLocked, OccurredAt: base}); err != nil {
		t.Fatalf("append bob: %v", err)
	}

	got, err := s.Recent(ctx, "u:alice", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Outcome != OutcomeSuccess {
		t.Fatalf("expected newest first, got %+v", got[0])
	}
	for _, e := range got {
		if _, err := ulid.ParseStrict(e.ID); err != nil {
			t.Fatalf("id %q is not a ULID: %v", e.ID, err)
		}
	}
}

func TestStorePurgeBefore(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, time.Hour} {
		if err := s.Append(ctx, Entry{Action: ActionLogin, Identity: "u:carol", Outcome: OutcomeSuccess, OccurredAt: now.Add(-age)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	removed, err := s.PurgeBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 purged, got %d", removed)
	}
	left, err := s.Recent(ctx, "u:carol", 0)
	if err != nil || len(left) != 1 {
		t.Fatalf("expected one remaining entry, got %d err=%v", len(left), err)
	}
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)
	if err := w.Append(context.Background(), Entry{Action: ActionLogout, PrincipalID: 7, Outcome: OutcomeSuccess}); err != nil {
		t.Fatalf("append: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["action"] != "logout" || decoded["principal_id"] != float64(7) {
		t.Fatalf("unexpected json %v", decoded)
	}
}
