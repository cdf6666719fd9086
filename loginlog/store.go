package loginlog

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Record is the gorm row for an Entry.
type Record struct {
	ID          string    `gorm:"primaryKey;type:char(26)"`
	Action      string    `gorm:"type:varchar(16);not null"`
	Identity    string    `gorm:"type:varchar(255);index:idx_login_logs_identity"`
	PrincipalID int64     `gorm:"index:idx_login_logs_principal"`
	SourceAddr  string    `gorm:"type:varchar(64)"`
	UserAgent   string    `gorm:"type:varchar(512)"`
	Outcome     string    `gorm:"type:varchar(16);not null"`
	Reason      string    `gorm:"type:varchar(64)"`
	OccurredAt  time.Time `gorm:"not null;index:idx_login_logs_occurred"`
}

func (Record) TableName() string {
	return "login_logs"
}

func (r Record) entry() Entry {
	return Entry{
		ID:          r.ID,
		Action:      Action(r.Action),
		Identity:    r.Identity,
		PrincipalID: r.PrincipalID,
		SourceAddr:  r.SourceAddr,
		UserAgent:   r.UserAgent,
		Outcome:     Outcome(r.Outcome),
		Reason:      r.Reason,
		OccurredAt:  r.OccurredAt,
	}
}

// Store appends entries to a SQL table through gorm.
type Store struct {
	db *gorm.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var _ Writer = (*Store)(nil)

// NewStore migrates the login_logs table and returns the store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("loginlog: nil gorm handle")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("loginlog: migrate: %w", err)
	}
	return &Store{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}, nil
}

func (s *Store) newID(at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Append inserts entry. A missing OccurredAt is set to now; a missing ID is a new ULID.
func (s *Store) Append(ctx context.Context, entry Entry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	entry.OccurredAt = entry.OccurredAt.UTC()
	if entry.ID == "" {
		id, err := s.newID(entry.OccurredAt)
		if err != nil {
			return fmt.Errorf("loginlog: id: %w", err)
		}
		entry.ID = id
	}
	row := Record{
		ID:          entry.ID,
		Action:      string(entry.Action),
		Identity:    strings.TrimSpace(entry.Identity),
		PrincipalID: entry.PrincipalID,
		SourceAddr:  entry.SourceAddr,
		UserAgent:   truncate(entry.UserAgent, 512),
		Outcome:     string(entry.Outcome),
		Reason:      entry.Reason,
		OccurredAt:  entry.OccurredAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("loginlog: append: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for identity, newest first.
func (s *Store) Recent(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Record
	err := s.db.WithContext(ctx).
		Where("identity = ?", strings.TrimSpace(identity)).
		Order("occurred_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loginlog: recent: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

// PurgeBefore deletes entries that occurred before cutoff and returns the count.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("occurred_at < ?", cutoff.UTC()).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("loginlog: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
