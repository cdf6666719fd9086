package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevokedToken is one revocation marker. Rows are hard-deleted by SweepExpired once
// ExpiresAt has passed.
type RevokedToken struct {
	ID        uint      `gorm:"primarykey"`
	JTI       string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_revoked_tokens_jti"`
	RevokedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index:idx_revoked_tokens_expires"`
}

func (RevokedToken) TableName() string {
	return "revoked_tokens"
}

// PrincipalCutoff revokes every token of a principal issued at or before CutoffAt.
type PrincipalCutoff struct {
	PrincipalID int64     `gorm:"primaryKey;autoIncrement:false"`
	CutoffAt    time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null;index:idx_principal_cutoffs_expires"`
}

func (PrincipalCutoff) TableName() string {
	return "principal_revocations"
}

// SQLStore persists revocation markers through gorm. It suits deployments that keep
// the revocation list next to the user database instead of in Redis.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore migrates the revocation tables and returns the store. now may be nil.
func NewSQLStore(db *gorm.DB, now func() time.Time) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("revocation: nil gorm handle")
	}
	if now == nil {
		now = time.Now
	}
	if err := db.AutoMigrate(&RevokedToken{}, &PrincipalCutoff{}); err != nil {
		return nil, fmt.Errorf("revocation: migrate: %w", err)
	}
	return &SQLStore{db: db, now: now}, nil
}

func (s *SQLStore) clock() time.Time {
	return s.now().UTC()
}

func (s *SQLStore) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if jti == "" {
		return false, errors.New("empty jti")
	}
	if ttl <= 0 {
		return false, nil
	}

	now := s.clock()
	row := RevokedToken{JTI: jti, RevokedAt: now, ExpiresAt: now.Add(ttl)}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "jti"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *SQLStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&RevokedToken{}).
		Where("jti = ? AND expires_at > ?", jti, s.clock()).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *SQLStore) RevokePrincipal(ctx context.Context, principalID int64, cutoff time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("principal revocation ttl must be > 0")
	}
	row := PrincipalCutoff{
		PrincipalID: principalID,
		CutoffAt:    cutoff.UTC(),
		ExpiresAt:   s.clock().Add(ttl),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "principal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cutoff_at", "expires_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore) Check(ctx context.Context, jti string, principalID int64, issuedAt time.Time) (bool, error) {
	revoked, err := s.IsRevoked(ctx, jti)
	if err != nil || revoked {
		return revoked, err
	}

	var rows []PrincipalCutoff
	err = s.db.WithContext(ctx).
		Where("principal_id = ? AND expires_at > ?", principalID, s.clock()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	return cutoffCovers(rows[0].CutoffAt, issuedAt), nil
}

// SweepExpired deletes markers and cutoffs whose tokens can no longer be valid.
func (s *SQLStore) SweepExpired(ctx context.Context) (int64, error) {
	now := s.clock()
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("expires_at <= ?", now).Delete(&RevokedToken{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		res = tx.Where("expires_at <= ?", now).Delete(&PrincipalCutoff{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed, nil
}
