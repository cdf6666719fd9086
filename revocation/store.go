package revocation

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every backend failure.
var ErrUnavailable = errors.New("revocation store unavailable")

// Store is the revocation backend contract.
type Store interface {
	// Revoke marks jti revoked for ttl. It reports whether this call created the
	// marker; a second call for the same jti returns false with no error. A
	// non-positive ttl is a no-op.
	Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	// IsRevoked reports whether a live marker exists for jti.
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// RevokePrincipal revokes every token of principalID issued at or before cutoff.
	// ttl should cover the longest token lifetime.
	RevokePrincipal(ctx context.Context, principalID int64, cutoff time.Time, ttl time.Duration) error
	// Check combines IsRevoked with the principal cutoff in as few round trips as the
	// backend allows.
	Check(ctx context.Context, jti string, principalID int64, issuedAt time.Time) (bool, error)
	// SweepExpired drops or repairs markers that outlived their token and returns how
	// many were touched.
	SweepExpired(ctx context.Context) (int64, error)
}

func cutoffCovers(cutoff, issuedAt time.Time) bool {
	if cutoff.IsZero() {
		return false
	}
	// Cutoffs keep millisecond precision. A token minted in the cutoff millisecond,
	// or one carrying only a second-precision iat in the cutoff second, counts as revoked.
	return !issuedAt.After(cutoff.Truncate(time.Millisecond))
}
