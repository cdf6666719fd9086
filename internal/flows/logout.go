package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/credgate/jwt"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	// Decode must verify the signature but tolerate a past exp.
	Decode          func(string) (*jwt.Claims, error)
	Revoke          func(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	RevokePrincipal func(ctx context.Context, principalID int64, cutoff time.Time) error
	Now             Clock
	// Leeway is the decode tolerance past exp; markers outlive exp by this much.
	Leeway time.Duration
}

// LogoutResult reports what a logout touched.
type LogoutResult struct {
	Claims  *jwt.Claims
	Revoked bool
	Err     error
	// DecodeErr is set when the token itself was unusable.
	DecodeErr error
}

// RunLogout revokes the presented token for its remaining lifetime. An already
// expired token needs no marker and succeeds without touching the store.
func RunLogout(ctx context.Context, token string, deps LogoutDeps) LogoutResult {
	claims, err := deps.Decode(token)
	if err != nil {
		return LogoutResult{DecodeErr: err}
	}
	remaining := markerTTL(claims, deps.Now(), deps.Leeway)
	if remaining <= 0 {
		return LogoutResult{Claims: claims}
	}
	created, err := deps.Revoke(ctx, claims.ID, remaining)
	return LogoutResult{Claims: claims, Revoked: created, Err: err}
}

// markerTTL is how long a revocation marker must live for the token to stay
// rejected: until exp plus the decode leeway.
func markerTTL(claims *jwt.Claims, now time.Time, leeway time.Duration) time.Duration {
	return claims.Remaining(now.Add(-leeway))
}

// RunLogoutAll revokes every token issued to principalID up to now.
func RunLogoutAll(ctx context.Context, principalID int64, deps LogoutDeps) error {
	return deps.RevokePrincipal(ctx, principalID, deps.Now())
}
