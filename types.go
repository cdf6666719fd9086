package credgate

import (
	"context"
	"time"

	"github.com/MrEthical07/credgate/jwt"
)

// Principal is an authenticatable user record as seen by the engine.
type Principal struct {
	ID         int64  `json:"id"`
	LoginName  string `json:"login_name"`
	SecretHash string `json:"-"`
	Active     bool   `json:"active"`
}

// UserStore resolves principals. Unknown principals must yield ErrPrincipalNotFound
// (optionally wrapped); any other error is treated as a dependency failure.
type UserStore interface {
	FindByLoginName(ctx context.Context, loginName string) (*Principal, error)
	FindByID(ctx context.Context, id int64) (*Principal, error)
}

// SecretUpdater is an optional UserStore extension used to rewrite stale password
// hashes after a successful login.
type SecretUpdater interface {
	UpdateSecretHash(ctx context.Context, principalID int64, hash string) error
}

// StatusUpdater is an optional UserStore extension used by SetPrincipalActive.
type StatusUpdater interface {
	SetActive(ctx context.Context, principalID int64, active bool) error
}

// LoginRequest is one credential submission.
type LoginRequest struct {
	Identity   string
	Secret     string
	SourceAddr string
	UserAgent  string
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	PrincipalID      int64     `json:"principal_id"`
}

// Introspection describes a token in the shape of RFC 7662 responses.
type Introspection struct {
	Active      bool          `json:"active"`
	PrincipalID int64         `json:"uid,omitempty"`
	Subject     string        `json:"sub,omitempty"`
	Kind        jwt.Kind      `json:"token_type,omitempty"`
	TokenID     string        `json:"jti,omitempty"`
	IssuedAt    time.Time     `json:"iat,omitempty"`
	ExpiresAt   time.Time     `json:"exp,omitempty"`
	Remaining   time.Duration `json:"-"`
	// Reason is set when Active is false: invalid, expired or revoked.
	Reason string `json:"reason,omitempty"`
}

// LockoutStatus reports the attempt counter for one login name or address.
type LockoutStatus struct {
	Failures   int64         `json:"failures"`
	Threshold  int           `json:"threshold"`
	Locked     bool          `json:"locked"`
	RetryAfter time.Duration `json:"retry_after"`
}
