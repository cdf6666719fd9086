package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credgate/jwt"
)

// RefreshFailureKind classifies refresh failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureWrongKind
	RefreshFailureRevoked
	RefreshFailureStoreUnavailable
	RefreshFailureLookupUnavailable
	RefreshFailureInactive
	RefreshFailureIssue
)

// RefreshResult carries either the new pair or failure metadata.
type RefreshResult struct {
	Failure     RefreshFailureKind
	Err         error
	PrincipalID int64
	Pair        Pair
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Decode func(string) (*jwt.Claims, error)
	Check  RevocationCheck
	// Claim revokes jti for ttl and reports whether this caller revoked it first.
	Claim func(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	// LoadPrincipal is optional; when set, inactive principals cannot refresh.
	LoadPrincipal func(ctx context.Context, id int64) (*Principal, error)
	NotFound      error
	Now           Clock
	Leeway        time.Duration
	Mint          TokenIssuer
}

// RunRefresh rotates a refresh token. The presented token is revoked before the new
// pair is minted, so concurrent replays of one token produce a single success.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.Decode(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}
	res := RefreshResult{PrincipalID: claims.UID}
	if claims.Kind != jwt.KindRefresh {
		res.Failure = RefreshFailureWrongKind
		return res
	}

	revoked, err := deps.Check(ctx, claims)
	if err != nil {
		res.Failure, res.Err = RefreshFailureStoreUnavailable, err
		return res
	}
	if revoked {
		res.Failure = RefreshFailureRevoked
		return res
	}

	subject := claims.Subject
	if deps.LoadPrincipal != nil {
		p, err := deps.LoadPrincipal(ctx, claims.UID)
		switch {
		case err != nil && deps.NotFound != nil && errors.Is(err, deps.NotFound):
			res.Failure = RefreshFailureInactive
			return res
		case err != nil:
			res.Failure, res.Err = RefreshFailureLookupUnavailable, err
			return res
		case p == nil || !p.Active:
			res.Failure = RefreshFailureInactive
			return res
		}
		subject = p.LoginName
	}

	claimed, err := deps.Claim(ctx, claims.ID, markerTTL(claims, deps.Now(), deps.Leeway))
	if err != nil {
		res.Failure, res.Err = RefreshFailureStoreUnavailable, err
		return res
	}
	if !claimed {
		res.Failure = RefreshFailureRevoked
		return res
	}

	pair, err := issuePair(deps.Mint, claims.UID, subject)
	if err != nil {
		res.Failure, res.Err = RefreshFailureIssue, err
		return res
	}
	res.Pair = pair
	return res
}
