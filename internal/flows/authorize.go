package flows

import (
	"context"

	"github.com/MrEthical07/credgate/jwt"
)

// AuthFailureKind classifies authentication/authorization failures.
type AuthFailureKind int

const (
	AuthFailureNone AuthFailureKind = iota
	AuthFailureDecode
	AuthFailureWrongKind
	AuthFailureRevoked
	AuthFailureStoreUnavailable
	AuthFailureResolverUnavailable
	AuthFailureDenied
)

// AuthResult is the outcome of authenticating an access token and optionally
// checking a grant.
type AuthResult struct {
	Failure AuthFailureKind
	Err     error
	Claims  *jwt.Claims
}

// Allowed reports whether the request may proceed.
func (r AuthResult) Allowed() bool {
	return r.Failure == AuthFailureNone
}

// AuthorizeDeps captures authentication and authorization dependencies.
type AuthorizeDeps struct {
	Decode func(string) (*jwt.Claims, error)
	Check  RevocationCheck
}

// Grant decides whether a principal may proceed.
type Grant func(ctx context.Context, principalID int64) (bool, error)

// RunAuthenticate requires a live access token.
func RunAuthenticate(ctx context.Context, token string, deps AuthorizeDeps) AuthResult {
	claims, err := deps.Decode(token)
	if err != nil {
		return AuthResult{Failure: AuthFailureDecode, Err: err}
	}
	if claims.Kind != jwt.KindAccess {
		return AuthResult{Failure: AuthFailureWrongKind, Claims: claims}
	}
	revoked, err := deps.Check(ctx, claims)
	if err != nil {
		return AuthResult{Failure: AuthFailureStoreUnavailable, Err: err, Claims: claims}
	}
	if revoked {
		return AuthResult{Failure: AuthFailureRevoked, Claims: claims}
	}
	return AuthResult{Claims: claims}
}

// RunAuthorize authenticates token and then asks grant. Any error denies.
func RunAuthorize(ctx context.Context, token string, grant Grant, deps AuthorizeDeps) AuthResult {
	res := RunAuthenticate(ctx, token, deps)
	if !res.Allowed() {
		return res
	}
	ok, err := grant(ctx, res.Claims.UID)
	if err != nil {
		res.Failure, res.Err = AuthFailureResolverUnavailable, err
		return res
	}
	if !ok {
		res.Failure = AuthFailureDenied
	}
	return res
}
