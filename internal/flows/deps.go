package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/credgate/jwt"
)

// Deps groups flow dependency sets. The engine builds this once and delegates
// request methods to the matching flow.
type Deps struct {
	Login     LoginDeps
	Refresh   RefreshDeps
	Logout    LogoutDeps
	Authorize AuthorizeDeps
}

// Principal is the flow-local view of a user record.
type Principal struct {
	ID         int64
	LoginName  string
	SecretHash string
	Active     bool
}

// TokenIssuer mints one token. It is satisfied by (*jwt.Codec).Mint.
type TokenIssuer func(principalID int64, subject string, kind jwt.Kind) (string, *jwt.Claims, error)

// Pair is an access/refresh token pair with their claims.
type Pair struct {
	AccessToken   string
	RefreshToken  string
	AccessClaims  *jwt.Claims
	RefreshClaims *jwt.Claims
}

func issuePair(mint TokenIssuer, principalID int64, subject string) (Pair, error) {
	access, accessClaims, err := mint(principalID, subject, jwt.KindAccess)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshClaims, err := mint(principalID, subject, jwt.KindRefresh)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessClaims:  accessClaims,
		RefreshClaims: refreshClaims,
	}, nil
}

// RevocationCheck reports whether the token described by claims is revoked.
type RevocationCheck func(ctx context.Context, claims *jwt.Claims) (bool, error)

// Clock returns the current time.
type Clock func() time.Time
