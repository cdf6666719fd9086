package credgate

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/credgate/jwt"
)

var (
	// ErrInvalidCredentials covers unknown identities, wrong secrets and disabled principals.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the login name or source address is locked out.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidToken aliases jwt.ErrInvalidToken so callers can match either.
	ErrInvalidToken = jwt.ErrInvalidToken
	// ErrTokenExpired aliases jwt.ErrTokenExpired.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrRevoked is returned for revoked tokens and for replayed refresh tokens.
	ErrRevoked = errors.New("token revoked")
	// ErrDependencyUnavailable wraps backing store failures. The operation was denied.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrPermissionDenied is returned by Check when the principal lacks the grant.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrPrincipalNotFound must be returned by UserStore lookups for unknown principals.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrUnsupported is returned when an optional collaborator was not configured.
	ErrUnsupported = errors.New("operation not supported by configured stores")
)

func unavailable(err error) error {
	if err == nil {
		return ErrDependencyUnavailable
	}
	return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
}
