package flows

import (
	"context"
	"errors"
	"strings"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureLocked
	LoginFailureGateUnavailable
	LoginFailureLookupUnavailable
	LoginFailureCredentials
	LoginFailureDisabled
	LoginFailureIssue
)

// String returns the reason recorded in login logs.
func (k LoginFailureKind) String() string {
	switch k {
	case LoginFailureNone:
		return ""
	case LoginFailureLocked:
		return "locked"
	case LoginFailureGateUnavailable, LoginFailureLookupUnavailable:
		return "dependency_unavailable"
	case LoginFailureCredentials:
		return "invalid_credentials"
	case LoginFailureDisabled:
		return "disabled"
	case LoginFailureIssue:
		return "issue_failed"
	default:
		return "unknown"
	}
}

// LoginInput is one authentication attempt.
type LoginInput struct {
	LoginName  string
	Secret     string
	SourceAddr string
}

// LoginResult carries either the issued pair or failure metadata.
type LoginResult struct {
	Failure     LoginFailureKind
	Err         error
	PrincipalID int64
	Identities  []string
	Pair        Pair
	// TrackingErr is set when a failure could not be recorded after retries.
	TrackingErr error
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	UserIdentity  func(string) string
	AddrIdentity  func(string) string
	AnyLocked     func(ctx context.Context, identities ...string) (bool, error)
	RecordFailure func(ctx context.Context, identity string) error
	RecordSuccess func(ctx context.Context, identity string) error
	FindPrincipal func(ctx context.Context, loginName string) (*Principal, error)
	NotFound      error
	VerifySecret  func(secret, hash string) (bool, error)
	// DummyVerify burns comparable CPU when the principal does not exist.
	DummyVerify func(secret string)
	Mint        TokenIssuer
	// AfterVerify runs after a successful verification, before issuing tokens.
	AfterVerify func(ctx context.Context, p *Principal, secret string)
	Warn        func(msg string, keysAndValues ...any)
}

// RunLogin walks Gate → Verify → Issue.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) LoginResult {
	identities := make([]string, 0, 2)
	if id := deps.UserIdentity(in.LoginName); id != "" {
		identities = append(identities, id)
	}
	if id := deps.AddrIdentity(in.SourceAddr); id != "" {
		identities = append(identities, id)
	}
	res := LoginResult{Identities: identities}

	// Gate
	locked, err := deps.AnyLocked(ctx, identities...)
	if err != nil {
		res.Failure, res.Err = LoginFailureGateUnavailable, err
		return res
	}
	if locked {
		res.Failure = LoginFailureLocked
		return res
	}

	// Verify
	principal, err := lookup(ctx, in.LoginName, deps)
	if err != nil {
		res.Failure, res.Err = LoginFailureLookupUnavailable, err
		return res
	}
	if principal == nil {
		if deps.DummyVerify != nil {
			deps.DummyVerify(in.Secret)
		}
		return failCredentials(ctx, res, deps)
	}
	res.PrincipalID = principal.ID

	ok, err := deps.VerifySecret(in.Secret, principal.SecretHash)
	if err != nil {
		warn(deps.Warn, "credgate: stored secret hash unusable", "principal_id", principal.ID, "error", err)
		ok = false
	}
	if !ok {
		return failCredentials(ctx, res, deps)
	}
	if !principal.Active {
		res.Failure = LoginFailureDisabled
		return res
	}

	// Issue
	if deps.AfterVerify != nil {
		deps.AfterVerify(ctx, principal, in.Secret)
	}
	pair, err := issuePair(deps.Mint, principal.ID, principal.LoginName)
	if err != nil {
		res.Failure, res.Err = LoginFailureIssue, err
		return res
	}
	for _, id := range identities {
		if err := deps.RecordSuccess(ctx, id); err != nil {
			warn(deps.Warn, "credgate: failed to reset login attempts", "identity", id, "error", err)
		}
	}
	res.Pair = pair
	return res
}

func lookup(ctx context.Context, loginName string, deps LoginDeps) (*Principal, error) {
	if strings.TrimSpace(loginName) == "" {
		return nil, nil
	}
	p, err := deps.FindPrincipal(ctx, loginName)
	if err != nil {
		if deps.NotFound != nil && errors.Is(err, deps.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func failCredentials(ctx context.Context, res LoginResult, deps LoginDeps) LoginResult {
	res.Failure = LoginFailureCredentials
	for _, id := range res.Identities {
		if err := deps.RecordFailure(ctx, id); err != nil {
			res.TrackingErr = err
		}
	}
	return res
}

func warn(fn func(string, ...any), msg string, keysAndValues ...any) {
	if fn != nil {
		fn(msg, keysAndValues...)
	}
}
