package credgate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credgate/internal/flows"
	"github.com/MrEthical07/credgate/internal/limiters"
	"github.com/MrEthical07/credgate/internal/retry"
	"github.com/MrEthical07/credgate/jwt"
	"go.uber.org/zap"
)

// storeCtx bounds one backing store round trip.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
}

func (e *Engine) wireFlows() flows.Service {
	trackAddr := e.config.Lockout.TrackAddr

	check := func(ctx context.Context, claims *jwt.Claims) (bool, error) {
		ctx, cancel := e.storeCtx(ctx)
		defer cancel()
		return e.revocations.Check(ctx, claims.ID, claims.UID, claims.IssuedInstant())
	}

	return flows.New(flows.Deps{
		Login: flows.LoginDeps{
			UserIdentity: limiters.UserIdentity,
			AddrIdentity: func(addr string) string {
				if !trackAddr {
					return ""
				}
				return limiters.AddrIdentity(addr)
			},
			AnyLocked: func(ctx context.Context, identities ...string) (bool, error) {
				ctx, cancel := e.storeCtx(ctx)
				defer cancel()
				return e.attempts.AnyLocked(ctx, identities...)
			},
			RecordFailure: e.recordFailure,
			RecordSuccess: func(ctx context.Context, identity string) error {
				ctx, cancel := e.storeCtx(ctx)
				defer cancel()
				return e.attempts.RecordSuccess(ctx, identity)
			},
			FindPrincipal: func(ctx context.Context, loginName string) (*flows.Principal, error) {
				ctx, cancel := e.storeCtx(ctx)
				defer cancel()
				p, err := e.users.FindByLoginName(ctx, loginName)
				return toFlowPrincipal(p), err
			},
			NotFound:     ErrPrincipalNotFound,
			VerifySecret: e.verifier.Verify,
			DummyVerify:  e.dummyVerify,
			Mint:         e.codec.Mint,
			AfterVerify:  e.upgradeHash,
			Warn:         e.log.Sugar().Warnw,
		},
		Refresh: flows.RefreshDeps{
			Decode: e.codec.Decode,
			Check:  check,
			Claim: func(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
				ctx, cancel := e.storeCtx(ctx)
				defer cancel()
				return e.revocations.Revoke(ctx, jti, ttl)
			},
			LoadPrincipal: e.refreshPrincipalLoader(),
			NotFound:      ErrPrincipalNotFound,
			Now:           e.now,
			Leeway:        e.config.JWT.Leeway,
			Mint:          e.codec.Mint,
		},
		Logout: flows.LogoutDeps{
			Decode:          e.codec.DecodeAllowExpired,
			Revoke:          e.revokeToken,
			RevokePrincipal: e.revokePrincipal,
			Now:             e.now,
			Leeway:          e.config.JWT.Leeway,
		},
		Authorize: flows.AuthorizeDeps{
			Decode: e.codec.Decode,
			Check:  check,
		},
	})
}

func toFlowPrincipal(p *Principal) *flows.Principal {
	if p == nil {
		return nil
	}
	return &flows.Principal{ID: p.ID, LoginName: p.LoginName, SecretHash: p.SecretHash, Active: p.Active}
}

func (e *Engine) refreshPrincipalLoader() func(context.Context, int64) (*flows.Principal, error) {
	if !e.config.Security.RequireActiveOnRefresh {
		return nil
	}
	return func(ctx context.Context, id int64) (*flows.Principal, error) {
		ctx, cancel := e.storeCtx(ctx)
		defer cancel()
		p, err := e.users.FindByID(ctx, id)
		return toFlowPrincipal(p), err
	}
}

// recordFailure retries the counter write; a lost failure weakens lockout, so
// exhausting retries raises an operator alert.
func (e *Engine) recordFailure(ctx context.Context, identity string) error {
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		ctx, cancel := e.storeCtx(ctx)
		defer cancel()
		_, err := e.attempts.RecordFailure(ctx, identity)
		return err
	})
	if err != nil {
		e.metrics.Alert("record_failure")
		e.log.Error("failed login attempt not recorded",
			zap.String("op", "record_failure"),
			zap.String("identity", identity),
			zap.Error(err))
	}
	return err
}

func (e *Engine) revokeToken(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	var created bool
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		ctx, cancel := e.storeCtx(ctx)
		defer cancel()
		c, err := e.revocations.Revoke(ctx, jti, ttl)
		if err != nil {
			return err
		}
		created = created || c
		return nil
	})
	e.metrics.Revocation("token", err == nil)
	if err != nil {
		e.metrics.Alert("revoke")
		e.log.Error("token revocation not persisted",
			zap.String("op", "revoke"),
			zap.String("jti", jti),
			zap.Error(err))
	}
	return created, err
}

func (e *Engine) revokePrincipal(ctx context.Context, principalID int64, cutoff time.Time) error {
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		ctx, cancel := e.storeCtx(ctx)
		defer cancel()
		return e.revocations.RevokePrincipal(ctx, principalID, cutoff, e.config.JWT.RefreshTTL+e.config.JWT.Leeway)
	})
	e.metrics.Revocation("principal", err == nil)
	if err != nil {
		e.metrics.Alert("revoke_principal")
		e.log.Error("principal revocation not persisted",
			zap.String("op", "revoke_principal"),
			zap.Int64("principal_id", principalID),
			zap.Error(err))
	}
	return err
}

func (e *Engine) dummyVerify(secret string) {
	if e.dummyHash == "" {
		return
	}
	_, _ = e.verifier.Verify(secret, e.dummyHash)
}

// upgradeHash rewrites a stale hash after a successful login. Best-effort.
func (e *Engine) upgradeHash(ctx context.Context, p *flows.Principal, secret string) {
	if !e.config.Password.UpgradeOnLogin || e.hasher == nil {
		return
	}
	updater, ok := e.users.(SecretUpdater)
	if !ok {
		return
	}
	stale, err := e.hasher.NeedsUpgrade(p.SecretHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(secret)
	if err != nil {
		e.log.Warn("password rehash failed", zap.Int64("principal_id", p.ID), zap.Error(err))
		return
	}
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := updater.UpdateSecretHash(ctx, p.ID, hash); err != nil {
		e.log.Warn("password hash upgrade not persisted", zap.Int64("principal_id", p.ID), zap.Error(err))
	}
}

// tokenError maps codec errors onto the public taxonomy.
func tokenError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrInvalidToken
}
