package credgate

import (
	"context"
	"errors"

	"github.com/MrEthical07/credgate/internal/limiters"
	"github.com/MrEthical07/credgate/internal/security"
	"go.uber.org/zap"
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrPrincipalNotFound)
}

// Introspect describes token. Unusable tokens yield Active=false with a Reason;
// only a revocation store failure returns an error.
func (e *Engine) Introspect(ctx context.Context, token string) (*Introspection, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	claims, err := e.codec.DecodeAllowExpired(token)
	if err != nil {
		return &Introspection{Reason: "invalid"}, nil
	}
	out := &Introspection{
		PrincipalID: claims.UID,
		Subject:     claims.Subject,
		Kind:        claims.Kind,
		TokenID:     claims.ID,
		IssuedAt:    claims.IssuedInstant(),
		ExpiresAt:   claims.ExpiresAt.Time,
		Remaining:   claims.Remaining(e.now()),
	}
	if out.Remaining <= 0 {
		out.Reason = "expired"
		return out, nil
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	revoked, err := e.revocations.Check(sctx, claims.ID, claims.UID, claims.IssuedInstant())
	if err != nil {
		e.metrics.StoreError("revocation")
		return nil, unavailable(err)
	}
	if revoked {
		out.Reason = "revoked"
		return out, nil
	}
	out.Active = true
	return out, nil
}

// LoginAttempts reports the failure counter for loginName.
func (e *Engine) LoginAttempts(ctx context.Context, loginName string) (LockoutStatus, error) {
	if !e.ready() {
		return LockoutStatus{}, ErrEngineNotReady
	}
	return e.attemptStatus(ctx, limiters.UserIdentity(loginName))
}

// AddressAttempts reports the failure counter for a source address.
func (e *Engine) AddressAttempts(ctx context.Context, addr string) (LockoutStatus, error) {
	if !e.ready() {
		return LockoutStatus{}, ErrEngineNotReady
	}
	return e.attemptStatus(ctx, limiters.AddrIdentity(addr))
}

func (e *Engine) attemptStatus(ctx context.Context, identity string) (LockoutStatus, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	st, err := e.attempts.Status(ctx, identity)
	if err != nil {
		return LockoutStatus{}, unavailable(err)
	}
	return LockoutStatus{
		Failures:   st.Failures,
		Threshold:  e.attempts.Threshold(),
		Locked:     st.Locked,
		RetryAfter: st.RetryAfter,
	}, nil
}

// Unlock clears the failure counter for loginName.
func (e *Engine) Unlock(ctx context.Context, loginName string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.clearAttempts(ctx, limiters.UserIdentity(loginName))
}

// UnlockAddress clears the failure counter for a source address.
func (e *Engine) UnlockAddress(ctx context.Context, addr string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.clearAttempts(ctx, limiters.AddrIdentity(addr))
}

func (e *Engine) clearAttempts(ctx context.Context, identity string) error {
	if identity == "" {
		return nil
	}
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.attempts.RecordSuccess(ctx, identity); err != nil {
		return unavailable(err)
	}
	e.log.Info("lockout cleared", zap.String("identity", identity))
	return nil
}

// SetPrincipalActive flips the principal's active flag through the user store.
// Deactivation also revokes every token issued so far.
func (e *Engine) SetPrincipalActive(ctx context.Context, principalID int64, active bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	updater, ok := e.users.(StatusUpdater)
	if !ok {
		return ErrUnsupported
	}
	sctx, cancel := e.storeCtx(ctx)
	err := updater.SetActive(sctx, principalID, active)
	cancel()
	if err != nil {
		if isNotFound(err) {
			return ErrPrincipalNotFound
		}
		return unavailable(err)
	}
	if active {
		return nil
	}
	return e.LogoutAll(ctx, principalID)
}

// SecurityReport summarizes the configuration's security posture.
func (e *Engine) SecurityReport() security.Report {
	if e == nil {
		return security.Report{}
	}
	cfg := e.config
	return security.BuildReport(security.ReportInput{
		ProductionMode:   cfg.Security.ProductionMode,
		SigningAlgorithm: cfg.JWT.SigningMethod,
		SigningKeyBytes:  len(cfg.JWT.SigningKey),
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		Password: security.PasswordReport{
			Memory:         cfg.Password.Memory,
			Time:           cfg.Password.Time,
			Parallelism:    cfg.Password.Parallelism,
			SaltLength:     cfg.Password.SaltLength,
			KeyLength:      cfg.Password.KeyLength,
			LegacyBcrypt:   cfg.Password.BcryptCost > 0,
			UpgradeOnLogin: cfg.Password.UpgradeOnLogin,
		},
		LockoutThreshold:       cfg.Lockout.Threshold,
		LockoutWindow:          cfg.Lockout.Window,
		TrackAddr:              cfg.Lockout.TrackAddr,
		HideLockoutReason:      cfg.Security.HideLockoutReason,
		RevocationBackend:      cfg.Store.Revocation,
		PermissionCache:        cfg.Permission.CacheEnabled,
		RequireActiveOnRefresh: cfg.Security.RequireActiveOnRefresh,
		AuditEnabled:           cfg.Audit.Enabled,
		AuditDropIfFull:        cfg.Audit.DropIfFull,
	})
}
