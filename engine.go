package credgate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/credgate/internal/audit"
	"github.com/MrEthical07/credgate/internal/flows"
	"github.com/MrEthical07/credgate/internal/limiters"
	"github.com/MrEthical07/credgate/internal/metrics"
	"github.com/MrEthical07/credgate/internal/retry"
	"github.com/MrEthical07/credgate/jwt"
	"github.com/MrEthical07/credgate/loginlog"
	"github.com/MrEthical07/credgate/password"
	"github.com/MrEthical07/credgate/permission"
	"github.com/MrEthical07/credgate/revocation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine coordinates login, token refresh, logout and authorization. It is safe
// for concurrent use once built.
type Engine struct {
	config      Config
	codec       *jwt.Codec
	revocations revocation.Store
	attempts    *limiters.AttemptTracker
	resolver    *permission.Resolver
	users       UserStore
	verifier    password.Verifier
	hasher      password.Hasher
	dummyHash   string
	loginLog    loginlog.Writer
	audit       *audit.Dispatcher
	metrics     *metrics.Metrics
	log         *zap.Logger
	tracer      trace.Tracer
	retry       retry.Policy
	now         func() time.Time
	flow        flows.Service
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

// Close drains the login log dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.config
}

// Permissions exposes the resolver for grant queries and role mutations.
func (e *Engine) Permissions() *permission.Resolver {
	if e == nil {
		return nil
	}
	return e.resolver
}

// Revocations exposes the revocation store, mainly for the maintenance runner.
func (e *Engine) Revocations() revocation.Store {
	if e == nil {
		return nil
	}
	return e.revocations
}

// AuditDropped reports login log entries discarded by the dispatcher.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "credgate."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Login authenticates req and issues a token pair.
//
// Errors: ErrAccountLocked (or ErrInvalidCredentials with HideLockoutReason),
// ErrInvalidCredentials, ErrDependencyUnavailable.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (pair *TokenPair, err error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.span(ctx, "Login")
	defer func() { endSpan(span, err) }()
	defer e.metrics.Since("login", time.Now())

	if req.SourceAddr == "" {
		req.SourceAddr = clientIPFromContext(ctx)
	}
	if req.UserAgent == "" {
		req.UserAgent = userAgentFromContext(ctx)
	}

	res := e.flow.Login(ctx, flows.LoginInput{
		LoginName:  req.Identity,
		Secret:     req.Secret,
		SourceAddr: req.SourceAddr,
	})

	entry := loginlog.Entry{
		Action:      loginlog.ActionLogin,
		Identity:    strings.ToLower(strings.TrimSpace(req.Identity)),
		PrincipalID: res.PrincipalID,
		SourceAddr:  req.SourceAddr,
		UserAgent:   req.UserAgent,
		Outcome:     loginlog.OutcomeFailure,
		Reason:      res.Failure.String(),
		OccurredAt:  e.now(),
	}

	switch res.Failure {
	case flows.LoginFailureNone:
		entry.Outcome = loginlog.OutcomeSuccess
		e.record(ctx, entry)
		e.metrics.Login("success")
		span.SetAttributes(attribute.Int64("credgate.principal_id", res.PrincipalID))
		return newTokenPair(res.Pair, res.PrincipalID), nil
	case flows.LoginFailureLocked:
		entry.Outcome = loginlog.OutcomeLocked
		e.record(ctx, entry)
		e.metrics.Lockout()
		e.metrics.Login("locked")
		e.log.Info("login rejected: identity locked",
			zap.String("identity", entry.Identity),
			zap.String("source_addr", req.SourceAddr))
		if e.config.Security.HideLockoutReason {
			return nil, ErrInvalidCredentials
		}
		return nil, ErrAccountLocked
	case flows.LoginFailureGateUnavailable, flows.LoginFailureLookupUnavailable:
		e.record(ctx, entry)
		e.metrics.Login("unavailable")
		e.metrics.StoreError(loginDependency(res.Failure))
		e.log.Warn("login denied: dependency unavailable", zap.Error(res.Err))
		return nil, unavailable(res.Err)
	case flows.LoginFailureCredentials, flows.LoginFailureDisabled:
		e.record(ctx, entry)
		e.metrics.Login(res.Failure.String())
		return nil, ErrInvalidCredentials
	default:
		e.record(ctx, entry)
		e.metrics.Login("error")
		return nil, fmt.Errorf("issue tokens: %w", res.Err)
	}
}

func loginDependency(kind flows.LoginFailureKind) string {
	if kind == flows.LoginFailureGateUnavailable {
		return "attempts"
	}
	return "users"
}

func newTokenPair(p flows.Pair, principalID int64) *TokenPair {
	return &TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  p.AccessClaims.ExpiresAt.Time,
		RefreshExpiresAt: p.RefreshClaims.ExpiresAt.Time,
		PrincipalID:      principalID,
	}
}

// Refresh rotates a refresh token. The presented token is revoked before the new
// pair is minted, so a replayed token returns ErrRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.span(ctx, "Refresh")
	defer func() { endSpan(span, err) }()
	defer e.metrics.Since("refresh", time.Now())

	res := e.flow.Refresh(ctx, refreshToken)
	entry := loginlog.Entry{
		Action:      loginlog.ActionRefresh,
		PrincipalID: res.PrincipalID,
		SourceAddr:  clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Outcome:     loginlog.OutcomeFailure,
		OccurredAt:  e.now(),
	}

	switch res.Failure {
	case flows.RefreshFailureNone:
		entry.Outcome = loginlog.OutcomeSuccess
		e.record(ctx, entry)
		e.metrics.Refresh("success")
		return newTokenPair(res.Pair, res.PrincipalID), nil
	case flows.RefreshFailureDecode:
		e.metrics.Refresh("invalid")
		return nil, tokenError(res.Err)
	case flows.RefreshFailureWrongKind:
		e.metrics.Refresh("invalid")
		return nil, ErrInvalidToken
	case flows.RefreshFailureRevoked, flows.RefreshFailureInactive:
		entry.Reason = "revoked"
		e.record(ctx, entry)
		e.metrics.Refresh("revoked")
		return nil, ErrRevoked
	case flows.RefreshFailureStoreUnavailable, flows.RefreshFailureLookupUnavailable:
		entry.Reason = "dependency_unavailable"
		e.record(ctx, entry)
		e.metrics.Refresh("unavailable")
		e.metrics.StoreError("revocation")
		e.log.Warn("refresh denied: dependency unavailable", zap.Error(res.Err))
		return nil, unavailable(res.Err)
	default:
		e.metrics.Refresh("error")
		return nil, fmt.Errorf("issue tokens: %w", res.Err)
	}
}

// Logout revokes token for its remaining lifetime. Access and refresh tokens are
// both accepted; an already expired token is a successful no-op.
func (e *Engine) Logout(ctx context.Context, token string) (err error) {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, span := e.span(ctx, "Logout")
	defer func() { endSpan(span, err) }()

	res := e.flow.Logout(ctx, token)
	if res.DecodeErr != nil {
		return ErrInvalidToken
	}
	entry := loginlog.Entry{
		Action:      loginlog.ActionLogout,
		PrincipalID: res.Claims.UID,
		SourceAddr:  clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Outcome:     loginlog.OutcomeSuccess,
		OccurredAt:  e.now(),
	}
	if res.Err != nil {
		entry.Outcome, entry.Reason = loginlog.OutcomeFailure, "dependency_unavailable"
		e.record(ctx, entry)
		return unavailable(res.Err)
	}
	e.record(ctx, entry)
	return nil
}

// LogoutAll revokes every token issued to principalID up to now.
func (e *Engine) LogoutAll(ctx context.Context, principalID int64) (err error) {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, span := e.span(ctx, "LogoutAll")
	defer func() { endSpan(span, err) }()

	entry := loginlog.Entry{
		Action:      loginlog.ActionLogoutAll,
		PrincipalID: principalID,
		Outcome:     loginlog.OutcomeSuccess,
		OccurredAt:  e.now(),
	}
	if err := e.flow.LogoutAll(ctx, principalID); err != nil {
		entry.Outcome, entry.Reason = loginlog.OutcomeFailure, "dependency_unavailable"
		e.record(ctx, entry)
		return unavailable(err)
	}
	e.record(ctx, entry)
	return nil
}

// Authenticate returns the claims of a live access token.
func (e *Engine) Authenticate(ctx context.Context, token string) (*jwt.Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res := e.flow.Authenticate(ctx, token)
	return res.Claims, e.authError(res)
}

// Validate reports whether token is a live access token.
func (e *Engine) Validate(ctx context.Context, token string) bool {
	_, err := e.Authenticate(ctx, token)
	return err == nil
}

// CurrentPrincipal returns the principal behind a live access token. The secret
// hash is never included.
func (e *Engine) CurrentPrincipal(ctx context.Context, token string) (*Principal, error) {
	claims, err := e.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	p, err := e.users.FindByID(sctx, claims.UID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrRevoked
		}
		e.metrics.StoreError("users")
		return nil, unavailable(err)
	}
	if p == nil || !p.Active {
		return nil, ErrRevoked
	}
	out := *p
	out.SecretHash = ""
	return &out, nil
}

// Check authenticates token and requires the permission code. It returns the
// claims on success so middleware can attach them to the request.
func (e *Engine) Check(ctx context.Context, token, code string) (claims *jwt.Claims, err error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.span(ctx, "Authorize")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("credgate.permission", code))

	res := e.flow.Authorize(ctx, token, func(ctx context.Context, principalID int64) (bool, error) {
		return e.resolver.HasPermission(ctx, principalID, code)
	})
	return res.Claims, e.authError(res)
}

// CheckURL authenticates token and requires a resource grant covering url.
func (e *Engine) CheckURL(ctx context.Context, token, url string) (claims *jwt.Claims, err error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.span(ctx, "AuthorizeURL")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("credgate.url", url))

	res := e.flow.Authorize(ctx, token, func(ctx context.Context, principalID int64) (bool, error) {
		return e.resolver.HasURLAccess(ctx, principalID, url)
	})
	return res.Claims, e.authError(res)
}

// Authorize reports whether token grants the permission code. Any failure denies.
func (e *Engine) Authorize(ctx context.Context, token, code string) bool {
	_, err := e.Check(ctx, token, code)
	return err == nil
}

// AuthorizeURL reports whether token grants access to url. Any failure denies.
func (e *Engine) AuthorizeURL(ctx context.Context, token, url string) bool {
	_, err := e.CheckURL(ctx, token, url)
	return err == nil
}

func (e *Engine) authError(res flows.AuthResult) error {
	switch res.Failure {
	case flows.AuthFailureNone:
		e.metrics.Authorize("allowed")
		return nil
	case flows.AuthFailureDecode:
		e.metrics.Authorize("invalid")
		return tokenError(res.Err)
	case flows.AuthFailureWrongKind:
		e.metrics.Authorize("invalid")
		return ErrInvalidToken
	case flows.AuthFailureRevoked:
		e.metrics.Authorize("revoked")
		return ErrRevoked
	case flows.AuthFailureStoreUnavailable:
		e.metrics.Authorize("unavailable")
		e.metrics.StoreError("revocation")
		e.log.Warn("authorization denied: revocation store unavailable", zap.Error(res.Err))
		return unavailable(res.Err)
	case flows.AuthFailureResolverUnavailable:
		e.metrics.Authorize("unavailable")
		e.metrics.StoreError("permissions")
		e.log.Warn("authorization denied: permission source unavailable", zap.Error(res.Err))
		return unavailable(res.Err)
	default:
		e.metrics.Authorize("denied")
		return ErrPermissionDenied
	}
}

// record sends entry to the dispatcher, or inline to the writer when auditing is
// not asynchronous.
func (e *Engine) record(ctx context.Context, entry loginlog.Entry) {
	if e.audit != nil {
		e.audit.Emit(ctx, entry)
		return
	}
	if e.loginLog == nil {
		return
	}
	ctx, cancel := e.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := e.loginLog.Append(ctx, entry); err != nil {
		e.log.Warn("login log write failed", zap.String("action", string(entry.Action)), zap.Error(err))
	}
}
