package permission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSourceUnavailable wraps failures of the authoritative role store.
	ErrSourceUnavailable = errors.New("permission source unavailable")
	// ErrReadOnly is returned by mutation methods when no Mutator is configured.
	ErrReadOnly = errors.New("permission resolver has no mutator")
)

// Source reads the authoritative Principal→Role→Permission graph.
type Source interface {
	RolesForPrincipal(ctx context.Context, principalID int64) ([]Role, error)
}

// Mutator writes the role graph. Role-level methods return the principals holding
// the role so their cache entries can be invalidated.
type Mutator interface {
	AssignRoles(ctx context.Context, principalID int64, roleIDs []int64) error
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) ([]int64, error)
	SetRoleEnabled(ctx context.Context, roleID int64, enabled bool) ([]int64, error)
	SetPermissionEnabled(ctx context.Context, permissionID int64, enabled bool) error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache enables shared caching of resolved sets.
func WithCache(c Cache) Option { return func(r *Resolver) { r.cache = c } }

// WithMutator enables the mutation methods.
func WithMutator(m Mutator) Option { return func(r *Resolver) { r.mutator = m } }

// WithLogger sets the logger used for cache degradation warnings.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithFanoutLimit caps how many principals a role change invalidates one by one
// before falling back to InvalidateAll.
func WithFanoutLimit(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.fanoutLimit = n
		}
	}
}

// WithFillTimeout bounds a shared cache fill. The fill outlives the caller that
// started it so joined callers are not cancelled with it.
func WithFillTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.fillTimeout = d
		}
	}
}

// Resolver computes effective permission sets and keeps the cache coherent with
// mutations. It is safe for concurrent use.
type Resolver struct {
	source      Source
	mutator     Mutator
	cache       Cache
	log         *zap.Logger
	fanoutLimit int
	fillTimeout time.Duration
	group       singleflight.Group
}

// NewResolver returns a resolver reading from source.
func NewResolver(source Source, opts ...Option) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("permission resolver requires a source")
	}
	r := &Resolver{source: source, log: zap.NewNop(), fanoutLimit: 256, fillTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// PermissionsFor returns the effective set for principalID.
//
// A cache failure degrades to the source; a source failure is returned so callers
// can deny.
func (r *Resolver) PermissionsFor(ctx context.Context, principalID int64) (*Set, error) {
	if r.cache == nil {
		return r.load(ctx, principalID)
	}

	set, stamp, err := r.cache.Load(ctx, principalID)
	if err != nil {
		r.log.Warn("credgate: permission cache read failed, using source",
			zap.Int64("principal_id", principalID), zap.Error(err))
		return r.load(ctx, principalID)
	}
	if set != nil {
		return set, nil
	}

	// Callers that arrive after an invalidation see a newer stamp and so never join a
	// fill that began before it.
	key := strconv.FormatInt(principalID, 10) + ":" +
		strconv.FormatInt(stamp.Epoch, 10) + ":" +
		strconv.FormatInt(stamp.Version, 10)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fillTimeout)
		defer cancel()
		fresh, err := r.load(fillCtx, principalID)
		if err != nil {
			return nil, err
		}
		if _, err := r.cache.Store(fillCtx, principalID, stamp, fresh); err != nil {
			r.log.Warn("credgate: permission cache fill failed",
				zap.Int64("principal_id", principalID), zap.Error(err))
		}
		return fresh, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Set), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, ctx.Err())
	}
}

// HasPermission reports whether principalID holds code.
func (r *Resolver) HasPermission(ctx context.Context, principalID int64, code string) (bool, error) {
	set, err := r.PermissionsFor(ctx, principalID)
	if err != nil {
		return false, err
	}
	return set.Has(code), nil
}

// HasURLAccess reports whether any granted resource covers url.
func (r *Resolver) HasURLAccess(ctx context.Context, principalID int64, url string) (bool, error) {
	set, err := r.PermissionsFor(ctx, principalID)
	if err != nil {
		return false, err
	}
	return set.AllowsURL(url), nil
}

// Invalidate drops the cached set for principalID.
func (r *Resolver) Invalidate(ctx context.Context, principalID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx, principalID)
}

// InvalidateAll drops every cached set.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidateAll(ctx)
}

// AssignRoles replaces the role set of principalID.
func (r *Resolver) AssignRoles(ctx context.Context, principalID int64, roleIDs []int64) error {
	if r.mutator == nil {
		return ErrReadOnly
	}
	if err := r.mutator.AssignRoles(ctx, principalID, roleIDs); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return r.afterMutation("assign_roles", r.Invalidate(ctx, principalID))
}

// SetRolePermissions replaces the permission set of roleID.
func (r *Resolver) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if r.mutator == nil {
		return ErrReadOnly
	}
	affected, err := r.mutator.SetRolePermissions(ctx, roleID, permissionIDs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return r.afterMutation("set_role_permissions", r.invalidateMany(ctx, affected))
}

// SetRoleEnabled toggles roleID.
func (r *Resolver) SetRoleEnabled(ctx context.Context, roleID int64, enabled bool) error {
	if r.mutator == nil {
		return ErrReadOnly
	}
	affected, err := r.mutator.SetRoleEnabled(ctx, roleID, enabled)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return r.afterMutation("set_role_enabled", r.invalidateMany(ctx, affected))
}

// SetPermissionEnabled toggles a permission. Any principal may hold it, so the
// whole cache is invalidated.
func (r *Resolver) SetPermissionEnabled(ctx context.Context, permissionID int64, enabled bool) error {
	if r.mutator == nil {
		return ErrReadOnly
	}
	if err := r.mutator.SetPermissionEnabled(ctx, permissionID, enabled); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return r.afterMutation("set_permission_enabled", r.InvalidateAll(ctx))
}

func (r *Resolver) invalidateMany(ctx context.Context, principals []int64) error {
	if len(principals) > r.fanoutLimit {
		return r.InvalidateAll(ctx)
	}
	for _, id := range principals {
		if err := r.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// afterMutation reports a failed invalidation. The write itself already happened, so
// the caller must learn that cached grants may be stale.
func (r *Resolver) afterMutation(op string, err error) error {
	if err == nil {
		return nil
	}
	r.log.Error("credgate: permission invalidation failed after mutation",
		zap.String("op", op), zap.Error(err))
	return err
}

func (r *Resolver) load(ctx context.Context, principalID int64) (*Set, error) {
	roles, err := r.source.RolesForPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return Resolve(roles), nil
}
