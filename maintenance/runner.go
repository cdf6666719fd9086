// Package maintenance runs periodic housekeeping: the revocation sweep and
// login log retention.
package maintenance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Sweeper is implemented by revocation.Store.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Purger is implemented by loginlog.Store.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Interval time.Duration
	// Retention is how long login log entries are kept. Zero keeps them forever.
	Retention time.Duration
	// Timeout bounds one pass. Defaults to Interval.
	Timeout time.Duration
}

// Result reports one pass.
type Result struct {
	Swept    int64
	Purged   int64
	SweepErr error
	PurgeErr error
}

func (r Result) Err() error {
	return errors.Join(r.SweepErr, r.PurgeErr)
}

type Runner struct {
	config  Config
	sweeper Sweeper
	purger  Purger
	log     *zap.Logger
	now     func() time.Time
}

// New returns a Runner. sweeper and purger may be nil.
func New(cfg Config, sweeper Sweeper, purger Purger, log *zap.Logger) (*Runner, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("maintenance interval must be > 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{config: cfg, sweeper: sweeper, purger: purger, log: log, now: time.Now}, nil
}

// RunOnce performs a single pass. A failing step does not skip the other.
func (r *Runner) RunOnce(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var res Result
	if r.sweeper != nil {
		res.Swept, res.SweepErr = r.sweeper.SweepExpired(ctx)
		if res.SweepErr != nil {
			r.log.Warn("revocation sweep failed", zap.Error(res.SweepErr))
		}
	}
	if r.purger != nil && r.config.Retention > 0 {
		cutoff := r.now().Add(-r.config.Retention)
		res.Purged, res.PurgeErr = r.purger.PurgeBefore(ctx, cutoff)
		if res.PurgeErr != nil {
			r.log.Warn("login log purge failed", zap.Error(res.PurgeErr))
		}
	}
	if res.Swept > 0 || res.Purged > 0 {
		r.log.Info("maintenance pass",
			zap.Int64("revocations_swept", res.Swept),
			zap.Int64("login_logs_purged", res.Purged))
	}
	return res
}

// Run executes a pass immediately and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}
