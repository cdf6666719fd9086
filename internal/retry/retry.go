// Package retry runs store writes under a bounded exponential backoff.
//
// Only write paths whose loss would weaken a security guarantee go through here
// (token revocation, failed-attempt recording). Reads are never retried: they
// fail closed at the caller.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how long and how often a write is retried.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultPolicy is used when a zero Policy is supplied.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
		MaxElapsed:      time.Second,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the policy is
// exhausted, or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p == (Policy{}) {
		p = DefaultPolicy()
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = p.MaxElapsed

	var b backoff.BackOff = exp
	b = backoff.WithMaxRetries(b, p.MaxRetries)
	b = backoff.WithContext(b, ctx)

	err := backoff.Retry(func() error {
		return op(ctx)
	}, b)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
