package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrAttemptsUnavailable indicates the attempt counter backend is unreachable.
	ErrAttemptsUnavailable = errors.New("login attempt backend unavailable")
)

// AttemptConfig holds the lockout policy for failed logins.
type AttemptConfig struct {
	Prefix    string
	Threshold int
	Window    time.Duration
	// Sliding extends the window on every failure instead of only the first.
	Sliding bool
}

// AttemptStatus is a point-in-time view of one identity's counter.
type AttemptStatus struct {
	Failures   int64
	Locked     bool
	RetryAfter time.Duration
}

// incrWithWindow bumps the counter and (re)arms its expiry in one step, so a crash
// between the two can never leave a counter that never resets.
var incrWithWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or ARGV[2] == '1' or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// AttemptTracker counts consecutive failed logins per identity. An identity is
// locked once its count reaches the threshold; the counter resets on success or
// when the window elapses.
type AttemptTracker struct {
	redis  redis.UniversalClient
	config AttemptConfig
}

// NewAttemptTracker creates a tracker. Threshold and Window must be positive.
func NewAttemptTracker(redisClient redis.UniversalClient, cfg AttemptConfig) (*AttemptTracker, error) {
	if redisClient == nil {
		return nil, errors.New("attempt tracker requires redis")
	}
	if cfg.Threshold <= 0 {
		return nil, errors.New("attempt threshold must be > 0")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("attempt window must be > 0")
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "cg"
	}
	return &AttemptTracker{redis: redisClient, config: cfg}, nil
}

// UserIdentity keys the counter on a normalized login name.
func UserIdentity(loginName string) string {
	name := strings.ToLower(strings.TrimSpace(loginName))
	if name == "" {
		return ""
	}
	return "u:" + name
}

// AddrIdentity keys the counter on a source address.
func AddrIdentity(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	return "a:" + addr
}

// Threshold returns the configured lock threshold.
func (t *AttemptTracker) Threshold() int { return t.config.Threshold }

func (t *AttemptTracker) key(identity string) string {
	return t.config.Prefix + ":lat:" + identity
}

// RecordFailure increments the counter for identity and returns the new count.
func (t *AttemptTracker) RecordFailure(ctx context.Context, identity string) (int64, error) {
	if identity == "" {
		return 0, nil
	}

	sliding := "0"
	if t.config.Sliding {
		sliding = "1"
	}
	count, err := incrWithWindow.Run(ctx, t.redis, []string{t.key(identity)}, t.config.Window.Milliseconds(), sliding).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return count, nil
}

// RecordSuccess clears the counter for identity.
func (t *AttemptTracker) RecordSuccess(ctx context.Context, identity string) error {
	if identity == "" {
		return nil
	}
	if err := t.redis.Del(ctx, t.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return nil
}

// IsLocked reports whether identity has reached threshold failures within the
// current window. A non-positive threshold uses the configured one.
func (t *AttemptTracker) IsLocked(ctx context.Context, identity string, threshold int) (bool, error) {
	if identity == "" {
		return false, nil
	}
	if threshold <= 0 {
		threshold = t.config.Threshold
	}
	count, err := t.failures(ctx, identity)
	if err != nil {
		return false, err
	}
	return count >= int64(threshold), nil
}

// AnyLocked checks several identities with a single round trip.
func (t *AttemptTracker) AnyLocked(ctx context.Context, identities ...string) (bool, error) {
	keys := make([]string, 0, len(identities))
	for _, id := range identities {
		if id != "" {
			keys = append(keys, t.key(id))
		}
	}
	if len(keys) == 0 {
		return false, nil
	}

	values, err := t.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	for _, v := range values {
		count, ok := counterValue(v)
		if !ok {
			continue
		}
		if count >= int64(t.config.Threshold) {
			return true, nil
		}
	}
	return false, nil
}

// Status returns the counter and the time until it resets.
func (t *AttemptTracker) Status(ctx context.Context, identity string) (AttemptStatus, error) {
	if identity == "" {
		return AttemptStatus{}, nil
	}

	var (
		get  *redis.StringCmd
		pttl *redis.DurationCmd
	)
	_, err := t.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, t.key(identity))
		pttl = pipe.PTTL(ctx, t.key(identity))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return AttemptStatus{}, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}

	count, err := get.Int64()
	if errors.Is(err, redis.Nil) {
		return AttemptStatus{}, nil
	}
	if err != nil {
		return AttemptStatus{}, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}

	status := AttemptStatus{Failures: count, Locked: count >= int64(t.config.Threshold)}
	if ttl := pttl.Val(); ttl > 0 {
		status.RetryAfter = ttl
	}
	return status, nil
}

func (t *AttemptTracker) failures(ctx context.Context, identity string) (int64, error) {
	count, err := t.redis.Get(ctx, t.key(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

func counterValue(v interface{}) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
