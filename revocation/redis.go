package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls key layout and sweep behaviour.
type RedisConfig struct {
	Prefix string
	// RepairTTL is applied by SweepExpired to markers found without an expiry.
	RepairTTL time.Duration
	// SweepBatch is the SCAN COUNT hint.
	SweepBatch int64
}

// RedisStore keeps one key per revoked jti with a TTL equal to the token's remaining life.
type RedisStore struct {
	redis  redis.UniversalClient
	config RedisConfig
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "cg"
	}
	if cfg.RepairTTL <= 0 {
		cfg.RepairTTL = 7 * 24 * time.Hour
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 500
	}
	return &RedisStore{redis: client, config: cfg}
}

func (s *RedisStore) tokenKey(jti string) string {
	return s.config.Prefix + ":rvk:" + jti
}

func (s *RedisStore) principalKey(principalID int64) string {
	return s.config.Prefix + ":rvp:" + strconv.FormatInt(principalID, 10)
}

// Revoke uses SET NX so concurrent revocations of one jti have exactly one winner.
func (s *RedisStore) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if jti == "" {
		return false, errors.New("empty jti")
	}
	if ttl <= 0 {
		return false, nil
	}

	created, err := s.redis.SetNX(ctx, s.tokenKey(jti), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return created, nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, s.tokenKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *RedisStore) RevokePrincipal(ctx context.Context, principalID int64, cutoff time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("principal revocation ttl must be > 0")
	}
	value := strconv.FormatInt(cutoff.UnixMilli(), 10)
	if err := s.redis.Set(ctx, s.principalKey(principalID), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Check answers both questions with one pipelined round trip.
func (s *RedisStore) Check(ctx context.Context, jti string, principalID int64, issuedAt time.Time) (bool, error) {
	var (
		exists *redis.IntCmd
		cutoff *redis.StringCmd
	)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, s.tokenKey(jti))
		cutoff = pipe.Get(ctx, s.principalKey(principalID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists.Val() > 0 {
		return true, nil
	}

	raw, err := cutoff.Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// A corrupt cutoff must not let tokens through.
		return true, nil
	}
	return cutoffCovers(time.UnixMilli(ms), issuedAt), nil
}

// SweepExpired relies on Redis expiry for removal. It scans for markers that lost
// their TTL (restored snapshots, manual edits) and gives them RepairTTL.
func (s *RedisStore) SweepExpired(ctx context.Context) (int64, error) {
	var (
		cursor   uint64
		repaired int64
	)
	pattern := s.config.Prefix + ":rv[kp]:*"
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, s.config.SweepBatch).Result()
		if err != nil {
			return repaired, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, key := range keys {
			ttl, err := s.redis.TTL(ctx, key).Result()
			if err != nil {
				return repaired, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			// -1 means no expiry; -2 means the key vanished between SCAN and TTL.
			if ttl != -1 {
				continue
			}
			ok, err := s.redis.Expire(ctx, key, s.config.RepairTTL).Result()
			if err != nil {
				return repaired, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if ok {
				repaired++
			}
		}
		cursor = next
		if cursor == 0 {
			return repaired, nil
		}
	}
}
