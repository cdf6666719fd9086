package permission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable wraps cache backend failures.
var ErrCacheUnavailable = errors.New("permission cache unavailable")

// Stamp identifies the invalidation generation a cached entry was computed under.
type Stamp struct {
	Epoch   int64
	Version int64
}

// Cache stores resolved Sets. Implementations must reject writes whose Stamp is
// older than the current generation, so an invalidation can never be undone by a
// fill that started before it.
type Cache interface {
	// Load returns the cached Set (nil on miss) and the current generation.
	Load(ctx context.Context, principalID int64) (*Set, Stamp, error)
	// Store writes set if stamp is still current and reports whether it did.
	Store(ctx context.Context, principalID int64, stamp Stamp, set *Set) (bool, error)
	Invalidate(ctx context.Context, principalID int64) error
	InvalidateAll(ctx context.Context) error
}

type snapshot struct {
	Epoch     int64      `cbor:"1,keyasint"`
	Version   int64      `cbor:"2,keyasint"`
	Codes     []string   `cbor:"3,keyasint,omitempty"`
	Resources []Resource `cbor:"4,keyasint,omitempty"`
}

func (s snapshot) set() *Set {
	out := &Set{codes: make(map[string]struct{}, len(s.Codes)), resources: s.Resources}
	for _, c := range s.Codes {
		out.codes[c] = struct{}{}
	}
	return out
}

var storeIfCurrent = redis.NewScript(`
local epoch = redis.call('GET', KEYS[2]) or '0'
local version = redis.call('GET', KEYS[3]) or '0'
if epoch ~= ARGV[1] or version ~= ARGV[2] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[4])
return 1
`)

// RedisCacheConfig configures RedisCache.
type RedisCacheConfig struct {
	Prefix string
	// EntryTTL only bounds memory. Freshness comes from explicit invalidation.
	EntryTTL time.Duration
}

// RedisCache shares resolved Sets between instances. Each principal has a version
// counter and all principals share an epoch; bumping either makes older entries
// unreadable and unwritable.
type RedisCache struct {
	redis  redis.UniversalClient
	config RedisCacheConfig
	enc    cbor.EncMode
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache returns a cache using client.
func NewRedisCache(client redis.UniversalClient, cfg RedisCacheConfig) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("permission cache requires redis")
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "cg"
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 24 * time.Hour
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return &RedisCache{redis: client, config: cfg, enc: enc}, nil
}

func (c *RedisCache) entryKey(id int64) string {
	return c.config.Prefix + ":pc:" + strconv.FormatInt(id, 10)
}

func (c *RedisCache) versionKey(id int64) string {
	return c.config.Prefix + ":pcv:" + strconv.FormatInt(id, 10)
}

func (c *RedisCache) epochKey() string {
	return c.config.Prefix + ":pce"
}

func (c *RedisCache) Load(ctx context.Context, principalID int64) (*Set, Stamp, error) {
	var epoch, version, entry *redis.StringCmd
	_, err := c.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		epoch = pipe.Get(ctx, c.epochKey())
		version = pipe.Get(ctx, c.versionKey(principalID))
		entry = pipe.Get(ctx, c.entryKey(principalID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, Stamp{}, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var stamp Stamp
	if stamp.Epoch, err = counter(epoch); err != nil {
		return nil, Stamp{}, err
	}
	if stamp.Version, err = counter(version); err != nil {
		return nil, Stamp{}, err
	}

	raw, err := entry.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, stamp, nil
	}
	if err != nil {
		return nil, Stamp{}, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var snap snapshot
	if err := cbor.Unmarshal(raw, &snap); err != nil {
		// Undecodable entries are treated as a miss and overwritten by the next fill.
		return nil, stamp, nil
	}
	if snap.Epoch != stamp.Epoch || snap.Version != stamp.Version {
		return nil, stamp, nil
	}
	return snap.set(), stamp, nil
}

func (c *RedisCache) Store(ctx context.Context, principalID int64, stamp Stamp, set *Set) (bool, error) {
	snap := snapshot{Epoch: stamp.Epoch, Version: stamp.Version, Codes: set.Codes(), Resources: set.Resources()}
	raw, err := c.enc.Marshal(snap)
	if err != nil {
		return false, err
	}

	keys := []string{c.entryKey(principalID), c.epochKey(), c.versionKey(principalID)}
	stored, err := storeIfCurrent.Run(ctx, c.redis, keys,
		strconv.FormatInt(stamp.Epoch, 10),
		strconv.FormatInt(stamp.Version, 10),
		raw,
		c.config.EntryTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return stored == 1, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, principalID int64) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.versionKey(principalID))
		pipe.Del(ctx, c.entryKey(principalID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// InvalidateAll bumps the shared epoch. Old entries are left to EntryTTL.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.redis.Incr(ctx, c.epochKey()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func counter(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return n, nil
}
