// Package cache implements the read-through response cache for review
// listings and metadata.
//
// Each product owns an invalidation epoch. Readers capture the epoch together
// with the cached payload and hand it back when filling a miss; a fill is
// dropped when the product was invalidated in between, so a response computed
// from pre-write data never lands after the write's invalidation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// DefaultTTL is how long a cached response is served.
const DefaultTTL = time.Hour

// Stamp is a product's invalidation epoch as observed by a read.
type Stamp int64

// setScript stores a payload only if the epoch is unchanged.
//
// KEYS[1] entry, KEYS[2] epoch, KEYS[3] key set
// ARGV[1] expected epoch, ARGV[2] payload, ARGV[3] ttl seconds
var setScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
redis.call('SADD', KEYS[3], KEYS[1])
redis.call('EXPIRE', KEYS[3], ARGV[3])
return 1
`)

// invalidateScript bumps the epoch and drops every registered key. The epoch
// outlives every entry stamped with an older value, so once it expires a
// missing epoch reads as a fresh start.
//
// KEYS[1] epoch, KEYS[2] key set, KEYS[3] meta entry
// ARGV[1] epoch ttl seconds
var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[1])
local members = redis.call('SMEMBERS', KEYS[2])
for i = 1, #members, 500 do
	redis.call('DEL', unpack(members, i, math.min(i + 499, #members)))
end
redis.call('DEL', KEYS[2], KEYS[3])
return #members
`)

// Config holds cache settings.
type Config struct {
	TTL     time.Duration
	Breaker BreakerConfig
}

// ReviewCache is a Redis-backed response cache. Redis failures never
// surface to callers: reads report a miss and writes are logged and dropped.
type ReviewCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// New creates a ReviewCache.
func New(client redis.UniversalClient, cfg Config, logger *slog.Logger) *ReviewCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = DefaultBreakerConfig()
	}
	return &ReviewCache{
		client:  client,
		ttl:     cfg.TTL,
		breaker: newBreaker(cfg.Breaker, logger),
		logger:  logger,
	}
}

// Get returns the cached payload for key and the product's current epoch.
// hit is false when the entry is absent, expired, or Redis is unavailable.
func (c *ReviewCache) Get(ctx context.Context, key Key) (payload []byte, stamp Stamp, hit bool) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.client.MGet(ctx, key.String(), epochKey(key.ProductID)).Result()
	})
	if err != nil {
		c.recordFailure(ctx, "get", key, err)
		return nil, 0, false
	}

	vals := res.([]any)
	stamp, err = parseStamp(vals[1])
	if err != nil {
		c.recordFailure(ctx, "get", key, err)
		return nil, 0, false
	}

	s, ok := vals[0].(string)
	if !ok {
		cacheRequests.WithLabelValues("get", resultMiss).Inc()
		return nil, stamp, false
	}
	cacheRequests.WithLabelValues("get", resultHit).Inc()
	return []byte(s), stamp, true
}

// Set stores payload under key for the configured TTL, unless the product
// was invalidated after stamp was read. It reports whether the entry was
// written.
func (c *ReviewCache) Set(ctx context.Context, key Key, stamp Stamp, payload []byte) bool {
	res, err := c.breaker.Execute(func() (any, error) {
		return setScript.Run(ctx, c.client,
			[]string{key.String(), epochKey(key.ProductID), keySetKey(key.ProductID)},
			strconv.FormatInt(int64(stamp), 10), payload, int64(c.ttl/time.Second),
		).Int()
	})
	if err != nil {
		c.recordFailure(ctx, "set", key, err)
		return false
	}
	if res.(int) == 0 {
		cacheRequests.WithLabelValues("set", resultStale).Inc()
		c.logger.DebugContext(ctx, "cache fill skipped, product invalidated since read",
			slog.String("key", key.String()),
		)
		return false
	}
	cacheRequests.WithLabelValues("set", resultStored).Inc()
	return true
}

// InvalidateProduct makes every cached response of the product unreachable
// and rejects in-flight fills that read the previous epoch. It bypasses the
// breaker: a write must reach Redis even while this process has stopped
// reading from it, or other workers keep serving the old entries.
func (c *ReviewCache) InvalidateProduct(ctx context.Context, productID int64) error {
	n, err := invalidateScript.Run(ctx, c.client,
		[]string{epochKey(productID), keySetKey(productID), MetaKey(productID).String()},
		int64(c.epochTTL()/time.Second),
	).Int()
	if err != nil {
		c.recordFailure(ctx, "invalidate", MetaKey(productID), err)
		return fmt.Errorf("invalidate product %d: %w", productID, err)
	}
	cacheRequests.WithLabelValues("invalidate", resultStored).Inc()
	invalidatedKeys.Add(float64(n))
	return nil
}

// epochTTL is how long an invalidation epoch is kept. Two entry lifetimes
// leave room for a fill that read the old epoch just before it expired.
func (c *ReviewCache) epochTTL() time.Duration {
	return 2 * c.ttl
}

// Ping checks Redis connectivity, bypassing the breaker.
func (c *ReviewCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// State returns the breaker state.
func (c *ReviewCache) State() gobreaker.State {
	return c.breaker.State()
}

func (c *ReviewCache) recordFailure(ctx context.Context, op string, key Key, err error) {
	if isBreakerRejection(err) {
		cacheRequests.WithLabelValues(op, resultRejected).Inc()
		return
	}
	cacheRequests.WithLabelValues(op, resultError).Inc()
	c.logger.WarnContext(ctx, "cache operation failed",
		slog.String("operation", op),
		slog.String("key", key.String()),
		slog.String("error", err.Error()),
	)
}

func parseStamp(v any) (Stamp, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected epoch type")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse epoch %q: %w", s, err)
	}
	return Stamp(n), nil
}
