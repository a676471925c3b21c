package routingcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/supervisor/domain"
)

// RedisCache is a multi-process Routing Cache backend. It trades the
// in-process LRU bound for Redis's own TTL (`SET ... PX`) and memory-policy
// based eviction, so MaxEntries is not enforced client-side here — operators
// configure Redis's maxmemory-policy (e.g. allkeys-lru) instead. Grounded on
// the go-redis/v9 dependency already present in the teacher's go.mod.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache constructs a Routing Cache backed by client. keyPrefix
// namespaces keys (e.g. "supervisor:routing:") so the cache can share a
// Redis instance with other subsystems.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

type redisEntry struct {
	Decision   domain.RoutingDecision `json:"decision"`
	InsertedAt time.Time              `json:"insertedAt"`
}

func (c *RedisCache) key(fingerprint string) string {
	return c.keyPrefix + fingerprint
}

// Get returns the cached decision. Redis's own PX-based expiry means an
// expired key simply misses (GET returns nil), satisfying the same
// never-return-stale-entries property as MemoryCache.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (domain.RoutingDecision, bool, error) {
	raw, err := c.client.Get(ctx, c.key(fingerprint)).Bytes()
	if err == redis.Nil {
		return domain.RoutingDecision{}, false, nil
	}
	if err != nil {
		return domain.RoutingDecision{}, false, fmt.Errorf("routingcache: redis get: %w", err)
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.RoutingDecision{}, false, fmt.Errorf("routingcache: decode cached entry: %w", err)
	}
	return e.Decision, true, nil
}

// Put stores decision with a Redis-native PX expiry of ttl.
func (c *RedisCache) Put(ctx context.Context, fingerprint string, decision domain.RoutingDecision, ttl time.Duration) error {
	raw, err := json.Marshal(redisEntry{Decision: decision, InsertedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("routingcache: encode entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(fingerprint), raw, ttl).Err(); err != nil {
		return fmt.Errorf("routingcache: redis set: %w", err)
	}
	return nil
}

// Invalidate scans and deletes every key under keyPrefix. Used sparingly
// (reasoner/config version bumps), so an unbounded SCAN is acceptable.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("routingcache: scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("routingcache: del: %w", err)
	}
	return nil
}
