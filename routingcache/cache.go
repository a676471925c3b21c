package routingcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/relaymesh/supervisor/domain"
)

// Cache is the interface the Supervisor's Routing phase consults. Both the
// in-memory MemoryCache and the Redis-backed implementation satisfy it, so
// a single-process deployment and a multi-process one share the same
// Routing phase code (spec §4.6).
type Cache interface {
	Get(ctx context.Context, fingerprint string) (domain.RoutingDecision, bool, error)
	Put(ctx context.Context, fingerprint string, decision domain.RoutingDecision, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type entry struct {
	fingerprint string
	decision    domain.RoutingDecision
	insertedAt  time.Time
	expiresAt   time.Time
}

// MemoryCache is a bounded (LRU), TTL-scoped in-process RoutingCacheEntry
// store (spec §3/§4.6), adapted from the teacher's registry.MemoryCache
// (runtime/registry/cache.go). The teacher's cache has no entry-count bound;
// this adds eviction of the least-recently-used entry once MaxEntries is
// reached, since spec §3 requires "bounded (LRU)".
type MemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*list.Element // fingerprint -> element in order
	order      *list.List               // front = most recently used
}

// NewMemoryCache constructs a bounded in-memory Routing Cache. maxEntries<=0
// means unbounded (no LRU eviction, TTL expiry only).
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns only non-expired entries (spec testable property: "no entry
// older than its TTL is ever returned"), touching the entry to the front of
// the LRU order on a hit.
func (c *MemoryCache) Get(_ context.Context, fingerprint string) (domain.RoutingDecision, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fingerprint]
	if !ok {
		return domain.RoutingDecision{}, false, nil
	}
	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, fingerprint)
		return domain.RoutingDecision{}, false, nil
	}
	c.order.MoveToFront(el)
	return e.decision, true, nil
}

// Put inserts or replaces the entry for fingerprint, evicting the
// least-recently-used entry if MaxEntries is exceeded.
func (c *MemoryCache) Put(_ context.Context, fingerprint string, decision domain.RoutingDecision, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if el, ok := c.entries[fingerprint]; ok {
		el.Value = &entry{fingerprint: fingerprint, decision: decision, insertedAt: now, expiresAt: now.Add(ttl)}
		c.order.MoveToFront(el)
		return nil
	}

	el := c.order.PushFront(&entry{fingerprint: fingerprint, decision: decision, insertedAt: now, expiresAt: now.Add(ttl)})
	c.entries[fingerprint] = el

	if c.maxEntries > 0 {
		for len(c.entries) > c.maxEntries {
			back := c.order.Back()
			if back == nil {
				break
			}
			c.order.Remove(back)
			delete(c.entries, back.Value.(*entry).fingerprint)
		}
	}
	return nil
}

// Invalidate clears every entry. Called on reasoner-version or
// routing-config-version change (spec §4.6).
func (c *MemoryCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Len reports the current entry count, used by tests and telemetry gauges.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
