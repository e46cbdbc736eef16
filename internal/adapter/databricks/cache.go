package databricks

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/couchcryptid/crisis-data-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// CachedExecutor wraps an Executor with an in-memory LRU keyed by statement
// text. Entries expire after ttl; a ttl of zero keeps them until evicted.
type CachedExecutor struct {
	inner   Executor
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedExecutor creates a cache decorator around an executor.
func NewCachedExecutor(inner Executor, maxEntries int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedExecutor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedExecutor{
		inner:   inner,
		cache:   newLRUCache(maxEntries, ttl, clock),
		metrics: metrics,
	}
}

func (c *CachedExecutor) Execute(ctx context.Context, statement string) (domain.RecordSet, error) {
	if rows, ok := c.cache.get(statement); ok {
		c.metrics.ResultCache.WithLabelValues("hit").Inc()
		return rows, nil
	}
	c.metrics.ResultCache.WithLabelValues("miss").Inc()

	rows, err := c.inner.Execute(ctx, statement)
	if err != nil {
		return nil, err
	}
	// Errors are never cached so a failed or timed-out statement is retried.
	c.cache.put(statement, rows)
	return rows, nil
}

// Purge drops every cached result.
func (c *CachedExecutor) Purge() {
	c.cache.purge()
}

// Len returns the number of live entries.
func (c *CachedExecutor) Len() int {
	return c.cache.size()
}

// lruCache is a thread-safe LRU cache of statement results with expiry.
type lruCache struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key     string
	value   domain.RecordSet
	expires time.Time
	prev    *entry
	next    *entry
}

func newLRUCache(maxEntries int, ttl time.Duration, clock clockwork.Clock) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.RecordSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		c.remove(e)
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.RecordSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.clock.Now().Add(c.ttl)
	}

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = expires
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expires: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.head = nil
	c.tail = nil
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if !c.expired(e) {
			n++
		}
	}
	return n
}

func (c *lruCache) expired(e *entry) bool {
	return !e.expires.IsZero() && !c.clock.Now().Before(e.expires)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
