// Package cache provides a small in-process read-through cache with per-entry
// expiry, tag based invalidation and a single in-flight load per key.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// sweepThreshold is the entry count above which Set purges expired entries.
const sweepThreshold = 1024

// defaultLoadTimeout bounds a shared load once it no longer follows any
// caller's cancellation.
const defaultLoadTimeout = 30 * time.Second

// Loader produces the value for a missing key. A ttl <= 0 means the value is
// returned to the caller but not stored.
type Loader[V any] func(ctx context.Context) (value V, ttl time.Duration, tags []string, err error)

type entry[V any] struct {
	value   V
	expires time.Time
	tags    []string
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu          sync.RWMutex
	entries     map[string]entry[V]
	tagIndex    map[string]map[string]struct{} // tag -> keys
	seq         uint64                         // bumped by every invalidation
	keyStale    map[string]uint64              // key -> seq of its last invalidation
	tagStale    map[string]uint64              // tag -> seq of its last invalidation
	loading     map[uint64]int                 // start seq -> in-flight loads
	group       singleflight.Group
	now         func() time.Time
	loadTimeout time.Duration
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now         func() time.Time
	loadTimeout time.Duration
}

// WithClock overrides the time source (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLoadTimeout bounds each shared load. Zero disables the bound.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.loadTimeout = d
	}
}

func New[V any](opts ...Option) *Cache[V] {
	o := options{now: time.Now, loadTimeout: defaultLoadTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		entries:  make(map[string]entry[V]),
		tagIndex:    make(map[string]map[string]struct{}),
		keyStale:    make(map[string]uint64),
		tagStale:    make(map[string]uint64),
		loading:     make(map[uint64]int),
		now:         o.now,
		loadTimeout: o.loadTimeout,
	}
}

// Get returns the live value stored for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expires) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && !c.now().Before(current.expires) {
			c.removeLocked(key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value for ttl. Non-positive ttls are ignored.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl, tags)
}

func (c *Cache[V]) setLocked(key string, value V, ttl time.Duration, tags []string) {
	if _, exists := c.entries[key]; exists {
		c.removeLocked(key)
	}
	if len(c.entries) >= sweepThreshold {
		c.purgeExpiredLocked()
	}
	c.entries[key] = entry[V]{value: value, expires: c.now().Add(ttl), tags: tags}
	for _, tag := range tags {
		keys, ok := c.tagIndex[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tagIndex[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// GetOrLoad returns the cached value for key or runs load. Concurrent misses
// for the same key share one call to load; each caller still returns as soon
// as its own ctx is done. The shared load keeps the first caller's values but
// not its cancellation, so one caller giving up never fails the others.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		start := c.beginLoad()
		defer c.endLoad(start)

		runCtx := loadCtx
		if c.loadTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(loadCtx, c.loadTimeout)
			defer cancel()
		}
		v, ttl, tags, err := load(runCtx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// An invalidation of this key or its tags while loading means v may
		// already be stale.
		if ttl > 0 && !c.invalidatedSinceLocked(start, key, tags) {
			c.setLocked(key, v, ttl, tags)
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Invalidate removes key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if len(c.loading) > 0 {
		c.keyStale[key] = c.seq
	}
	c.removeLocked(key)
}

// InvalidateTag removes every entry stored with tag.
func (c *Cache[V]) InvalidateTag(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if len(c.loading) > 0 {
		c.tagStale[tag] = c.seq
	}
	for key := range c.tagIndex[tag] {
		c.removeLocked(key)
	}
	delete(c.tagIndex, tag)
}

func (c *Cache[V]) beginLoad() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading[c.seq]++
	return c.seq
}

// endLoad forgets invalidations no in-flight load can still be affected by.
func (c *Cache[V]) endLoad(start uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading[start]--; c.loading[start] <= 0 {
		delete(c.loading, start)
	}
	if len(c.loading) == 0 {
		clear(c.keyStale)
		clear(c.tagStale)
		return
	}
	oldest := c.seq
	for s := range c.loading {
		oldest = min(oldest, s)
	}
	for k, s := range c.keyStale {
		if s <= oldest {
			delete(c.keyStale, k)
		}
	}
	for t, s := range c.tagStale {
		if s <= oldest {
			delete(c.tagStale, t)
		}
	}
}

func (c *Cache[V]) invalidatedSinceLocked(start uint64, key string, tags []string) bool {
	if c.keyStale[key] > start {
		return true
	}
	for _, tag := range tags {
		if c.tagStale[tag] > start {
			return true
		}
	}
	return false
}

// Len returns the number of stored entries, including any not yet purged.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, tag := range e.tags {
		if keys, ok := c.tagIndex[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.tagIndex, tag)
			}
		}
	}
}

func (c *Cache[V]) purgeExpiredLocked() {
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			c.removeLocked(key)
		}
	}
}
