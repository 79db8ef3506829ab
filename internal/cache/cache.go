package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"cargostat/internal/store"
)

// Versioned memoizes values computed from the stores. Entries are keyed by
// the store versions they were computed at, so a version bump makes every
// older entry unreachable; InvalidateAll reclaims them eagerly.
//
// At most one computation runs per (versions, key); concurrent callers
// wait for it and share its result or its error. Errors are never stored.
// Current entries are bounded; the least recently read is evicted first.
type Versioned[V any] struct {
	mu      sync.Mutex
	entries *lru[entryKey, V]
	latest  store.Versions
	group   singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// DefaultMaxEntries bounds a cache built by NewVersioned.
const DefaultMaxEntries = 1024

type entryKey struct {
	versions store.Versions
	key      string
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

func NewVersioned[V any]() *Versioned[V] {
	return NewVersionedSize[V](DefaultMaxEntries)
}

// NewVersionedSize builds a cache holding at most maxEntries values.
func NewVersionedSize[V any](maxEntries int) *Versioned[V] {
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	return &Versioned[V]{entries: newLRU[entryKey, V](maxEntries)}
}

// Get returns the value for key at versions, running compute on a miss.
// A caller whose ctx ends while waiting gets ctx.Err(); the computation
// still completes for the other waiters.
func (c *Versioned[V]) Get(ctx context.Context, versions store.Versions, key string, compute func() (V, error)) (V, error) {
	ek := entryKey{versions: versions, key: key}

	c.mu.Lock()
	c.observe(versions)
	if v, ok := c.entries.get(ek); ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return v, nil
	}
	c.mu.Unlock()
	c.misses.Add(1)

	flightKey := fmt.Sprintf("%d/%d/%s", versions.Taxonomy, versions.Data, key)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		v, err := compute()
		if err != nil {
			return v, err
		}
		c.store(ek, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// InvalidateAll drops every entry. It is registered as the store change
// hook; in-flight computations for old versions are not stored.
func (c *Versioned[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.clear()
}

// Invalidate is a store.ChangeEvent hook.
func (c *Versioned[V]) Invalidate(ev store.ChangeEvent) {
	c.mu.Lock()
	c.observe(ev.Versions)
	c.mu.Unlock()
	c.InvalidateAll()
}

func (c *Versioned[V]) Stats() Stats {
	c.mu.Lock()
	n := c.entries.len()
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   n,
	}
}

func (c *Versioned[V]) store(ek entryKey, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if older(ek.versions, c.latest) {
		return
	}
	if c.entries.set(ek, v) {
		c.evictions.Add(1)
	}
}

// observe advances the newest known versions and sweeps entries that can
// no longer be requested. Caller holds c.mu.
func (c *Versioned[V]) observe(v store.Versions) {
	if v.Taxonomy < c.latest.Taxonomy || v.Data < c.latest.Data {
		return
	}
	if v == c.latest {
		return
	}
	c.latest = v
	c.entries.deleteFunc(func(k entryKey) bool { return older(k.versions, v) })
}

func older(a, b store.Versions) bool {
	return a.Taxonomy < b.Taxonomy || a.Data < b.Data
}
