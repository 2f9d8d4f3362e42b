// Package cache implements read-mostly caches shared by all partition
// workers. A cache is a sequence of immutable generations: readers acquire the
// current generation and keep seeing it until they release it, while a single
// rebuild prepares the next one and publishes it with an atomic swap.
package cache

import (
	"sync/atomic"
	"time"

	"mympdgo/internal/api"
	"mympdgo/internal/metrics"
)

// ErrRebuildInProgress is returned by BeginRebuild while another rebuild of
// the same cache is active.
var ErrRebuildInProgress = api.Errorf(api.RebuildInProgress, "cache rebuild already in progress")

// Generation is one complete, immutable cache content.
type Generation[K comparable, V any] struct {
	Seq   uint64
	Built time.Time

	entries map[K]V
	readers atomic.Int64
}

// Get returns the value stored under key.
func (g *Generation[K, V]) Get(key K) (V, bool) {
	v, ok := g.entries[key]
	return v, ok
}

// Len returns the number of entries.
func (g *Generation[K, V]) Len() int {
	return len(g.entries)
}

// Range calls fn for every entry until fn returns false. Iteration order is
// unspecified.
func (g *Generation[K, V]) Range(fn func(K, V) bool) {
	for k, v := range g.entries {
		if !fn(k, v) {
			return
		}
	}
}

// Readers returns the number of outstanding acquisitions.
func (g *Generation[K, V]) Readers() int64 {
	return g.readers.Load()
}

// Release ends an acquisition. The generation must not be used afterwards.
func (g *Generation[K, V]) Release() {
	if g.readers.Add(-1) < 0 {
		panic("cache: Release without Acquire")
	}
}

// Cache is a generational cache. The zero value is not usable; call New.
type Cache[K comparable, V any] struct {
	name       string
	current    atomic.Pointer[Generation[K, V]]
	rebuilding atomic.Bool
}

// New returns a cache holding an empty generation 0.
func New[K comparable, V any](name string) *Cache[K, V] {
	c := &Cache[K, V]{name: name}
	c.current.Store(&Generation[K, V]{entries: map[K]V{}})
	return c
}

// Name returns the cache name used in logs and metrics.
func (c *Cache[K, V]) Name() string {
	return c.name
}

// Acquire returns the current generation. The caller must Release it and must
// not keep references to it afterwards.
func (c *Cache[K, V]) Acquire() *Generation[K, V] {
	g := c.current.Load()
	g.readers.Add(1)
	return g
}

// View runs fn with the current generation acquired.
func (c *Cache[K, V]) View(fn func(g *Generation[K, V]) error) error {
	g := c.Acquire()
	defer g.Release()
	return fn(g)
}

// Seq returns the sequence number of the current generation.
func (c *Cache[K, V]) Seq() uint64 {
	return c.current.Load().Seq
}

// Rebuilding reports whether a rebuild is active.
func (c *Cache[K, V]) Rebuilding() bool {
	return c.rebuilding.Load()
}

// BeginRebuild claims the single writer slot.
func (c *Cache[K, V]) BeginRebuild() (*Rebuild[K, V], error) {
	if !c.rebuilding.CompareAndSwap(false, true) {
		return nil, ErrRebuildInProgress
	}
	return &Rebuild[K, V]{c: c}, nil
}

// Rebuild is the writer token returned by BeginRebuild. It is finished by
// exactly one Commit or Abort; later calls are no-ops.
type Rebuild[K comparable, V any] struct {
	c    *Cache[K, V]
	done atomic.Bool
}

// Commit publishes entries as the next generation. The cache takes ownership
// of entries. It returns nil if the token was already finished.
func (r *Rebuild[K, V]) Commit(entries map[K]V) *Generation[K, V] {
	if !r.done.CompareAndSwap(false, true) {
		return nil
	}
	if entries == nil {
		entries = map[K]V{}
	}
	g := &Generation[K, V]{
		Seq:     r.c.current.Load().Seq + 1,
		Built:   time.Now(),
		entries: entries,
	}
	r.c.current.Store(g)
	r.c.rebuilding.Store(false)
	metrics.RecordCacheGeneration(r.c.name, g.Seq, len(entries))
	return g
}

// Abort releases the writer slot and keeps the current generation.
func (r *Rebuild[K, V]) Abort() {
	if r.done.CompareAndSwap(false, true) {
		r.c.rebuilding.Store(false)
	}
}
