// pkg/cache/cache.go

// Package cache maps page ids to in-memory pages. It combines a sharded
// hash index with a separate LRU list that bounds how many pages stay
// resident.
package cache

import (
	"container/list"
	"encoding/binary"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"pagekv/pkg/pager"
)

const (
	DefaultMaxSize        = 1024
	DefaultInitialBuckets = 64
	DefaultMaxBuckets     = 1 << 16
	DefaultLoadFactor     = 4
)

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	MaxSize        int // pages kept on the LRU list before eviction starts
	InitialBuckets int
	MaxBuckets     int
	LoadFactor     int // bucket length that triggers a rehash

	// OnEvict runs for every evicted page before it leaves the index.
	OnEvict func(*pager.Page)

	Logger *zap.Logger
}

// Stats holds statistics about the cache
type Stats struct {
	Entries   int
	LRULen    int
	Buckets   int
	Evictions uint64
	Rehashes  uint64
}

// handle is one cache entry. It is linked from its bucket and from the LRU
// list, holds one page reference, and drops it once both links are gone.
type handle struct {
	id   pager.PageID
	page *pager.Page
	refs atomic.Int32
	elem *list.Element
}

func (h *handle) unref() {
	if h.refs.Add(-1) == 0 {
		h.page.Unref()
	}
}

type bucket struct {
	mu      sync.Mutex
	entries []*handle
}

func (b *bucket) find(id pager.PageID) *handle {
	for _, h := range b.entries {
		if h.id == id {
			return h
		}
	}
	return nil
}

func (b *bucket) remove(id pager.PageID) *handle {
	for i, h := range b.entries {
		if h.id == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return h
		}
	}
	return nil
}

func (b *bucket) removeHandle(target *handle) bool {
	for i, h := range b.entries {
		if h == target {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Cache is a concurrent page id -> page map with LRU eviction.
//
// Lock order: resize, then one bucket, then the LRU list.
type Cache struct {
	opts   Options
	logger *zap.Logger

	resize  sync.RWMutex
	buckets []*bucket

	lru *lruList

	size      atomic.Int64
	evictions atomic.Uint64
	rehashes  atomic.Uint64
}

// New creates an empty cache
func New(opts Options) *Cache {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.InitialBuckets <= 0 {
		opts.InitialBuckets = DefaultInitialBuckets
	}
	if opts.MaxBuckets <= 0 {
		opts.MaxBuckets = DefaultMaxBuckets
	}
	if opts.LoadFactor <= 0 {
		opts.LoadFactor = DefaultLoadFactor
	}
	opts.InitialBuckets = ceilPow2(opts.InitialBuckets)
	opts.MaxBuckets = ceilPow2(opts.MaxBuckets)
	if opts.MaxBuckets < opts.InitialBuckets {
		opts.MaxBuckets = opts.InitialBuckets
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Cache{
		opts:    opts,
		logger:  opts.Logger.Named("cache"),
		buckets: newBuckets(opts.InitialBuckets),
		lru:     newLRUList(),
	}
}

func newBuckets(n int) []*bucket {
	bs := make([]*bucket, n)
	for i := range bs {
		bs[i] = &bucket{}
	}
	return bs
}

func ceilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func hashID(id pager.PageID) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(id))
	return xxhash.Sum64(b[:])
}

// bucketFor must be called with resize held.
func (c *Cache) bucketFor(id pager.PageID) *bucket {
	return c.buckets[hashID(id)&uint64(len(c.buckets)-1)]
}

// Insert adds page under id and takes a reference on it. It returns false,
// leaving the cache unchanged, if id is already present.
func (c *Cache) Insert(id pager.PageID, page *pager.Page) bool {
	h := &handle{id: id, page: page}
	h.refs.Store(2)

	c.resize.RLock()
	b := c.bucketFor(id)
	b.mu.Lock()
	if b.find(id) != nil {
		b.mu.Unlock()
		c.resize.RUnlock()
		return false
	}
	page.Ref()
	b.entries = append(b.entries, h)
	crowded := len(b.entries) > c.opts.LoadFactor
	c.lru.pushFront(h)
	b.mu.Unlock()
	c.resize.RUnlock()

	c.size.Add(1)
	if crowded {
		c.grow()
	}
	c.evict()
	return true
}

// Find returns the page cached under id with a reference taken for the
// caller, or nil. updateLRU moves the entry to the front of the LRU list.
func (c *Cache) Find(id pager.PageID, updateLRU bool) *pager.Page {
	c.resize.RLock()
	defer c.resize.RUnlock()
	b := c.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.find(id)
	if h == nil {
		return nil
	}
	h.page.Ref()
	if updateLRU {
		c.lru.touch(h)
	}
	return h.page
}

// Contains reports whether id is in the index.
func (c *Cache) Contains(id pager.PageID) bool {
	c.resize.RLock()
	defer c.resize.RUnlock()
	b := c.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.find(id) != nil
}

// Erase removes id from the index and the LRU list.
func (c *Cache) Erase(id pager.PageID) bool {
	c.resize.RLock()
	b := c.bucketFor(id)
	b.mu.Lock()
	h := b.remove(id)
	var unlinked bool
	if h != nil {
		unlinked = c.lru.remove(h)
	}
	b.mu.Unlock()
	c.resize.RUnlock()

	if h == nil {
		return false
	}
	c.size.Add(-1)
	h.unref()
	if unlinked {
		h.unref()
	}
	return true
}

// Pages returns every cached page with a reference taken on each. The
// caller drops the references.
func (c *Cache) Pages() []*pager.Page {
	c.resize.RLock()
	defer c.resize.RUnlock()
	pages := make([]*pager.Page, 0, c.size.Load())
	for _, b := range c.buckets {
		b.mu.Lock()
		for _, h := range b.entries {
			h.page.Ref()
			pages = append(pages, h.page)
		}
		b.mu.Unlock()
	}
	return pages
}

// Len returns the number of indexed pages.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// MaxSize returns the LRU bound.
func (c *Cache) MaxSize() int {
	return c.opts.MaxSize
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.resize.RLock()
	nb := len(c.buckets)
	c.resize.RUnlock()
	return Stats{
		Entries:   c.Len(),
		LRULen:    c.lru.len(),
		Buckets:   nb,
		Evictions: c.evictions.Load(),
		Rehashes:  c.rehashes.Load(),
	}
}

// evict drops least recently used handles until the LRU list is back
// within bounds. An evicted page that is still pinned elsewhere leaves the
// index but stays alive until its last reference is dropped.
func (c *Cache) evict() {
	for {
		h := c.lru.popBack(c.opts.MaxSize)
		if h == nil {
			return
		}
		h.page.MarkDirty()
		if c.opts.OnEvict != nil {
			c.opts.OnEvict(h.page)
		}

		c.resize.RLock()
		b := c.bucketFor(h.id)
		b.mu.Lock()
		removed := b.removeHandle(h)
		b.mu.Unlock()
		c.resize.RUnlock()

		if removed {
			c.size.Add(-1)
			h.unref()
		}
		c.evictions.Add(1)
		if refs := h.page.Refs(); refs > 1 {
			c.logger.Debug("evicting pinned page",
				zap.Uint32("page", uint32(h.id)), zap.Int32("refs", refs))
		}
		h.unref()
	}
}

// grow doubles the bucket array while some bucket is over the load factor
// and the bucket bound allows it.
func (c *Cache) grow() {
	c.resize.Lock()
	defer c.resize.Unlock()
	if len(c.buckets) >= c.opts.MaxBuckets || !c.crowdedLocked() {
		return
	}

	next := newBuckets(len(c.buckets) * 2)
	mask := uint64(len(next) - 1)
	for _, b := range c.buckets {
		for _, h := range b.entries {
			nb := next[hashID(h.id)&mask]
			nb.entries = append(nb.entries, h)
		}
	}
	c.buckets = next
	c.rehashes.Add(1)
	c.logger.Debug("rehashed page index", zap.Int("buckets", len(next)))
}

func (c *Cache) crowdedLocked() bool {
	for _, b := range c.buckets {
		if len(b.entries) > c.opts.LoadFactor {
			return true
		}
	}
	return false
}
