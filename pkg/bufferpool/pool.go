// pkg/bufferpool/pool.go

// Package bufferpool caches fixed-size pages in memory in front of a disk
// manager. Pages are handed out pinned and written back when the last
// reference to an evicted or dirty page goes away.
package bufferpool

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"pagekv/pkg/cache"
	"pagekv/pkg/pager"
)

// Disk is the block device behind a pool.
type Disk interface {
	ReadPage(id pager.PageID) ([]byte, error)
	WritePage(id pager.PageID, data []byte) error
	AllocatePage() pager.PageID
	CurrentPageID() pager.PageID
}

// Options configures a Pool. Zero values select the cache defaults.
type Options struct {
	MaxSize        int // resident pages before LRU eviction
	InitialBuckets int
	MaxBuckets     int
	LoadFactor     int
	FlushWorkers   int // parallel writers in FlushAll, default 4
	Logger         *zap.Logger
}

// Stats holds statistics about the pool
type Stats struct {
	Cache    cache.Stats
	Detached int
	Hits     uint64
	Misses   uint64
	Writes   uint64
}

// String renders the stats for humans
func (s Stats) String() string {
	hitRate := 0.0
	if total := s.Hits + s.Misses; total > 0 {
		hitRate = float64(s.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("%s pages cached (%s), %s detached, %s buckets, hits %s, misses %s (%.1f%% hit rate), %s evictions, %s writes",
		humanize.Comma(int64(s.Cache.Entries)),
		humanize.IBytes(uint64(s.Cache.Entries)*pager.PageSize),
		humanize.Comma(int64(s.Detached)),
		humanize.Comma(int64(s.Cache.Buckets)),
		humanize.Comma(int64(s.Hits)),
		humanize.Comma(int64(s.Misses)),
		hitRate,
		humanize.Comma(int64(s.Cache.Evictions)),
		humanize.Comma(int64(s.Writes)),
	)
}

// Pool is a page cache over a Disk.
//
// A page evicted while pinned is parked in the detached set until its last
// pin goes away, so that a concurrent Fetch finds the live copy instead of
// reading a stale block from disk.
type Pool struct {
	disk   Disk
	cache  *cache.Cache
	loads  singleflight.Group
	opts   Options
	logger *zap.Logger

	detachedMu sync.Mutex
	detached   map[pager.PageID]*pager.Page

	hits   atomic.Uint64
	misses atomic.Uint64
	writes atomic.Uint64
}

// New creates a pool over disk
func New(disk Disk, opts Options) *Pool {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FlushWorkers <= 0 {
		opts.FlushWorkers = 4
	}
	bp := &Pool{
		disk:     disk,
		opts:     opts,
		logger:   opts.Logger.Named("bufferpool"),
		detached: make(map[pager.PageID]*pager.Page),
	}
	bp.cache = cache.New(cache.Options{
		MaxSize:        opts.MaxSize,
		InitialBuckets: opts.InitialBuckets,
		MaxBuckets:     opts.MaxBuckets,
		LoadFactor:     opts.LoadFactor,
		OnEvict:        bp.detach,
		Logger:         opts.Logger,
	})
	return bp
}

// Fetch returns page id pinned, reading it from disk on a miss. Concurrent
// misses on one id share a single disk read.
func (bp *Pool) Fetch(id pager.PageID) (*Pin, error) {
	if id == pager.InvalidPageID {
		bp.logger.Error("fetch of the invalid page id")
		return nil, pager.ErrInvalidPageID
	}
	for {
		if p := bp.cache.Find(id, true); p != nil {
			bp.hits.Add(1)
			return newPin(p), nil
		}
		bp.misses.Add(1)
		if _, err, _ := bp.loads.Do(strconv.FormatUint(uint64(id), 10), func() (any, error) {
			return nil, bp.load(id)
		}); err != nil {
			return nil, err
		}
	}
}

// load installs page id in the cache. Loads of one id never overlap, so a
// page absent from both the cache and the detached set has been fully
// written back and the disk copy is current.
func (bp *Pool) load(id pager.PageID) error {
	for {
		if bp.cache.Contains(id) {
			return nil
		}

		bp.detachedMu.Lock()
		p, ok := bp.detached[id]
		bp.detachedMu.Unlock()
		if ok {
			if !p.TryRef() {
				// The last pin is gone and the write-back is in flight.
				runtime.Gosched()
				continue
			}
			bp.cache.Insert(id, p)
			bp.undetach(p)
			p.Unref()
			return nil
		}

		data, err := bp.disk.ReadPage(id)
		if err != nil {
			return err
		}
		p, err = pager.LoadPage(id, data)
		if err != nil {
			return err
		}
		p.SetReleaser(bp.release)
		bp.cache.Insert(id, p)
		return nil
	}
}

// New allocates a page id and returns a fresh dirty page, pinned.
func (bp *Pool) New(info pager.InitInfo) (*Pin, error) {
	p, err := bp.newPage(info)
	if err != nil {
		return nil, err
	}
	p.Ref()
	if !bp.cache.Insert(p.ID(), p) {
		panic(fmt.Sprintf("bufferpool: freshly allocated page %d already cached", p.ID()))
	}
	return newPin(p), nil
}

// NewResident allocates a page that bypasses the cache. The caller owns it
// for its whole lifetime and writes it back with WritePage.
func (bp *Pool) NewResident(info pager.InitInfo) (*pager.Page, error) {
	return bp.newPage(info)
}

// LoadResident reads a page from disk without caching it.
func (bp *Pool) LoadResident(id pager.PageID) (*pager.Page, error) {
	if id == pager.InvalidPageID {
		return nil, pager.ErrInvalidPageID
	}
	data, err := bp.disk.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return pager.LoadPage(id, data)
}

func (bp *Pool) newPage(info pager.InitInfo) (*pager.Page, error) {
	id := bp.disk.AllocatePage()
	p, err := pager.NewPage(id, info)
	if err != nil {
		return nil, err
	}
	p.SetReleaser(bp.release)
	p.MarkDirty()
	return p, nil
}

// WritePage writes p back if it is dirty. The caller holds p's latch in at
// least shared mode, or is its only user.
func (bp *Pool) WritePage(p *pager.Page) error {
	if !p.IsDirty() || p.IsFreed() {
		return nil
	}
	if err := bp.disk.WritePage(p.ID(), p.Snapshot()); err != nil {
		p.MarkDirty()
		return err
	}
	bp.writes.Add(1)
	return nil
}

// Flush writes back page id if it is cached. It reports whether it was.
func (bp *Pool) Flush(id pager.PageID) (bool, error) {
	p := bp.cache.Find(id, false)
	if p == nil {
		return false, nil
	}
	defer p.Unref()
	p.RLock()
	defer p.RUnlock()
	return true, bp.WritePage(p)
}

// Delete drops page id from the pool. The page is never written back.
func (bp *Pool) Delete(id pager.PageID) bool {
	if p := bp.cache.Find(id, false); p != nil {
		p.MarkFreed()
		p.Unref()
	}
	bp.detachedMu.Lock()
	if p, ok := bp.detached[id]; ok {
		p.MarkFreed()
		delete(bp.detached, id)
	}
	bp.detachedMu.Unlock()
	return bp.cache.Erase(id)
}

// FlushAll writes back every dirty page held by the pool.
func (bp *Pool) FlushAll() error {
	pages := bp.cache.Pages()
	bp.detachedMu.Lock()
	for _, p := range bp.detached {
		if p.TryRef() {
			pages = append(pages, p)
		}
	}
	bp.detachedMu.Unlock()

	var g errgroup.Group
	g.SetLimit(bp.opts.FlushWorkers)
	for _, p := range pages {
		p := p
		g.Go(func() error {
			defer p.Unref()
			p.RLock()
			defer p.RUnlock()
			return bp.WritePage(p)
		})
	}
	return errors.Wrap(g.Wait(), "flush all")
}

// Stats returns a snapshot of the pool counters.
func (bp *Pool) Stats() Stats {
	bp.detachedMu.Lock()
	detached := len(bp.detached)
	bp.detachedMu.Unlock()
	return Stats{
		Cache:    bp.cache.Stats(),
		Detached: detached,
		Hits:     bp.hits.Load(),
		Misses:   bp.misses.Load(),
		Writes:   bp.writes.Load(),
	}
}

// detach runs before an evicted page leaves the index.
func (bp *Pool) detach(p *pager.Page) {
	if p.IsFreed() {
		return
	}
	bp.detachedMu.Lock()
	bp.detached[p.ID()] = p
	bp.detachedMu.Unlock()
}

func (bp *Pool) undetach(p *pager.Page) {
	bp.detachedMu.Lock()
	if bp.detached[p.ID()] == p {
		delete(bp.detached, p.ID())
	}
	bp.detachedMu.Unlock()
}

// release runs when the last reference to a cached page is dropped. The
// write-back finishes before the page leaves the detached set.
func (bp *Pool) release(p *pager.Page) {
	if p.IsDirty() && !p.IsFreed() {
		if err := bp.WritePage(p); err != nil {
			bp.logger.Error("write-back of released page failed",
				zap.Uint32("page", uint32(p.ID())), zap.Error(err))
		}
	}
	bp.undetach(p)
}
