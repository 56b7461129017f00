// pkg/cache/cache_test.go
package cache

import (
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"pagekv/pkg/pager"
)

type releaseCounter struct {
	mu       sync.Mutex
	released map[pager.PageID]int
}

func (rc *releaseCounter) page(t *testing.T, id pager.PageID) *pager.Page {
	t.Helper()
	p, err := pager.NewPage(id, pager.InitInfo{Type: pager.TypeValue})
	if err != nil {
		t.Fatalf("failed to create page %d: %v", id, err)
	}
	p.SetReleaser(func(p *pager.Page) {
		rc.mu.Lock()
		rc.released[p.ID()]++
		rc.mu.Unlock()
	})
	return p
}

func (rc *releaseCounter) count(id pager.PageID) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.released[id]
}

func newCounter() *releaseCounter {
	return &releaseCounter{released: make(map[pager.PageID]int)}
}

func TestCache_InsertFindErase(t *testing.T) {
	rc := newCounter()
	c := New(Options{MaxSize: 16})

	p := rc.page(t, 1)
	if !c.Insert(1, p) {
		t.Fatal("expected first insert to succeed")
	}
	if c.Insert(1, rc.page(t, 1)) {
		t.Error("expected duplicate insert to fail")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}

	got := c.Find(1, true)
	if got != p {
		t.Fatalf("expected cached page, got %v", got)
	}
	if got.Refs() != 2 {
		t.Errorf("expected cache ref plus caller ref, got %d", got.Refs())
	}
	got.Unref()

	if c.Find(2, false) != nil {
		t.Error("expected miss for unknown id")
	}

	if !c.Erase(1) {
		t.Fatal("expected erase to succeed")
	}
	if c.Erase(1) {
		t.Error("expected second erase to fail")
	}
	if rc.count(1) != 1 {
		t.Errorf("expected page to be released once after erase, got %d", rc.count(1))
	}
	if c.Len() != 0 || c.Stats().LRULen != 0 {
		t.Errorf("expected empty cache, got %+v", c.Stats())
	}
}

func TestCache_EvictionBounded(t *testing.T) {
	rc := newCounter()
	var evicted atomic.Int32
	c := New(Options{MaxSize: 4, OnEvict: func(*pager.Page) { evicted.Add(1) }})

	for id := pager.PageID(1); id <= 10; id++ {
		c.Insert(id, rc.page(t, id))
	}
	if c.Len() != 4 {
		t.Errorf("expected 4 resident pages, got %d", c.Len())
	}
	if evicted.Load() != 6 {
		t.Errorf("expected 6 evictions, got %d", evicted.Load())
	}
	for id := pager.PageID(1); id <= 6; id++ {
		if rc.count(id) != 1 {
			t.Errorf("expected page %d released after eviction", id)
		}
		if c.Contains(id) {
			t.Errorf("evicted page %d still indexed", id)
		}
	}
	for id := pager.PageID(7); id <= 10; id++ {
		if !c.Contains(id) {
			t.Errorf("expected page %d to stay cached", id)
		}
	}
}

func TestCache_LRUOrder(t *testing.T) {
	rc := newCounter()
	c := New(Options{MaxSize: 3})
	for id := pager.PageID(1); id <= 3; id++ {
		c.Insert(id, rc.page(t, id))
	}
	// Touch 1 so 2 becomes the least recently used entry.
	c.Find(1, true).Unref()
	// Find without updateLRU leaves 3 where it is.
	c.Find(3, false).Unref()

	c.Insert(4, rc.page(t, 4))
	if c.Contains(2) {
		t.Error("expected page 2 to be evicted")
	}
	if !c.Contains(1) || !c.Contains(3) {
		t.Error("expected pages 1 and 3 to stay cached")
	}
}

func TestCache_PinnedPageOutlivesEviction(t *testing.T) {
	rc := newCounter()
	c := New(Options{MaxSize: 1})

	p := rc.page(t, 1)
	c.Insert(1, p)
	pinned := c.Find(1, false)

	c.Insert(2, rc.page(t, 2))
	if c.Contains(1) {
		t.Fatal("expected page 1 to leave the index")
	}
	if !pinned.IsDirty() {
		t.Error("evicted page should be marked dirty")
	}
	if rc.count(1) != 0 {
		t.Fatal("pinned page must not be released")
	}
	pinned.Unref()
	if rc.count(1) != 1 {
		t.Errorf("expected release after unpin, got %d", rc.count(1))
	}
}

func TestCache_Rehash(t *testing.T) {
	rc := newCounter()
	c := New(Options{MaxSize: 1000, InitialBuckets: 2, MaxBuckets: 64, LoadFactor: 2})
	for id := pager.PageID(1); id <= 200; id++ {
		c.Insert(id, rc.page(t, id))
	}
	st := c.Stats()
	if st.Buckets != 64 {
		t.Errorf("expected bucket count to reach the bound of 64, got %d", st.Buckets)
	}
	if st.Rehashes == 0 {
		t.Error("expected at least one rehash")
	}
	for id := pager.PageID(1); id <= 200; id++ {
		if !c.Contains(id) {
			t.Fatalf("page %d lost during rehash", id)
		}
	}
}

func TestCache_Pages(t *testing.T) {
	rc := newCounter()
	c := New(Options{})
	for id := pager.PageID(1); id <= 5; id++ {
		c.Insert(id, rc.page(t, id))
	}
	pages := c.Pages()
	if len(pages) != 5 {
		t.Fatalf("expected 5 pages, got %d", len(pages))
	}
	for _, p := range pages {
		if p.Refs() != 2 {
			t.Errorf("page %d: expected 2 refs, got %d", p.ID(), p.Refs())
		}
		p.Unref()
	}
}

func TestCache_Concurrent(t *testing.T) {
	rc := newCounter()
	c := New(Options{MaxSize: 64, InitialBuckets: 4, LoadFactor: 2})

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 500; i++ {
				id := pager.PageID(w*500 + i + 1)
				c.Insert(id, rc.page(t, id))
				if p := c.Find(id, true); p != nil {
					p.Unref()
				}
				if i%3 == 0 {
					c.Erase(id)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	if c.Len() > 64 {
		t.Errorf("expected at most 64 resident pages, got %d", c.Len())
	}
}
