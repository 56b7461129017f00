// pkg/bufferpool/pool_test.go
package bufferpool

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"

	"pagekv/pkg/pager"
)

func newTestPool(t *testing.T, maxSize int) (*Pool, *pager.DiskManager) {
	t.Helper()
	dm, err := pager.OpenDisk(pager.MemoryPath, pager.DiskOptions{})
	if err != nil {
		t.Fatalf("failed to open disk: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return New(dm, Options{MaxSize: maxSize}), dm
}

var valueInfo = pager.InitInfo{Type: pager.TypeValue}

// The first bytes after the common header hold a test counter.
func counter(p *pager.Page) uint64 {
	return binary.LittleEndian.Uint64(p.Data()[pager.CommonHeaderSize:])
}

func setCounter(p *pager.Page, v uint64) {
	binary.LittleEndian.PutUint64(p.Data()[pager.CommonHeaderSize:], v)
	p.MarkDirty()
}

func TestPool_NewAndFetch(t *testing.T) {
	bp, _ := newTestPool(t, 16)

	pin, err := bp.New(valueInfo)
	if err != nil {
		t.Fatalf("failed to create page: %v", err)
	}
	id := pin.ID()
	if !pin.Page().IsDirty() {
		t.Error("new page should be dirty")
	}

	again, err := bp.Fetch(id)
	if err != nil {
		t.Fatalf("failed to fetch page: %v", err)
	}
	if again.Page() != pin.Page() {
		t.Error("expected fetch to return the cached page")
	}
	again.Release()
	pin.Release()
	pin.Release() // idempotent

	if st := bp.Stats(); st.Hits != 1 || st.Cache.Entries != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestPool_FetchInvalid(t *testing.T) {
	bp, _ := newTestPool(t, 16)
	if _, err := bp.Fetch(pager.InvalidPageID); !errors.Is(err, pager.ErrInvalidPageID) {
		t.Errorf("expected ErrInvalidPageID, got %v", err)
	}
}

func TestPool_EvictionWritesBack(t *testing.T) {
	bp, dm := newTestPool(t, 2)

	var ids []pager.PageID
	for i := 0; i < 6; i++ {
		pin, err := bp.New(valueInfo)
		if err != nil {
			t.Fatalf("failed to create page: %v", err)
		}
		setCounter(pin.Page(), uint64(100+i))
		ids = append(ids, pin.ID())
		pin.Release()
	}
	if n := bp.Stats().Cache.Entries; n > 2 {
		t.Errorf("expected at most 2 cached pages, got %d", n)
	}

	data, err := dm.ReadPage(ids[0])
	if err != nil {
		t.Fatalf("failed to read evicted page: %v", err)
	}
	if got := binary.LittleEndian.Uint64(data[pager.CommonHeaderSize:]); got != 100 {
		t.Errorf("expected evicted page written back with 100, got %d", got)
	}

	for i, id := range ids {
		pin, err := bp.Fetch(id)
		if err != nil {
			t.Fatalf("failed to fetch page %d: %v", id, err)
		}
		if got := counter(pin.Page()); got != uint64(100+i) {
			t.Errorf("page %d: expected %d, got %d", id, 100+i, got)
		}
		pin.Release()
	}
}

func TestPool_PinnedPageSurvivesEviction(t *testing.T) {
	bp, _ := newTestPool(t, 1)

	pin, _ := bp.New(valueInfo)
	setCounter(pin.Page(), 7)

	other, _ := bp.New(valueInfo)
	other.Release()
	if st := bp.Stats(); st.Detached != 1 {
		t.Fatalf("expected pinned page to be detached, got %+v", st)
	}

	// Modify after eviction; the change must not be lost.
	setCounter(pin.Page(), 8)

	again, err := bp.Fetch(pin.ID())
	if err != nil {
		t.Fatalf("failed to fetch: %v", err)
	}
	if again.Page() != pin.Page() {
		t.Error("expected fetch to reattach the live page")
	}
	if counter(again.Page()) != 8 {
		t.Errorf("expected 8, got %d", counter(again.Page()))
	}
	again.Release()
	pin.Release()
}

func TestPool_Delete(t *testing.T) {
	bp, dm := newTestPool(t, 16)
	pin, _ := bp.New(valueInfo)
	id := pin.ID()

	if !bp.Delete(id) {
		t.Fatal("expected delete to succeed")
	}
	if bp.Delete(id) {
		t.Error("expected second delete to fail")
	}
	pin.Release()

	data, err := dm.ReadPage(id)
	if err != nil {
		t.Fatalf("failed to read page: %v", err)
	}
	for _, b := range data {
		if b != 0 {
			t.Fatal("deleted page must not be written back")
		}
	}
}

func TestPool_FlushAndFlushAll(t *testing.T) {
	bp, dm := newTestPool(t, 16)

	if ok, err := bp.Flush(99); ok || err != nil {
		t.Errorf("expected uncached flush to report false, got %v, %v", ok, err)
	}

	var ids []pager.PageID
	for i := 0; i < 5; i++ {
		pin, _ := bp.New(valueInfo)
		setCounter(pin.Page(), uint64(i+1))
		ids = append(ids, pin.ID())
		pin.Release()
	}

	if ok, err := bp.Flush(ids[0]); !ok || err != nil {
		t.Fatalf("expected flush to succeed, got %v, %v", ok, err)
	}
	if err := bp.FlushAll(); err != nil {
		t.Fatalf("failed to flush all: %v", err)
	}
	for i, id := range ids {
		data, err := dm.ReadPage(id)
		if err != nil {
			t.Fatalf("failed to read page %d: %v", id, err)
		}
		if got := binary.LittleEndian.Uint64(data[pager.CommonHeaderSize:]); got != uint64(i+1) {
			t.Errorf("page %d: expected %d on disk, got %d", id, i+1, got)
		}
	}
	if bp.Stats().Writes != 5 {
		t.Errorf("expected 5 writes, got %d", bp.Stats().Writes)
	}
}

func TestPool_ResidentPages(t *testing.T) {
	bp, _ := newTestPool(t, 16)
	root, err := bp.NewResident(pager.InitInfo{Type: pager.TypeRootLeaf, KeyType: pager.KeyInt})
	if err != nil {
		t.Fatalf("failed to create resident page: %v", err)
	}
	if bp.Stats().Cache.Entries != 0 {
		t.Error("resident page must not be cached")
	}
	root.SetCount(3)
	if err := bp.WritePage(root); err != nil {
		t.Fatalf("failed to write resident page: %v", err)
	}

	loaded, err := bp.LoadResident(root.ID())
	if err != nil {
		t.Fatalf("failed to load resident page: %v", err)
	}
	if loaded.Type() != pager.TypeRootLeaf || loaded.Count() != 3 {
		t.Errorf("unexpected resident page: %s count %d", loaded.Type(), loaded.Count())
	}
}

func TestPool_ConcurrentFetch(t *testing.T) {
	bp, _ := newTestPool(t, 4)

	var ids []pager.PageID
	for i := 0; i < 16; i++ {
		pin, _ := bp.New(valueInfo)
		ids = append(ids, pin.ID())
		pin.Release()
	}

	const workers, rounds = 8, 200
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for r := 0; r < rounds; r++ {
				pin, err := bp.Fetch(ids[(w+r)%len(ids)])
				if err != nil {
					return err
				}
				p := pin.Page()
				p.Lock()
				setCounter(p, counter(p)+1)
				p.Unlock()
				pin.Release()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	var total uint64
	for _, id := range ids {
		pin, err := bp.Fetch(id)
		if err != nil {
			t.Fatalf("failed to fetch page %d: %v", id, err)
		}
		total += counter(pin.Page())
		pin.Release()
	}
	if total != workers*rounds {
		t.Errorf("expected %d increments, got %d", workers*rounds, total)
	}
}

func TestStatsString(t *testing.T) {
	s := Stats{Hits: 1234, Misses: 1}
	s.Cache.Entries = 2048
	out := s.String()
	if !strings.Contains(out, "2,048 pages cached (2.0 MiB)") || !strings.Contains(out, "hits 1,234") {
		t.Errorf("unexpected stats string: %s", out)
	}
}
