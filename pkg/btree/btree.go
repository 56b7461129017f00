// pkg/btree/btree.go

// Package btree implements a concurrent B+Tree of degree 8 over pages
// served by a buffer pool. Keys are fixed-width integers or short strings;
// each leaf keeps its values in a dedicated value page.
package btree

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"pagekv/pkg/bufferpool"
	"pagekv/pkg/pager"
)

var (
	ErrKeyTooLong   = errors.Errorf("key longer than %d bytes", pager.MaxStringKeyLen)
	ErrValueTooLong = errors.Errorf("value longer than %d bytes", MaxValueSize)
	ErrKeyType      = errors.New("key does not match the tree key type")
)

// PagePool is the page source of a tree.
type PagePool interface {
	Fetch(id pager.PageID) (*bufferpool.Pin, error)
	New(info pager.InitInfo) (*bufferpool.Pin, error)
	Delete(id pager.PageID) bool
	NewResident(info pager.InitInfo) (*pager.Page, error)
	LoadResident(id pager.PageID) (*pager.Page, error)
	WritePage(p *pager.Page) error
}

// InsertResult reports the outcome of Insert.
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyExists
)

func (r InsertResult) String() string {
	if r == AlreadyExists {
		return "already exists"
	}
	return "inserted"
}

// EraseResult reports the outcome of Erase.
type EraseResult int

const (
	Erased EraseResult = iota
	NotFound
)

func (r EraseResult) String() string {
	if r == NotFound {
		return "not found"
	}
	return "erased"
}

// BTree is a B+Tree whose root page stays resident for the tree's lifetime.
//
// Point operations hold the range lock shared and crab page latches top
// down. Iterators hold it exclusively and take no page latches.
type BTree struct {
	pool PagePool
	root *pager.Page
	kt   pager.KeyType
	size atomic.Uint32
	scan sync.RWMutex
}

// Create builds an empty tree: a root leaf and its value page.
func Create(pool PagePool, kt pager.KeyType) (*BTree, error) {
	if kt.Width() == 0 {
		return nil, ErrKeyType
	}
	root, err := pool.NewResident(pager.InitInfo{Type: pager.TypeRootLeaf, KeyType: kt})
	if err != nil {
		return nil, errors.Wrap(err, "create root")
	}
	vp, err := pool.New(pager.InitInfo{Type: pager.TypeValue, Parent: root.ID()})
	if err != nil {
		return nil, errors.Wrap(err, "create root value page")
	}
	wrapNode(root, nil).setValuePage(vp.ID())
	vp.Release()
	root.MarkDirty()
	return &BTree{pool: pool, root: root, kt: kt}, nil
}

// Open loads the tree rooted at rootID holding size entries.
func Open(pool PagePool, rootID pager.PageID, size uint32) (*BTree, error) {
	root, err := pool.LoadResident(rootID)
	if err != nil {
		return nil, errors.Wrapf(err, "load root %d", rootID)
	}
	if !root.Type().IsRoot() {
		return nil, &pager.CorruptionError{PageID: rootID, PageType: root.Type(), Message: "not a root page"}
	}
	t := &BTree{pool: pool, root: root, kt: root.KeyType()}
	t.size.Store(size)
	return t, nil
}

// RootID returns the id of the resident root page.
func (t *BTree) RootID() pager.PageID {
	return t.root.ID()
}

// KeyType returns the key encoding of the tree.
func (t *BTree) KeyType() pager.KeyType {
	return t.kt
}

// Size returns the number of live entries.
func (t *BTree) Size() uint32 {
	return t.size.Load()
}

// Flush writes the root back. Other pages are written by the pool.
func (t *BTree) Flush() error {
	t.root.RLock()
	defer t.root.RUnlock()
	return t.pool.WritePage(t.root)
}

// BeginRangeQuery takes the range lock exclusively. Iterators may only be
// created and used between BeginRangeQuery and EndRangeQuery.
func (t *BTree) BeginRangeQuery() {
	t.scan.Lock()
}

// EndRangeQuery releases the range lock.
func (t *BTree) EndRangeQuery() {
	t.scan.Unlock()
}

func (t *BTree) rootNode() *node {
	return wrapNode(t.root, nil)
}

func (t *BTree) fetch(id pager.PageID) (*node, error) {
	pin, err := t.pool.Fetch(id)
	if err != nil {
		return nil, err
	}
	if !pin.Page().Type().IsTree() || pin.Page().Type().IsRoot() {
		typ := pin.Page().Type()
		pin.Release()
		return nil, &pager.CorruptionError{PageID: id, PageType: typ,
			Message: fmt.Sprintf("expected a tree node, found %s", typ)}
	}
	return wrapNode(pin.Page(), pin), nil
}

func (t *BTree) newNode(typ pager.PageType, parent pager.PageID) (*node, error) {
	pin, err := t.pool.New(pager.InitInfo{Type: typ, Parent: parent, KeyType: t.kt})
	if err != nil {
		return nil, err
	}
	n := wrapNode(pin.Page(), pin)
	n.lock()
	return n, nil
}

func (t *BTree) newValuePage(owner pager.PageID) (pager.PageID, error) {
	pin, err := t.pool.New(pager.InitInfo{Type: pager.TypeValue, Parent: owner})
	if err != nil {
		return pager.InvalidPageID, err
	}
	defer pin.Release()
	return pin.ID(), nil
}

// discard drops a node that left the tree, together with its value page.
func (t *BTree) discard(n *node) {
	if n.isLeaf() && n.valuePage() != pager.InvalidPageID {
		t.pool.Delete(n.valuePage())
	}
	t.pool.Delete(n.id())
	n.release()
}

// adopt points the parent id of children [from, to) of n at n. n is latched
// exclusively; the children are latched one at a time, top down.
func (t *BTree) adopt(n *node, from, to int) error {
	for j := from; j < to; j++ {
		c, err := t.fetch(n.child(j))
		if err != nil {
			return err
		}
		c.lock()
		c.page.SetParent(n.id())
		c.touch()
		c.release()
	}
	return nil
}

// Find returns the value stored under k.
func (t *BTree) Find(k Key) ([]byte, bool, error) {
	if err := checkKey(t.kt, k); err != nil {
		return nil, false, err
	}
	t.scan.RLock()
	defer t.scan.RUnlock()

	n := t.rootNode()
	n.rlock()
	for !n.isLeaf() {
		child, err := t.fetch(n.child(n.childIndex(k)))
		if err != nil {
			n.release()
			return nil, false, err
		}
		child.rlock()
		n.release()
		n = child
	}
	defer n.release()

	i, found := n.search(k)
	if !found {
		return nil, false, nil
	}
	v, err := t.readValue(n, i)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}
