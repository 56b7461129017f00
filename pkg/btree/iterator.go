// pkg/btree/iterator.go
package btree

import (
	"pagekv/pkg/pager"
)

// Iterator walks leaf entries in key order. It pins the leaf it points into
// and takes no latches, so it must only be used between BeginRangeQuery and
// EndRangeQuery. An iterator past the last entry is the end sentinel.
type Iterator struct {
	t      *BTree
	leaf   *node
	idx    int
	closed bool
}

// FromBegin positions an iterator on the smallest key.
func (t *BTree) FromBegin() (*Iterator, error) {
	leaf, err := t.descend(func(*node) int { return 0 })
	if err != nil {
		return nil, err
	}
	it := &Iterator{t: t, leaf: leaf}
	return it, it.settle()
}

// FromEnd returns the end sentinel.
func (t *BTree) FromEnd() *Iterator {
	return &Iterator{t: t}
}

// FromLeftBound positions an iterator on the first key >= k, or > k when
// inclusive is false.
func (t *BTree) FromLeftBound(k Key, inclusive bool) (*Iterator, error) {
	if err := checkKey(t.kt, k); err != nil {
		return nil, err
	}
	leaf, err := t.descend(func(n *node) int { return n.childIndex(k) })
	if err != nil {
		return nil, err
	}
	i, found := leaf.search(k)
	if found && !inclusive {
		i++
	}
	it := &Iterator{t: t, leaf: leaf, idx: i}
	return it, it.settle()
}

// FromRightBound positions an iterator just past the range ending at k:
// on the first key > k, or >= k when inclusive is false. Iterating from a
// left bound until Equal to a right bound visits exactly the range.
func (t *BTree) FromRightBound(k Key, inclusive bool) (*Iterator, error) {
	return t.FromLeftBound(k, !inclusive)
}

// descend follows pick from the root down to a leaf, holding one pin at a
// time.
func (t *BTree) descend(pick func(*node) int) (*node, error) {
	n := t.rootNode()
	for !n.isLeaf() {
		child, err := t.fetch(n.child(pick(n)))
		n.release()
		if err != nil {
			return nil, err
		}
		n = child
	}
	return n, nil
}

// settle moves a position past the end of a leaf onto the next leaf.
func (it *Iterator) settle() error {
	for it.leaf != nil && it.idx >= it.leaf.count() {
		next := it.leaf.next()
		it.leaf.release()
		it.leaf, it.idx = nil, 0
		if next == pager.InvalidPageID {
			return nil
		}
		leaf, err := it.t.fetch(next)
		if err != nil {
			return err
		}
		it.leaf = leaf
	}
	return nil
}

func (it *Iterator) check() {
	if it.closed {
		panic("btree: use of closed iterator")
	}
}

// Valid reports whether the iterator points at an entry.
func (it *Iterator) Valid() bool {
	it.check()
	return it.leaf != nil
}

// Key returns a copy of the current key.
func (it *Iterator) Key() Key {
	it.check()
	if it.leaf == nil {
		panic("btree: Key on end iterator")
	}
	return it.leaf.keyAt(it.idx).Clone()
}

// Value returns a copy of the current value.
func (it *Iterator) Value() ([]byte, error) {
	it.check()
	if it.leaf == nil {
		panic("btree: Value on end iterator")
	}
	return it.t.readValue(it.leaf, it.idx)
}

// Next advances to the following entry.
func (it *Iterator) Next() error {
	it.check()
	if it.leaf == nil {
		return nil
	}
	it.idx++
	return it.settle()
}

// Prev steps back one entry. From the end sentinel it moves to the last
// entry; from the first entry it becomes the end sentinel.
func (it *Iterator) Prev() error {
	it.check()
	if it.leaf == nil {
		leaf, err := it.t.descend(func(n *node) int { return n.count() })
		if err != nil {
			return err
		}
		it.leaf, it.idx = leaf, leaf.count()-1
		if it.idx < 0 {
			leaf.release()
			it.leaf, it.idx = nil, 0
		}
		return nil
	}
	it.idx--
	for it.idx < 0 {
		prev := it.leaf.prev()
		it.leaf.release()
		it.leaf, it.idx = nil, 0
		if prev == pager.InvalidPageID {
			return nil
		}
		leaf, err := it.t.fetch(prev)
		if err != nil {
			return err
		}
		it.leaf, it.idx = leaf, leaf.count()-1
	}
	return nil
}

// Equal reports whether both iterators point at the same position.
func (it *Iterator) Equal(o *Iterator) bool {
	it.check()
	o.check()
	if it.leaf == nil || o.leaf == nil {
		return it.leaf == nil && o.leaf == nil
	}
	return it.leaf.id() == o.leaf.id() && it.idx == o.idx
}

// Close releases the pinned leaf. The iterator must not be used afterwards.
func (it *Iterator) Close() {
	if it.closed {
		return
	}
	if it.leaf != nil {
		it.leaf.release()
		it.leaf = nil
	}
	it.closed = true
}

// Scan calls fn for each entry with lo <= key <= hi in order, stopping
// early when fn returns false. A nil bound is open. Scan holds the range
// lock for its whole duration.
func (t *BTree) Scan(lo, hi Key, fn func(k Key, v []byte) bool) error {
	if lo != nil && hi != nil && lo.Compare(hi) > 0 {
		return nil
	}
	t.BeginRangeQuery()
	defer t.EndRangeQuery()

	var it *Iterator
	var err error
	if lo == nil {
		it, err = t.FromBegin()
	} else {
		it, err = t.FromLeftBound(lo, true)
	}
	if err != nil {
		return err
	}
	defer it.Close()

	end := t.FromEnd()
	if hi != nil {
		if end, err = t.FromRightBound(hi, true); err != nil {
			return err
		}
	}
	defer end.Close()

	for it.Valid() && !it.Equal(end) {
		v, err := it.Value()
		if err != nil {
			return err
		}
		if !fn(it.Key(), v) {
			return nil
		}
		if err := it.Next(); err != nil {
			return err
		}
	}
	return nil
}
