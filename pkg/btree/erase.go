// pkg/btree/erase.go
package btree

import (
	"pagekv/pkg/pager"
)

// Erase removes k.
//
// Every child is brought above the minimum occupancy before the descent
// enters it, by stealing from or merging with a sibling, so the final leaf
// deletion never underflows a node. Restructuring done on the way down is
// kept even when k turns out to be absent.
func (t *BTree) Erase(k Key) (EraseResult, error) {
	if err := checkKey(t.kt, k); err != nil {
		return NotFound, err
	}
	t.scan.RLock()
	defer t.scan.RUnlock()

	n := t.rootNode()
	n.lock()
	if !n.isLeaf() && n.count() == 1 {
		if err := t.collapseRoot(n); err != nil {
			n.release()
			return NotFound, err
		}
	}

	// If k is the separator of the subtree it lives in, that separator is
	// the subtree maximum and must be replaced once the leaf entry is gone.
	// The node holding it stays latched until then.
	var holder *node
	holderIdx := 0
	releaseAll := func() {
		n.release()
		if holder != nil {
			holder.release()
		}
	}

	for !n.isLeaf() {
		i := n.childIndex(k)
		child, err := t.fetch(n.child(i))
		if err != nil {
			releaseAll()
			return NotFound, err
		}
		child.lock()
		if child.count() <= MinKeys {
			child, i, err = t.rebalance(n, i, child)
			if err != nil {
				releaseAll()
				return NotFound, err
			}
		}
		if holder == nil && i < n.count() && k.Compare(n.keyAt(i)) == 0 {
			holder, holderIdx = n, i
		} else {
			n.release()
		}
		n = child
	}
	defer releaseAll()

	i, found := n.search(k)
	if !found {
		return NotFound, nil
	}
	if err := t.dropValue(n, n.slot(i)); err != nil {
		return NotFound, err
	}
	n.leafRemove(i, 1)
	n.touch()
	t.size.Add(^uint32(0))

	if holder != nil && n.count() > 0 {
		holder.setKey(holderIdx, n.keyAt(n.count()-1))
		holder.touch()
	}
	return Erased, nil
}

// rebalance raises child i of parent above the minimum. It prefers the right
// sibling and falls back to the left one for the last child. It returns the
// node now covering child i's key range and its index; on a merge with the
// left sibling that is the sibling. On error every node it was handed except
// parent has been released.
func (t *BTree) rebalance(parent *node, i int, child *node) (*node, int, error) {
	if i < parent.count() {
		sib, err := t.fetch(parent.child(i + 1))
		if err != nil {
			child.release()
			return nil, 0, err
		}
		sib.lock()
		if sib.count() > MinKeys {
			err = t.stealFromRight(parent, i, child, sib)
			sib.release()
		} else {
			err = t.merge(parent, i, child, sib)
		}
		if err != nil {
			child.release()
			return nil, 0, err
		}
		return child, i, nil
	}

	sib, err := t.fetch(parent.child(i - 1))
	if err != nil {
		child.release()
		return nil, 0, err
	}
	sib.lock()
	if sib.count() > MinKeys {
		err := t.stealFromLeft(parent, i, child, sib)
		sib.release()
		if err != nil {
			child.release()
			return nil, 0, err
		}
		return child, i, nil
	}
	if err := t.merge(parent, i-1, sib, child); err != nil {
		sib.release()
		return nil, 0, err
	}
	return sib, i - 1, nil
}

// stealFromRight moves the first entry of r to the end of c, its left
// neighbour at index i of p.
func (t *BTree) stealFromRight(p *node, i int, c, r *node) error {
	cc := c.count()
	if c.isLeaf() {
		if err := t.moveLeafEntries(c, cc, r, 0, 1); err != nil {
			return err
		}
		c.setCount(cc + 1)
		r.leafRemove(0, 1)
		p.setKey(i, c.keyAt(cc))
	} else {
		moved := r.child(0)
		c.setKey(cc, p.keyAt(i))
		c.setChild(cc+1, moved)
		c.setCount(cc + 1)
		p.setKey(i, r.keyAt(0))
		r.internalRemoveFront()
		if err := t.adopt(c, cc+1, cc+2); err != nil {
			return err
		}
	}
	p.touch()
	c.touch()
	r.touch()
	return nil
}

// stealFromLeft moves the last entry of l to the front of c, its right
// neighbour at index i of p.
func (t *BTree) stealFromLeft(p *node, i int, c, l *node) error {
	lc := l.count()
	if c.isLeaf() {
		c.leafShiftRight(1)
		if err := t.moveLeafEntries(c, 0, l, lc-1, 1); err != nil {
			return err
		}
		c.setCount(c.count() + 1)
		l.leafRemove(lc-1, 1)
		p.setKey(i-1, l.keyAt(lc-2))
	} else {
		c.internalShiftRight()
		c.setKey(0, p.keyAt(i-1))
		c.setChild(0, l.child(lc))
		c.setCount(c.count() + 1)
		p.setKey(i-1, l.keyAt(lc-1))
		clear(l.keyBytes(lc-1, 1))
		clear(l.childBytes(lc, 1))
		l.setCount(lc - 1)
		if err := t.adopt(c, 0, 1); err != nil {
			return err
		}
	}
	p.touch()
	c.touch()
	l.touch()
	return nil
}

// merge folds r, child i+1 of p, into l, child i, and drops separator i.
// r is always released; on success it is also removed from the pool.
func (t *BTree) merge(p *node, i int, l, r *node) error {
	lc, rc := l.count(), r.count()
	if l.isLeaf() {
		if err := t.moveLeafEntries(l, lc, r, 0, rc); err != nil {
			r.release()
			return err
		}
		l.setCount(lc + rc)
		if next := r.next(); next != pager.InvalidPageID {
			nn, err := t.fetch(next)
			if err != nil {
				r.release()
				return err
			}
			nn.lock()
			nn.setPrev(l.id())
			nn.touch()
			nn.release()
		}
		l.setNext(r.next())
	} else {
		l.setKey(lc, p.keyAt(i))
		moveKeys(l, lc+1, r, 0, rc)
		moveChildren(l, lc+1, r, 0, rc+1)
		l.setCount(lc + 1 + rc)
		if err := t.adopt(l, lc+1, lc+2+rc); err != nil {
			r.release()
			return err
		}
	}
	p.internalRemove(i)
	p.touch()
	l.touch()
	t.discard(r)
	return nil
}

// collapseRoot folds both children of a one-separator root into the root
// when both sit at the minimum. This is the only way the tree shrinks in
// height.
func (t *BTree) collapseRoot(root *node) error {
	l, err := t.fetch(root.child(0))
	if err != nil {
		return err
	}
	l.lock()
	r, err := t.fetch(root.child(1))
	if err != nil {
		l.release()
		return err
	}
	r.lock()
	if l.count() > MinKeys || r.count() > MinKeys {
		l.release()
		r.release()
		return nil
	}

	lc, rc := l.count(), r.count()
	if l.isLeaf() {
		clear(root.keyBytes(0, MaxKeys))
		clear(root.childBytes(0, MaxChildren))
		// The root takes over the left leaf's value page and slots.
		root.setValuePage(l.valuePage())
		if err := t.moveLeafEntries(root, 0, l, 0, lc); err != nil {
			l.release()
			r.release()
			return err
		}
		if err := t.moveLeafEntries(root, lc, r, 0, rc); err != nil {
			l.release()
			r.release()
			return err
		}
		root.setCount(lc + rc)
		root.setPrev(pager.InvalidPageID)
		root.setNext(pager.InvalidPageID)
		root.page.SetType(pager.TypeRootLeaf)
		l.setValuePage(pager.InvalidPageID)
	} else {
		sep := root.keyAt(0).Clone()
		moveKeys(root, 0, l, 0, lc)
		root.setKey(lc, sep)
		moveKeys(root, lc+1, r, 0, rc)
		moveChildren(root, 0, l, 0, lc+1)
		moveChildren(root, lc+1, r, 0, rc+1)
		root.setCount(lc + 1 + rc)
		if err := t.adopt(root, 0, root.count()+1); err != nil {
			l.release()
			r.release()
			return err
		}
	}
	root.touch()
	t.discard(l)
	t.discard(r)
	return nil
}
