// pkg/btree/insert.go
package btree

import (
	"pagekv/pkg/pager"
)

// Insert stores v under k unless k is already present.
//
// Full nodes are split on the way down, so a child never needs to push a
// separator into a full parent and each parent latch can be dropped as soon
// as the child is latched and known to have room.
func (t *BTree) Insert(k Key, v []byte) (InsertResult, error) {
	if err := checkKey(t.kt, k); err != nil {
		return Inserted, err
	}
	if len(v) > MaxValueSize {
		return Inserted, ErrValueTooLong
	}
	t.scan.RLock()
	defer t.scan.RUnlock()

	n := t.rootNode()
	n.lock()
	if n.full() {
		if err := t.splitRoot(n); err != nil {
			n.release()
			return Inserted, err
		}
	}

	for !n.isLeaf() {
		i := n.childIndex(k)
		child, err := t.fetch(n.child(i))
		if err != nil {
			n.release()
			return Inserted, err
		}
		child.lock()
		if child.full() {
			right, err := t.splitChild(n, i, child)
			if err != nil {
				child.release()
				n.release()
				return Inserted, err
			}
			if k.Compare(n.keyAt(i)) > 0 {
				child.release()
				child = right
			} else {
				right.release()
			}
		}
		// Go latches cannot be downgraded, so the parent is released
		// outright once the child is safe.
		n.release()
		n = child
	}
	defer n.release()
	return t.insertIntoLeaf(n, k, v)
}

func (t *BTree) insertIntoLeaf(n *node, k Key, v []byte) (InsertResult, error) {
	i, found := n.search(k)
	if found {
		return AlreadyExists, nil
	}
	s, err := t.storeValue(n, v)
	if err != nil {
		return Inserted, err
	}
	n.leafInsert(i, k, s)
	n.touch()
	t.size.Add(1)
	return Inserted, nil
}

// splitRoot moves the entries of a full root into two new children and
// leaves the root as an internal node with one separator. This is the only
// way the tree grows in height.
func (t *BTree) splitRoot(root *node) error {
	leaf := root.isLeaf()
	typ := pager.TypeInternal
	if leaf {
		typ = pager.TypeLeaf
	}

	l, err := t.newNode(typ, root.id())
	if err != nil {
		return err
	}
	r, err := t.newNode(typ, root.id())
	if err != nil {
		t.discard(l)
		return err
	}
	defer l.release()
	defer r.release()

	sep := root.keyAt(keyMedian).Clone()
	if leaf {
		vp, err := t.newValuePage(r.id())
		if err != nil {
			return err
		}
		// The left half keeps the root's value page and slots.
		l.setValuePage(root.valuePage())
		r.setValuePage(vp)
		if err := t.moveLeafEntries(l, 0, root, 0, keyMedian+1); err != nil {
			return err
		}
		if err := t.moveLeafEntries(r, 0, root, keyMedian+1, MaxKeys-keyMedian-1); err != nil {
			return err
		}
		l.setCount(keyMedian + 1)
		r.setCount(MaxKeys - keyMedian - 1)
		l.setNext(r.id())
		r.setPrev(l.id())

		root.setValuePage(pager.InvalidPageID)
		root.page.SetType(pager.TypeRootInternal)
	} else {
		moveKeys(l, 0, root, 0, keyMedian)
		moveChildren(l, 0, root, 0, keyMedian+1)
		l.setCount(keyMedian)
		moveKeys(r, 0, root, keyMedian+1, MaxKeys-keyMedian-1)
		moveChildren(r, 0, root, keyMedian+1, MaxKeys-keyMedian)
		r.setCount(MaxKeys - keyMedian - 1)
		if err := t.adopt(l, 0, l.count()+1); err != nil {
			return err
		}
		if err := t.adopt(r, 0, r.count()+1); err != nil {
			return err
		}
	}

	clear(root.keyBytes(0, MaxKeys))
	clear(root.childBytes(0, MaxChildren))
	root.setKey(0, sep)
	root.setChild(0, l.id())
	root.setChild(1, r.id())
	root.setCount(1)

	l.touch()
	r.touch()
	root.touch()
	return nil
}

// splitChild splits the full child i of parent. The new right sibling is
// returned latched and pinned; child stays latched.
func (t *BTree) splitChild(parent *node, i int, child *node) (*node, error) {
	r, err := t.newNode(child.typ(), parent.id())
	if err != nil {
		return nil, err
	}

	sep := child.keyAt(keyMedian).Clone()
	if child.isLeaf() {
		vp, err := t.newValuePage(r.id())
		if err != nil {
			t.discard(r)
			return nil, err
		}
		r.setValuePage(vp)
		if err := t.moveLeafEntries(r, 0, child, keyMedian+1, MaxKeys-keyMedian-1); err != nil {
			r.release()
			return nil, err
		}
		r.setCount(MaxKeys - keyMedian - 1)
		child.setCount(keyMedian + 1)
		clear(child.keyBytes(keyMedian+1, MaxKeys-keyMedian-1))
		clear(child.slotBytes(keyMedian+1, MaxKeys-keyMedian-1))

		if next := child.next(); next != pager.InvalidPageID {
			nn, err := t.fetch(next)
			if err != nil {
				r.release()
				return nil, err
			}
			nn.lock()
			nn.setPrev(r.id())
			nn.touch()
			nn.release()
		}
		r.setPrev(child.id())
		r.setNext(child.next())
		child.setNext(r.id())
	} else {
		moveKeys(r, 0, child, keyMedian+1, MaxKeys-keyMedian-1)
		moveChildren(r, 0, child, keyMedian+1, MaxKeys-keyMedian)
		r.setCount(MaxKeys - keyMedian - 1)
		child.setCount(keyMedian)
		clear(child.keyBytes(keyMedian, MaxKeys-keyMedian))
		clear(child.childBytes(keyMedian+1, MaxKeys-keyMedian))
		if err := t.adopt(r, 0, r.count()+1); err != nil {
			r.release()
			return nil, err
		}
	}

	parent.internalInsert(i, sep, r.id())
	parent.touch()
	child.touch()
	r.touch()
	return r, nil
}
