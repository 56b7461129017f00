// pkg/btree/check.go
package btree

import (
	"fmt"
	"io"
	"strings"

	"pagekv/pkg/pager"
)

// CheckError describes one violated structural invariant.
type CheckError struct {
	Page    pager.PageID
	Message string
}

// Error implements the error interface
func (e CheckError) Error() string {
	if e.Page != pager.InvalidPageID {
		return fmt.Sprintf("page %d: %s", e.Page, e.Message)
	}
	return e.Message
}

// Stats summarizes the shape of a tree.
type Stats struct {
	Height        int
	InternalNodes int
	Leaves        int
	Entries       int
}

type checker struct {
	t         *BTree
	problems  []CheckError
	leaves    []pager.PageID
	leafDepth int
	stats     Stats
}

func (c *checker) report(id pager.PageID, format string, args ...any) {
	c.problems = append(c.problems, CheckError{Page: id, Message: fmt.Sprintf(format, args...)})
}

// Check walks the whole tree and returns every invariant it finds broken:
// occupancy bounds, key order, separators equal to child maxima, child
// parent ids, uniform leaf depth, leaf chain links and the entry count.
// It holds the range lock exclusively while it runs.
func (t *BTree) Check() ([]CheckError, error) {
	t.BeginRangeQuery()
	defer t.EndRangeQuery()

	c := &checker{t: t, leafDepth: -1}
	root := t.rootNode()
	if !root.typ().IsRoot() {
		c.report(root.id(), "root has type %s", root.typ())
		return c.problems, nil
	}
	if _, err := c.walk(root, pager.InvalidPageID, 0); err != nil {
		return c.problems, err
	}
	if err := c.checkChain(); err != nil {
		return c.problems, err
	}
	if c.stats.Entries != int(t.Size()) {
		c.report(pager.InvalidPageID, "tree size is %d but leaves hold %d entries", t.Size(), c.stats.Entries)
	}
	return c.problems, nil
}

// walk checks the subtree at n and returns its largest key, or nil when it
// is empty.
func (c *checker) walk(n *node, parent pager.PageID, depth int) (Key, error) {
	id, cnt := n.id(), n.count()
	isRoot := parent == pager.InvalidPageID
	if !isRoot {
		if n.typ().IsRoot() {
			c.report(id, "non-root node has type %s", n.typ())
		}
		if n.parent() != parent {
			c.report(id, "parent is %d, expected %d", n.parent(), parent)
		}
		if cnt < MinKeys || cnt > MaxKeys {
			c.report(id, "holds %d keys, expected %d..%d", cnt, MinKeys, MaxKeys)
		}
	} else if cnt > MaxKeys {
		c.report(id, "root holds %d keys", cnt)
	}
	if n.kt != c.t.kt {
		c.report(id, "key type %s, tree uses %s", n.kt, c.t.kt)
	}
	for i := 1; i < cnt; i++ {
		if n.keyAt(i-1).Compare(n.keyAt(i)) >= 0 {
			c.report(id, "keys %d and %d out of order", i-1, i)
		}
	}

	if n.isLeaf() {
		return c.walkLeaf(n, depth)
	}

	c.stats.InternalNodes++
	if isRoot && cnt == 0 {
		c.report(id, "internal root has no keys")
		return nil, nil
	}
	var max Key
	for i := 0; i <= cnt; i++ {
		child, err := c.t.fetch(n.child(i))
		if err != nil {
			return nil, err
		}
		childMax, err := c.walk(child, id, depth+1)
		child.release()
		if err != nil {
			return nil, err
		}
		switch {
		case childMax == nil:
			c.report(id, "child %d is empty", i)
		case i < cnt && childMax.Compare(n.keyAt(i)) != 0:
			c.report(id, "separator %d is %s but child max is %s",
				i, n.keyAt(i).Format(n.kt), childMax.Format(n.kt))
		case i == cnt && cnt > 0 && childMax.Compare(n.keyAt(cnt-1)) <= 0:
			c.report(id, "last child max %s not above last separator", childMax.Format(n.kt))
		}
		max = childMax
	}
	return max, nil
}

func (c *checker) walkLeaf(n *node, depth int) (Key, error) {
	id, cnt := n.id(), n.count()
	c.stats.Leaves++
	c.stats.Entries += cnt
	c.leaves = append(c.leaves, id)
	if c.leafDepth < 0 {
		c.leafDepth = depth
		c.stats.Height = depth + 1
	} else if depth != c.leafDepth {
		c.report(id, "leaf at depth %d, expected %d", depth, c.leafDepth)
	}

	pin, err := c.t.pool.Fetch(n.valuePage())
	if err != nil {
		return nil, err
	}
	vp := pin.Page()
	if vp.Type() != pager.TypeValue {
		c.report(id, "value page %d has type %s", vp.ID(), vp.Type())
	} else {
		seen := make(map[int]bool, cnt)
		for i := 0; i < cnt; i++ {
			s := n.slot(i)
			if seen[s] {
				c.report(id, "value slot %d used twice", s)
			}
			seen[s] = true
			if !slotInUseAt(vp, s) {
				c.report(id, "entry %d points at unused value slot %d", i, s)
			}
		}
	}
	pin.Release()

	if cnt == 0 {
		return nil, nil
	}
	return n.keyAt(cnt - 1).Clone(), nil
}

func (c *checker) checkChain() error {
	var prevMax Key
	for i, id := range c.leaves {
		if id == c.t.RootID() {
			root := c.t.rootNode()
			if root.prev() != pager.InvalidPageID || root.next() != pager.InvalidPageID {
				c.report(id, "root leaf has sibling links")
			}
			continue
		}
		n, err := c.t.fetch(id)
		if err != nil {
			return err
		}
		wantPrev, wantNext := pager.InvalidPageID, pager.InvalidPageID
		if i > 0 {
			wantPrev = c.leaves[i-1]
		}
		if i+1 < len(c.leaves) {
			wantNext = c.leaves[i+1]
		}
		if n.prev() != wantPrev {
			c.report(id, "prev link is %d, expected %d", n.prev(), wantPrev)
		}
		if n.next() != wantNext {
			c.report(id, "next link is %d, expected %d", n.next(), wantNext)
		}
		if n.count() > 0 {
			if prevMax != nil && n.keyAt(0).Compare(prevMax) <= 0 {
				c.report(id, "first key does not follow previous leaf")
			}
			prevMax = n.keyAt(n.count() - 1).Clone()
		}
		n.release()
	}
	return nil
}

// Height returns the number of levels, counting the root.
func (t *BTree) Height() (int, error) {
	t.scan.RLock()
	defer t.scan.RUnlock()

	h := 1
	n := t.rootNode()
	n.rlock()
	for !n.isLeaf() {
		child, err := t.fetch(n.child(0))
		if err != nil {
			n.release()
			return 0, err
		}
		child.rlock()
		n.release()
		n = child
		h++
	}
	n.release()
	return h, nil
}

// Stats walks the tree and counts its nodes.
func (t *BTree) Stats() (Stats, error) {
	t.BeginRangeQuery()
	defer t.EndRangeQuery()

	var st Stats
	level := []pager.PageID{t.RootID()}
	for len(level) > 0 {
		st.Height++
		var next []pager.PageID
		for _, id := range level {
			n, err := t.node(id)
			if err != nil {
				return st, err
			}
			if n.isLeaf() {
				st.Leaves++
				st.Entries += n.count()
			} else {
				st.InternalNodes++
				next = append(next, n.children()...)
			}
			n.release()
		}
		level = next
	}
	return st, nil
}

// node returns the root node for the root id and a pinned node otherwise.
func (t *BTree) node(id pager.PageID) (*node, error) {
	if id == t.RootID() {
		return t.rootNode(), nil
	}
	return t.fetch(id)
}

// Dump writes the tree level by level to w.
func (t *BTree) Dump(w io.Writer) error {
	t.BeginRangeQuery()
	defer t.EndRangeQuery()

	level := []pager.PageID{t.RootID()}
	for depth := 0; len(level) > 0; depth++ {
		fmt.Fprintf(w, "  Level %d:\n", depth)
		var next []pager.PageID
		for _, id := range level {
			n, err := t.node(id)
			if err != nil {
				fmt.Fprintf(w, "    [page %d] read error: %v\n", id, err)
				continue
			}
			keys := make([]string, n.count())
			for i := range keys {
				keys[i] = n.keyAt(i).Format(n.kt)
			}
			if n.isLeaf() {
				fmt.Fprintf(w, "    [page %d] %s prev=%d next=%d values=%d keys=[%s]\n",
					id, n.typ(), n.prev(), n.next(), n.valuePage(), strings.Join(keys, " "))
			} else {
				children := n.children()
				fmt.Fprintf(w, "    [page %d] %s keys=[%s] children=%v\n",
					id, n.typ(), strings.Join(keys, " "), children)
				next = append(next, children...)
			}
			n.release()
		}
		level = next
	}
	return nil
}
