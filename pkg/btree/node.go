// pkg/btree/node.go
package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"pagekv/pkg/bufferpool"
	"pagekv/pkg/pager"
)

const (
	Degree      = 8
	MaxKeys     = 2*Degree - 1
	MinKeys     = Degree - 1
	MaxChildren = 2 * Degree

	// keyMedian is the index of the separator taken from a full node.
	keyMedian = Degree - 1
)

// Tree page layout after the pager's common header, parent and count:
//
//	16  key type (1), key width (1), reserved (2)
//	20  prev leaf (4)
//	24  next leaf (4)
//	28  value page (4)
//	32  children [16]u32 (internal) or value slots [15]u16 (leaf)
//	96  keys [15] x key width
const (
	offsetPrev      = 20
	offsetNext      = 24
	offsetValuePage = 28
	offsetChildren  = 32
	offsetKeys      = offsetChildren + MaxChildren*4

	childSize = 4
	slotSize  = 2

	keyMarkInUse = 1
)

type latchMode uint8

const (
	unlatched latchMode = iota
	shared
	exclusive
)

// node is one goroutine's handle on a tree page. It carries the pin (nil for
// the resident root) and the latch mode it currently holds.
type node struct {
	page  *pager.Page
	pin   *bufferpool.Pin
	kt    pager.KeyType
	kw    int
	latch latchMode
}

func wrapNode(p *pager.Page, pin *bufferpool.Pin) *node {
	if !p.Type().IsTree() {
		panic(fmt.Sprintf("btree: page %d is a %s page, not a tree node", p.ID(), p.Type()))
	}
	kt := p.KeyType()
	return &node{page: p, pin: pin, kt: kt, kw: kt.Width()}
}

func (n *node) rlock() {
	n.page.RLock()
	n.latch = shared
}

func (n *node) lock() {
	n.page.Lock()
	n.latch = exclusive
}

func (n *node) unlock() {
	switch n.latch {
	case shared:
		n.page.RUnlock()
	case exclusive:
		n.page.Unlock()
	default:
		panic(fmt.Sprintf("btree: unlock of unlatched node %d", n.id()))
	}
	n.latch = unlatched
}

// release drops the latch, if held, and the pin.
func (n *node) release() {
	if n.latch != unlatched {
		n.unlock()
	}
	n.pin.Release()
}

func (n *node) touch() {
	n.page.MarkDirty()
}

func (n *node) id() pager.PageID { return n.page.ID() }
func (n *node) typ() pager.PageType { return n.page.Type() }
func (n *node) isLeaf() bool { return n.typ().IsLeaf() }
func (n *node) count() int { return n.page.Count() }
func (n *node) setCount(c int) { n.page.SetCount(c) }
func (n *node) full() bool { return n.count() >= MaxKeys }
func (n *node) data() []byte { return n.page.Data() }
func (n *node) parent() pager.PageID { return n.page.Parent() }
func (n *node) prev() pager.PageID { return n.u32(offsetPrev) }
func (n *node) next() pager.PageID { return n.u32(offsetNext) }
func (n *node) valuePage() pager.PageID { return n.u32(offsetValuePage) }

func (n *node) setPrev(id pager.PageID) { n.setU32(offsetPrev, id) }
func (n *node) setNext(id pager.PageID) { n.setU32(offsetNext, id) }
func (n *node) setValuePage(id pager.PageID) { n.setU32(offsetValuePage, id) }

func (n *node) u32(off int) pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(n.data()[off:]))
}

func (n *node) setU32(off int, id pager.PageID) {
	binary.LittleEndian.PutUint32(n.data()[off:], uint32(id))
}

func (n *node) keyBytes(i, cnt int) []byte {
	off := offsetKeys + i*n.kw
	return n.data()[off : off+cnt*n.kw]
}

func (n *node) childBytes(i, cnt int) []byte {
	off := offsetChildren + i*childSize
	return n.data()[off : off+cnt*childSize]
}

func (n *node) slotBytes(i, cnt int) []byte {
	off := offsetChildren + i*slotSize
	return n.data()[off : off+cnt*slotSize]
}

// keyAt returns key i. The result aliases page memory.
func (n *node) keyAt(i int) Key {
	b := n.keyBytes(i, 1)
	if n.kt == pager.KeyInt {
		return Key(b)
	}
	return Key(b[2 : 2+int(b[1])])
}

func (n *node) setKey(i int, k Key) {
	b := n.keyBytes(i, 1)
	if n.kt == pager.KeyInt {
		copy(b, k)
		return
	}
	clear(b)
	b[0] = keyMarkInUse
	b[1] = byte(len(k))
	copy(b[2:], k)
}

func (n *node) child(i int) pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(n.childBytes(i, 1)))
}

func (n *node) setChild(i int, id pager.PageID) {
	binary.LittleEndian.PutUint32(n.childBytes(i, 1), uint32(id))
}

func (n *node) slot(i int) int {
	return int(binary.LittleEndian.Uint16(n.slotBytes(i, 1)))
}

func (n *node) setSlot(i, s int) {
	binary.LittleEndian.PutUint16(n.slotBytes(i, 1), uint16(s))
}

// search returns the smallest i with k <= key[i], or count if none, and
// whether key[i] equals k. For internal nodes i is the child to descend into.
func (n *node) search(k Key) (int, bool) {
	c := n.count()
	i := sort.Search(c, func(i int) bool { return n.keyAt(i).Compare(k) >= 0 })
	return i, i < c && n.keyAt(i).Compare(k) == 0
}

func (n *node) childIndex(k Key) int {
	i, _ := n.search(k)
	return i
}

// leafInsert opens position i and stores k with value slot s.
func (n *node) leafInsert(i int, k Key, s int) {
	c := n.count()
	copy(n.keyBytes(i+1, c-i), n.keyBytes(i, c-i))
	copy(n.slotBytes(i+1, c-i), n.slotBytes(i, c-i))
	n.setKey(i, k)
	n.setSlot(i, s)
	n.setCount(c + 1)
}

// leafRemove closes cnt entries starting at i. Their value slots are not
// touched.
func (n *node) leafRemove(i, cnt int) {
	c := n.count()
	copy(n.keyBytes(i, c-i-cnt), n.keyBytes(i+cnt, c-i-cnt))
	copy(n.slotBytes(i, c-i-cnt), n.slotBytes(i+cnt, c-i-cnt))
	clear(n.keyBytes(c-cnt, cnt))
	clear(n.slotBytes(c-cnt, cnt))
	n.setCount(c - cnt)
}

// leafShiftRight opens cnt free positions at the front of a leaf without
// changing its count.
func (n *node) leafShiftRight(cnt int) {
	c := n.count()
	copy(n.keyBytes(cnt, c), n.keyBytes(0, c))
	copy(n.slotBytes(cnt, c), n.slotBytes(0, c))
}

// internalInsert stores separator k at i with right as child i+1.
func (n *node) internalInsert(i int, k Key, right pager.PageID) {
	c := n.count()
	copy(n.keyBytes(i+1, c-i), n.keyBytes(i, c-i))
	copy(n.childBytes(i+2, c-i), n.childBytes(i+1, c-i))
	n.setKey(i, k)
	n.setChild(i+1, right)
	n.setCount(c + 1)
}

// internalRemove drops key i and child i+1.
func (n *node) internalRemove(i int) {
	c := n.count()
	copy(n.keyBytes(i, c-i-1), n.keyBytes(i+1, c-i-1))
	copy(n.childBytes(i+1, c-i-1), n.childBytes(i+2, c-i-1))
	clear(n.keyBytes(c-1, 1))
	clear(n.childBytes(c, 1))
	n.setCount(c - 1)
}

// internalRemoveFront drops key 0 and child 0.
func (n *node) internalRemoveFront() {
	c := n.count()
	copy(n.keyBytes(0, c-1), n.keyBytes(1, c-1))
	copy(n.childBytes(0, c), n.childBytes(1, c))
	clear(n.keyBytes(c-1, 1))
	clear(n.childBytes(c, 1))
	n.setCount(c - 1)
}

// internalShiftRight opens key 0 and child 0 without changing the count.
func (n *node) internalShiftRight() {
	c := n.count()
	copy(n.keyBytes(1, c), n.keyBytes(0, c))
	copy(n.childBytes(1, c+1), n.childBytes(0, c+1))
}

func (n *node) children() []pager.PageID {
	if n.isLeaf() {
		return nil
	}
	ids := make([]pager.PageID, n.count()+1)
	for i := range ids {
		ids[i] = n.child(i)
	}
	return ids
}

func moveKeys(dst *node, di int, src *node, si, cnt int) {
	copy(dst.keyBytes(di, cnt), src.keyBytes(si, cnt))
}

func moveChildren(dst *node, di int, src *node, si, cnt int) {
	copy(dst.childBytes(di, cnt), src.childBytes(si, cnt))
}
