// pkg/btree/value.go
package btree

import (
	"fmt"

	"pagekv/internal/encoding"
	"pagekv/pkg/pager"
)

// A value page holds the values of one leaf in fixed slots. Each slot is a
// marker byte followed by a varint length and the value bytes.
const (
	ValueSlots       = MaxKeys
	valueSlotSize    = 67
	offsetValueSlots = pager.CommonHeaderSize

	// MaxValueSize is the longest value a slot can hold.
	MaxValueSize = valueSlotSize - 2

	slotFree     = 0
	slotInUse    = 1
	slotObsolete = 2
)

func valueSlot(p *pager.Page, s int) []byte {
	off := offsetValueSlots + s*valueSlotSize
	return p.Data()[off : off+valueSlotSize]
}

// allocSlot returns the first slot not in use. A leaf never holds more
// entries than its value page has slots.
func allocSlot(p *pager.Page) int {
	for s := 0; s < ValueSlots; s++ {
		if valueSlot(p, s)[0] != slotInUse {
			return s
		}
	}
	panic(fmt.Sprintf("btree: value page %d has no free slot", p.ID()))
}

func writeSlot(p *pager.Page, s int, v []byte) {
	b := valueSlot(p, s)
	clear(b)
	b[0] = slotInUse
	encoding.PutBytes(b[1:], v)
}

// readSlot returns a copy of the value in slot s.
func readSlot(p *pager.Page, s int) ([]byte, error) {
	if s < 0 || s >= ValueSlots {
		return nil, &pager.CorruptionError{PageID: p.ID(), PageType: p.Type(),
			Message: fmt.Sprintf("value slot %d out of range", s)}
	}
	b := valueSlot(p, s)
	if b[0] != slotInUse {
		return nil, &pager.CorruptionError{PageID: p.ID(), PageType: p.Type(),
			Message: fmt.Sprintf("value slot %d is not in use", s)}
	}
	v, _, ok := encoding.GetBytes(b[1:])
	if !ok {
		return nil, &pager.CorruptionError{PageID: p.ID(), PageType: p.Type(),
			Message: fmt.Sprintf("value slot %d is truncated", s)}
	}
	return append([]byte(nil), v...), nil
}

func freeSlot(p *pager.Page, s int) {
	valueSlot(p, s)[0] = slotObsolete
}

func slotInUseAt(p *pager.Page, s int) bool {
	return s >= 0 && s < ValueSlots && valueSlot(p, s)[0] == slotInUse
}

// readValue returns the value of entry i of leaf n. n is latched.
func (t *BTree) readValue(n *node, i int) ([]byte, error) {
	pin, err := t.pool.Fetch(n.valuePage())
	if err != nil {
		return nil, err
	}
	defer pin.Release()
	vp := pin.Page()
	vp.RLock()
	defer vp.RUnlock()
	return readSlot(vp, n.slot(i))
}

// storeValue writes v into a free slot of n's value page. n is latched
// exclusively.
func (t *BTree) storeValue(n *node, v []byte) (int, error) {
	pin, err := t.pool.Fetch(n.valuePage())
	if err != nil {
		return 0, err
	}
	defer pin.Release()
	vp := pin.Page()
	vp.Lock()
	defer vp.Unlock()
	s := allocSlot(vp)
	writeSlot(vp, s, v)
	vp.MarkDirty()
	return s, nil
}

// dropValue frees slot s of n's value page. n is latched exclusively.
func (t *BTree) dropValue(n *node, s int) error {
	pin, err := t.pool.Fetch(n.valuePage())
	if err != nil {
		return err
	}
	defer pin.Release()
	vp := pin.Page()
	vp.Lock()
	defer vp.Unlock()
	freeSlot(vp, s)
	vp.MarkDirty()
	return nil
}

// moveLeafEntries copies cnt entries of src starting at si into dst
// starting at di. Values follow their keys into dst's value page. Neither
// count is changed. Both leaves are latched exclusively.
func (t *BTree) moveLeafEntries(dst *node, di int, src *node, si, cnt int) error {
	if cnt == 0 {
		return nil
	}
	moveKeys(dst, di, src, si, cnt)
	if dst.valuePage() == src.valuePage() {
		copy(dst.slotBytes(di, cnt), src.slotBytes(si, cnt))
		return nil
	}

	spin, err := t.pool.Fetch(src.valuePage())
	if err != nil {
		return err
	}
	defer spin.Release()
	dpin, err := t.pool.Fetch(dst.valuePage())
	if err != nil {
		return err
	}
	defer dpin.Release()

	svp, dvp := spin.Page(), dpin.Page()
	svp.Lock()
	defer svp.Unlock()
	dvp.Lock()
	defer dvp.Unlock()

	for j := 0; j < cnt; j++ {
		s := src.slot(si + j)
		v, err := readSlot(svp, s)
		if err != nil {
			return err
		}
		freeSlot(svp, s)
		ns := allocSlot(dvp)
		writeSlot(dvp, ns, v)
		dst.setSlot(di+j, ns)
	}
	svp.MarkDirty()
	dvp.MarkDirty()
	return nil
}
