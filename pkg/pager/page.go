// pkg/pager/page.go
package pager

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// PageSize is the size of every page on disk and in memory.
const PageSize = 1024

// PageID identifies a page. Page n lives at byte offset n*PageSize of the
// data file; id 0 is the file header and never a page.
type PageID uint32

// InvalidPageID is the "not a page" sentinel.
const InvalidPageID PageID = 0

// Common header layout. Every page starts with its type tag and id; tree and
// catalog pages follow with a parent id and an entry count.
const (
	offsetType   = 0
	offsetID     = 4
	offsetParent = 8
	offsetCount  = 12

	// CommonHeaderSize is the prefix shared by all page types.
	CommonHeaderSize = 8

	// ChecksumOffset is where the trailing CRC32 starts.
	ChecksumOffset = PageSize - PageChecksumSize
)

// PageType identifies the layout stored in a page
type PageType uint32

const (
	TypeInvalid PageType = iota
	TypeDbMeta
	TypeTableMeta
	TypeRootInternal
	TypeRootLeaf
	TypeInternal
	TypeLeaf
	TypeValue
)

func (t PageType) String() string {
	switch t {
	case TypeDbMeta:
		return "DbMeta"
	case TypeTableMeta:
		return "TableMeta"
	case TypeRootInternal:
		return "RootInternal"
	case TypeRootLeaf:
		return "RootLeaf"
	case TypeInternal:
		return "Internal"
	case TypeLeaf:
		return "Leaf"
	case TypeValue:
		return "Value"
	default:
		return fmt.Sprintf("PageType(%d)", uint32(t))
	}
}

// Valid reports whether t is a known page type.
func (t PageType) Valid() bool {
	return t >= TypeDbMeta && t <= TypeValue
}

// IsTree reports whether pages of this type are B+Tree nodes.
func (t PageType) IsTree() bool {
	switch t {
	case TypeRootInternal, TypeRootLeaf, TypeInternal, TypeLeaf:
		return true
	}
	return false
}

// IsLeaf reports whether t is a leaf node type.
func (t PageType) IsLeaf() bool {
	return t == TypeLeaf || t == TypeRootLeaf
}

// IsRoot reports whether t is one of the two root types.
func (t PageType) IsRoot() bool {
	return t == TypeRootLeaf || t == TypeRootInternal
}

// KeyType selects the fixed key encoding of a tree.
type KeyType uint8

const (
	KeyNone KeyType = iota
	KeyInt
	KeyString
)

const (
	// IntKeyWidth is the on-page width of an integer key.
	IntKeyWidth = 8
	// StringKeyWidth is the on-page width of a string key block:
	// a marker byte, a length byte and up to MaxStringKeyLen bytes.
	StringKeyWidth = 2 + MaxStringKeyLen
	// MaxStringKeyLen is the longest string key.
	MaxStringKeyLen = 56
)

// Width returns the on-page key width, or 0 for an unknown key type.
func (k KeyType) Width() int {
	switch k {
	case KeyInt:
		return IntKeyWidth
	case KeyString:
		return StringKeyWidth
	default:
		return 0
	}
}

func (k KeyType) String() string {
	switch k {
	case KeyInt:
		return "int"
	case KeyString:
		return "string"
	default:
		return fmt.Sprintf("KeyType(%d)", uint8(k))
	}
}

// InitInfo describes a page to construct.
type InitInfo struct {
	Type    PageType
	Parent  PageID
	KeyType KeyType
}

// Page is an in-memory copy of one fixed-size block. Its data mirrors the
// on-disk encoding byte for byte.
//
// A page is shared by reference count. When the count drops to zero the
// release hook runs, which writes the page back if it is dirty.
type Page struct {
	latch sync.RWMutex
	id    PageID
	data  []byte

	refs  atomic.Int32
	dirty atomic.Bool
	freed atomic.Bool

	release func(*Page)
}

// NewPage constructs a zeroed page of the given type.
func NewPage(id PageID, info InitInfo) (*Page, error) {
	if id == InvalidPageID {
		return nil, ErrInvalidPageID
	}
	switch info.Type {
	case TypeRootInternal, TypeRootLeaf, TypeInternal, TypeLeaf:
		if info.KeyType.Width() == 0 {
			return nil, errors.Errorf("pager: tree page %d needs a key type", id)
		}
	case TypeDbMeta, TypeTableMeta, TypeValue:
	default:
		return nil, errors.Wrapf(ErrUnknownPageType, "new page %d: %s", id, info.Type)
	}

	p := &Page{id: id, data: make([]byte, PageSize)}
	binary.LittleEndian.PutUint32(p.data[offsetType:], uint32(info.Type))
	binary.LittleEndian.PutUint32(p.data[offsetID:], uint32(id))
	if info.Type != TypeValue {
		binary.LittleEndian.PutUint32(p.data[offsetParent:], uint32(info.Parent))
	}
	if info.Type.IsTree() {
		p.data[offsetKeyType] = byte(info.KeyType)
		p.data[offsetKeyWidth] = byte(info.KeyType.Width())
	}
	return p, nil
}

// Tree pages carry their key encoding right after the count.
const (
	offsetKeyType  = 16
	offsetKeyWidth = 17
)

// LoadPage wraps a block read from disk. The type tag and id stored in the
// block must be valid.
func LoadPage(id PageID, data []byte) (*Page, error) {
	if len(data) != PageSize {
		return nil, errors.Errorf("pager: page %d has %d bytes", id, len(data))
	}
	t := PageType(binary.LittleEndian.Uint32(data[offsetType:]))
	if !t.Valid() {
		return nil, errors.Wrapf(ErrUnknownPageType, "load page %d: %s", id, t)
	}
	if stored := PageID(binary.LittleEndian.Uint32(data[offsetID:])); stored != id {
		return nil, &CorruptionError{
			PageID:   id,
			PageType: t,
			Message:  fmt.Sprintf("header names page %d", stored),
		}
	}
	if t.IsTree() {
		kt := KeyType(data[offsetKeyType])
		if kt.Width() == 0 || int(data[offsetKeyWidth]) != kt.Width() {
			return nil, &CorruptionError{PageID: id, PageType: t, Message: "bad key type"}
		}
	}
	return &Page{id: id, data: data}, nil
}

// ID returns the page id
func (p *Page) ID() PageID {
	return p.id
}

// Data returns the raw page buffer. Callers hold the latch.
func (p *Page) Data() []byte {
	return p.data
}

// Type returns the page type tag.
func (p *Page) Type() PageType {
	return PageType(binary.LittleEndian.Uint32(p.data[offsetType:]))
}

// SetType changes the type tag. Only the resident root switches type, and
// only between the two root types.
func (p *Page) SetType(t PageType) {
	if !p.Type().IsRoot() || !t.IsRoot() {
		panic(fmt.Sprintf("pager: page %d cannot change type from %s to %s", p.id, p.Type(), t))
	}
	binary.LittleEndian.PutUint32(p.data[offsetType:], uint32(t))
}

// Parent returns the parent page id of a tree or catalog page.
func (p *Page) Parent() PageID {
	return PageID(binary.LittleEndian.Uint32(p.data[offsetParent:]))
}

// SetParent updates the parent page id.
func (p *Page) SetParent(id PageID) {
	binary.LittleEndian.PutUint32(p.data[offsetParent:], uint32(id))
}

// Count returns the number of entries of a tree or catalog page.
func (p *Page) Count() int {
	return int(binary.LittleEndian.Uint32(p.data[offsetCount:]))
}

// SetCount updates the entry count.
func (p *Page) SetCount(n int) {
	binary.LittleEndian.PutUint32(p.data[offsetCount:], uint32(n))
}

// KeyType returns the key encoding of a tree page.
func (p *Page) KeyType() KeyType {
	return KeyType(p.data[offsetKeyType])
}

// Lock takes the page latch exclusively.
func (p *Page) Lock() { p.latch.Lock() }

// Unlock releases an exclusive latch.
func (p *Page) Unlock() { p.latch.Unlock() }

// RLock takes the page latch shared.
func (p *Page) RLock() { p.latch.RLock() }

// RUnlock releases a shared latch.
func (p *Page) RUnlock() { p.latch.RUnlock() }

// SetReleaser installs the hook run when the last reference is dropped.
func (p *Page) SetReleaser(fn func(*Page)) {
	p.release = fn
}

// Ref adds a reference.
func (p *Page) Ref() {
	p.refs.Add(1)
}

// TryRef adds a reference only while the page is still alive, that is while
// at least one other reference exists.
func (p *Page) TryRef() bool {
	for {
		n := p.refs.Load()
		if n <= 0 {
			return false
		}
		if p.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Unref drops a reference and runs the release hook on the last one.
func (p *Page) Unref() {
	n := p.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("pager: page %d released more often than referenced", p.id))
	}
	if n == 0 && p.release != nil {
		p.release(p)
	}
}

// Refs returns the current reference count.
func (p *Page) Refs() int32 {
	return p.refs.Load()
}

// MarkDirty flags the page for write-back.
func (p *Page) MarkDirty() {
	p.dirty.Store(true)
}

// IsDirty reports whether the page has unwritten changes.
func (p *Page) IsDirty() bool {
	return p.dirty.Load()
}

// Snapshot copies the page buffer and clears the dirty flag. Callers hold at
// least a shared latch, so no writer can slip in between.
func (p *Page) Snapshot() []byte {
	buf := make([]byte, PageSize)
	copy(buf, p.data)
	p.dirty.Store(false)
	return buf
}

// MarkFreed flags a page that was removed from its tree. Freed pages are
// never written back.
func (p *Page) MarkFreed() {
	p.freed.Store(true)
}

// IsFreed reports whether MarkFreed was called.
func (p *Page) IsFreed() bool {
	return p.freed.Load()
}
