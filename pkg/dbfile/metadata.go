// pkg/dbfile/metadata.go
// Tree catalog storage: one DbMeta page listing TableMeta pages, one
// TableMeta page per named tree.
package dbfile

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"pagekv/pkg/pager"
)

// MetaPageID is the DbMeta page. It is the first page allocated in a new
// database file.
const MetaPageID pager.PageID = 1

// DbMeta layout after the common header, parent and count:
//
//	16  TableMeta page ids [count]u32
const (
	offsetMetaEntries = 16

	// MaxTrees is the number of trees one DbMeta page can list.
	MaxTrees = (pager.ChecksumOffset - offsetMetaEntries) / 4
)

// TableMeta layout after the common header, parent and count:
//
//	16  key type (1), reserved (3)
//	20  root page id (4)
//	24  tree size (4)
//	28  name length (1), name [MaxTreeNameLen]
//	96  payload length (2), payload
const (
	offsetTableKeyType = 16
	offsetTableRoot    = 20
	offsetTableSize    = 24
	offsetTableName    = 28
	offsetPayload      = 96

	// MaxTreeNameLen is the longest tree name.
	MaxTreeNameLen = offsetPayload - offsetTableName - 1

	// MaxPayloadSize is the largest opaque payload a TableMeta page holds.
	MaxPayloadSize = pager.ChecksumOffset - offsetPayload - 2
)

var (
	ErrCatalogFull     = errors.Errorf("catalog holds at most %d trees", MaxTrees)
	ErrPayloadTooLarge = errors.Errorf("payload larger than %d bytes", MaxPayloadSize)
)

// TableMeta describes one named tree.
type TableMeta struct {
	Name    string
	KeyType pager.KeyType
	Root    pager.PageID
	Size    uint32
	Payload []byte
}

func (m TableMeta) String() string {
	return fmt.Sprintf("%s (%s keys, root %d, %d entries)", m.Name, m.KeyType, m.Root, m.Size)
}

func checkType(p *pager.Page, want pager.PageType) error {
	if p.Type() != want {
		return &pager.CorruptionError{
			PageID:   p.ID(),
			PageType: p.Type(),
			Message:  fmt.Sprintf("expected %s page", want),
		}
	}
	return nil
}

// ReadMetaEntries returns the TableMeta page ids listed on a DbMeta page.
func ReadMetaEntries(p *pager.Page) ([]pager.PageID, error) {
	if err := checkType(p, pager.TypeDbMeta); err != nil {
		return nil, err
	}
	n := p.Count()
	if n > MaxTrees {
		return nil, &pager.CorruptionError{PageID: p.ID(), PageType: p.Type(), Message: "entry count out of range"}
	}
	data := p.Data()
	ids := make([]pager.PageID, n)
	for i := range ids {
		ids[i] = pager.PageID(binary.LittleEndian.Uint32(data[offsetMetaEntries+4*i:]))
	}
	return ids, nil
}

// WriteMetaEntries replaces the entries of a DbMeta page and marks it dirty.
func WriteMetaEntries(p *pager.Page, ids []pager.PageID) error {
	if err := checkType(p, pager.TypeDbMeta); err != nil {
		return err
	}
	if len(ids) > MaxTrees {
		return ErrCatalogFull
	}
	data := p.Data()
	for i, id := range ids {
		binary.LittleEndian.PutUint32(data[offsetMetaEntries+4*i:], uint32(id))
	}
	clear(data[offsetMetaEntries+4*len(ids) : pager.ChecksumOffset])
	p.SetCount(len(ids))
	p.MarkDirty()
	return nil
}

// ReadTableMeta decodes a TableMeta page.
func ReadTableMeta(p *pager.Page) (TableMeta, error) {
	if err := checkType(p, pager.TypeTableMeta); err != nil {
		return TableMeta{}, err
	}
	data := p.Data()
	nameLen := int(data[offsetTableName])
	payloadLen := int(binary.LittleEndian.Uint16(data[offsetPayload:]))
	if nameLen > MaxTreeNameLen || payloadLen > MaxPayloadSize {
		return TableMeta{}, &pager.CorruptionError{PageID: p.ID(), PageType: p.Type(), Message: "length out of range"}
	}

	m := TableMeta{
		Name:    string(data[offsetTableName+1 : offsetTableName+1+nameLen]),
		KeyType: pager.KeyType(data[offsetTableKeyType]),
		Root:    pager.PageID(binary.LittleEndian.Uint32(data[offsetTableRoot:])),
		Size:    binary.LittleEndian.Uint32(data[offsetTableSize:]),
	}
	if payloadLen > 0 {
		m.Payload = append([]byte(nil), data[offsetPayload+2:offsetPayload+2+payloadLen]...)
	}
	if m.KeyType.Width() == 0 {
		return TableMeta{}, &pager.CorruptionError{PageID: p.ID(), PageType: p.Type(), Message: "bad key type"}
	}
	return m, nil
}

// WriteTableMeta encodes m onto a TableMeta page and marks it dirty.
func WriteTableMeta(p *pager.Page, m TableMeta) error {
	if err := checkType(p, pager.TypeTableMeta); err != nil {
		return err
	}
	if err := ValidateTreeName(m.Name); err != nil {
		return err
	}
	if len(m.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	data := p.Data()
	clear(data[offsetTableKeyType:pager.ChecksumOffset])
	data[offsetTableKeyType] = byte(m.KeyType)
	binary.LittleEndian.PutUint32(data[offsetTableRoot:], uint32(m.Root))
	binary.LittleEndian.PutUint32(data[offsetTableSize:], m.Size)
	data[offsetTableName] = byte(len(m.Name))
	copy(data[offsetTableName+1:], m.Name)
	binary.LittleEndian.PutUint16(data[offsetPayload:], uint16(len(m.Payload)))
	copy(data[offsetPayload+2:], m.Payload)
	p.MarkDirty()
	return nil
}
