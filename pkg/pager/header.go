// pkg/pager/header.go
package pager

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	// MagicString identifies a pagekv data file. It is exactly 16 bytes.
	MagicString = "pagekv format 1\x00"

	// FormatVersion is written into new files.
	FormatVersion = 1
)

const (
	offsetMagic      = 0  // 16 bytes
	offsetPageSize   = 16 // 4 bytes
	offsetVersion    = 20 // 4 bytes
	offsetNextPageID = 24 // 4 bytes: last allocated page id
	offsetHeaderCRC  = 32 // 4 bytes: crc32 of bytes [0, 32)
	fileHeaderSize   = 36
)

// FileHeader is stored in block 0 of the data file.
type FileHeader struct {
	PageSize   uint32
	Version    uint32
	NextPageID PageID
}

// Encode serializes the header into a full block.
func (h *FileHeader) Encode() []byte {
	data := make([]byte, PageSize)
	copy(data[offsetMagic:], MagicString)
	binary.LittleEndian.PutUint32(data[offsetPageSize:], h.PageSize)
	binary.LittleEndian.PutUint32(data[offsetVersion:], h.Version)
	binary.LittleEndian.PutUint32(data[offsetNextPageID:], uint32(h.NextPageID))
	binary.LittleEndian.PutUint32(data[offsetHeaderCRC:], crc32.ChecksumIEEE(data[:offsetHeaderCRC]))
	return data
}

// DecodeFileHeader parses block 0.
func DecodeFileHeader(data []byte) (*FileHeader, error) {
	if len(data) < fileHeaderSize {
		return nil, errors.Wrap(ErrInvalidHeader, "header too short")
	}
	if string(data[offsetMagic:offsetMagic+len(MagicString)]) != MagicString {
		return nil, errors.Wrap(ErrInvalidHeader, "bad magic")
	}
	if crc32.ChecksumIEEE(data[:offsetHeaderCRC]) != binary.LittleEndian.Uint32(data[offsetHeaderCRC:]) {
		return nil, errors.Wrap(ErrInvalidHeader, "header checksum mismatch")
	}
	h := &FileHeader{
		PageSize:   binary.LittleEndian.Uint32(data[offsetPageSize:]),
		Version:    binary.LittleEndian.Uint32(data[offsetVersion:]),
		NextPageID: PageID(binary.LittleEndian.Uint32(data[offsetNextPageID:])),
	}
	if h.PageSize != PageSize {
		return nil, errors.Wrapf(ErrInvalidHeader, "page size %d, want %d", h.PageSize, PageSize)
	}
	if h.Version != FormatVersion {
		return nil, errors.Wrapf(ErrInvalidHeader, "unsupported format version %d", h.Version)
	}
	return h, nil
}
