// pkg/pager/corruption.go
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// CorruptionError reports a page whose stored bytes fail validation.
type CorruptionError struct {
	PageID      PageID
	PageType    PageType
	ExpectedCRC uint32
	ActualCRC   uint32
	Message     string
}

// Error implements the error interface
func (e *CorruptionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("page %d corruption: %s", e.PageID, e.Message)
	}
	return fmt.Sprintf("page %d corruption: expected CRC %08x, got %08x",
		e.PageID, e.ExpectedCRC, e.ActualCRC)
}

// PageChecksumSize is the number of bytes used for checksum at the end of each page
const PageChecksumSize = 4

// CalculatePageChecksum returns the CRC32 of everything but the trailing
// checksum bytes.
func CalculatePageChecksum(data []byte) uint32 {
	if len(data) <= PageChecksumSize {
		return 0
	}
	return crc32.ChecksumIEEE(data[:len(data)-PageChecksumSize])
}

// WritePageChecksum stores the checksum in the last PageChecksumSize bytes.
func WritePageChecksum(data []byte) {
	if len(data) <= PageChecksumSize {
		return
	}
	binary.LittleEndian.PutUint32(data[len(data)-PageChecksumSize:], CalculatePageChecksum(data))
}

// ReadPageChecksum reads the stored checksum from the end of page data
func ReadPageChecksum(data []byte) uint32 {
	if len(data) < PageChecksumSize {
		return 0
	}
	return binary.LittleEndian.Uint32(data[len(data)-PageChecksumSize:])
}

// VerifyPageChecksum checks the trailing checksum of a block read from disk.
// An all-zero block was never written and is accepted as is.
func VerifyPageChecksum(id PageID, data []byte) error {
	if len(data) <= PageChecksumSize || isZero(data) {
		return nil
	}
	expected := ReadPageChecksum(data)
	actual := CalculatePageChecksum(data)
	if expected != actual {
		return &CorruptionError{
			PageID:      id,
			PageType:    PageType(binary.LittleEndian.Uint32(data[offsetType:])),
			ExpectedCRC: expected,
			ActualCRC:   actual,
		}
	}
	return nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
