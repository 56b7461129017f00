// pkg/pager/log.go
package pager

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Log records are framed as length(4) | crc32(4) | payload.
const logFrameHeaderSize = 8

// MaxLogRecordSize bounds a single log record.
const MaxLogRecordSize = 1 << 20

// AppendLog appends one record to the log file.
func (dm *DiskManager) AppendLog(record []byte) error {
	if dm.closed.Load() {
		return ErrClosed
	}
	if len(record) > MaxLogRecordSize {
		return errors.Errorf("log record of %d bytes exceeds %d", len(record), MaxLogRecordSize)
	}
	frame := make([]byte, logFrameHeaderSize+len(record))
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(record)))
	binary.LittleEndian.PutUint32(frame[4:], crc32.ChecksumIEEE(record))
	copy(frame[logFrameHeaderSize:], record)

	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	if _, err := dm.log.WriteAt(frame, dm.logEnd); err != nil {
		return errors.Wrap(err, "append log")
	}
	dm.logEnd += int64(len(frame))
	return nil
}

// ReadLog calls fn for every intact record in append order. Replay stops at
// the first torn or corrupt record.
func (dm *DiskManager) ReadLog(fn func(record []byte) error) error {
	if dm.closed.Load() {
		return ErrClosed
	}
	dm.logMu.Lock()
	end := dm.logEnd
	dm.logMu.Unlock()

	_, err := dm.scanLog(end, fn)
	return err
}

// TruncateLog discards every record.
func (dm *DiskManager) TruncateLog() error {
	if dm.closed.Load() {
		return ErrClosed
	}
	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	if err := dm.log.Truncate(0); err != nil {
		return err
	}
	dm.logEnd = 0
	return nil
}

// recoverLog finds the end of the last intact record and cuts off anything
// after it.
func (dm *DiskManager) recoverLog() error {
	size, err := dm.log.Size()
	if err != nil {
		return err
	}
	end, err := dm.scanLog(size, nil)
	if err != nil {
		return err
	}
	if end < size {
		dm.logger.Warn("discarding torn log tail",
			zap.Int64("valid", end), zap.Int64("size", size))
		if err := dm.log.Truncate(end); err != nil {
			return err
		}
	}
	dm.logEnd = end
	return nil
}

func (dm *DiskManager) scanLog(limit int64, fn func([]byte) error) (int64, error) {
	var hdr [logFrameHeaderSize]byte
	off := int64(0)
	for off+logFrameHeaderSize <= limit {
		if _, err := dm.log.ReadAt(hdr[:], off); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return off, errors.Wrap(err, "read log")
		}
		n := binary.LittleEndian.Uint32(hdr[0:])
		if n > MaxLogRecordSize || off+logFrameHeaderSize+int64(n) > limit {
			break
		}
		rec := make([]byte, n)
		if n > 0 {
			if _, err := dm.log.ReadAt(rec, off+logFrameHeaderSize); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return off, errors.Wrap(err, "read log")
			}
		}
		if crc32.ChecksumIEEE(rec) != binary.LittleEndian.Uint32(hdr[4:]) {
			break
		}
		if fn != nil {
			if err := fn(rec); err != nil {
				return off, err
			}
		}
		off += logFrameHeaderSize + int64(n)
	}
	return off, nil
}
