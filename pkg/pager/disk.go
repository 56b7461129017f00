// pkg/pager/disk.go
package pager

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MemoryPath opens a disk manager with no backing files.
const MemoryPath = ":memory:"

// DiskOptions configures a DiskManager
type DiskOptions struct {
	NoChecksums bool // skip checksum verification on read
	NoSync      bool // make Sync only rewrite the header
	Logger      *zap.Logger
}

// DiskManager reads and writes fixed-size pages of one data file and owns
// the append-only log file next to it.
type DiskManager struct {
	data   Storage
	log    Storage
	opts   DiskOptions
	logger *zap.Logger

	lastID atomic.Uint32
	closed atomic.Bool

	headerMu sync.Mutex

	logMu  sync.Mutex
	logEnd int64
}

// OpenDisk opens path and path+"-log", creating both if needed.
func OpenDisk(path string, opts DiskOptions) (*DiskManager, error) {
	if path == MemoryPath || path == "" {
		return NewDiskManager(NewMemoryStorage(), NewMemoryStorage(), opts)
	}
	data, err := OpenFileStorage(path)
	if err != nil {
		return nil, err
	}
	log, err := OpenFileStorage(path + "-log")
	if err != nil {
		data.Close()
		return nil, err
	}
	dm, err := NewDiskManager(data, log, opts)
	if err != nil {
		data.Close()
		log.Close()
		return nil, err
	}
	return dm, nil
}

// NewDiskManager wraps existing storages. An empty data storage is
// initialized with a fresh header.
func NewDiskManager(data, log Storage, opts DiskOptions) (*DiskManager, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	dm := &DiskManager{
		data:   data,
		log:    log,
		opts:   opts,
		logger: opts.Logger.Named("disk"),
	}

	size, err := data.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		if err := dm.writeHeader(); err != nil {
			return nil, err
		}
	} else {
		buf := make([]byte, PageSize)
		if _, err := data.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "read header")
		}
		h, err := DecodeFileHeader(buf)
		if err != nil {
			return nil, err
		}
		last := h.NextPageID
		// Pages written after the last header sync still count as allocated.
		if blocks := PageID(size / PageSize); blocks > 0 && blocks-1 > last {
			last = blocks - 1
		}
		dm.lastID.Store(uint32(last))
	}

	if err := dm.recoverLog(); err != nil {
		return nil, err
	}
	return dm, nil
}

// ReadPage returns a copy of block id. A block past the end of the file, or
// cut short, is zero-filled and returned without checksum verification.
func (dm *DiskManager) ReadPage(id PageID) ([]byte, error) {
	if dm.closed.Load() {
		return nil, ErrClosed
	}
	if id == InvalidPageID {
		return nil, ErrInvalidPageID
	}
	buf := make([]byte, PageSize)
	n, err := dm.data.ReadAt(buf, int64(id)*PageSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "read page %d", id)
	}
	if n < PageSize {
		dm.logger.Warn("short page read, zero-filling",
			zap.Uint32("page", uint32(id)), zap.Int("bytes", n))
		clear(buf[n:])
		return buf, nil
	}
	if !dm.opts.NoChecksums {
		if err := VerifyPageChecksum(id, buf); err != nil {
			dm.logger.Error("page checksum mismatch", zap.Uint32("page", uint32(id)), zap.Error(err))
			return nil, err
		}
	}
	return buf, nil
}

// WritePage stores data as block id, stamping its checksum.
func (dm *DiskManager) WritePage(id PageID, data []byte) error {
	if dm.closed.Load() {
		return ErrClosed
	}
	if id == InvalidPageID {
		return ErrInvalidPageID
	}
	if len(data) != PageSize {
		return errors.Errorf("write page %d: %d bytes, want %d", id, len(data), PageSize)
	}
	buf := make([]byte, PageSize)
	copy(buf, data)
	WritePageChecksum(buf)
	if _, err := dm.data.WriteAt(buf, int64(id)*PageSize); err != nil {
		return errors.Wrapf(err, "write page %d", id)
	}
	return nil
}

// AllocatePage hands out the next page id. Nothing is written; the block
// comes into existence on its first write-back.
func (dm *DiskManager) AllocatePage() PageID {
	return PageID(dm.lastID.Add(1))
}

// CurrentPageID returns the most recently allocated page id, or
// InvalidPageID if none was allocated yet.
func (dm *DiskManager) CurrentPageID() PageID {
	return PageID(dm.lastID.Load())
}

// Sync rewrites the header and flushes both files.
func (dm *DiskManager) Sync() error {
	if dm.closed.Load() {
		return ErrClosed
	}
	if err := dm.writeHeader(); err != nil {
		return err
	}
	if dm.opts.NoSync {
		return nil
	}
	if err := dm.data.Sync(); err != nil {
		return err
	}
	return dm.log.Sync()
}

// Close syncs and closes both files.
func (dm *DiskManager) Close() error {
	if dm.closed.Load() {
		return nil
	}
	err := dm.Sync()
	dm.closed.Store(true)
	if cerr := dm.data.Close(); err == nil {
		err = cerr
	}
	if cerr := dm.log.Close(); err == nil {
		err = cerr
	}
	return err
}

func (dm *DiskManager) writeHeader() error {
	dm.headerMu.Lock()
	defer dm.headerMu.Unlock()
	h := FileHeader{PageSize: PageSize, Version: FormatVersion, NextPageID: dm.CurrentPageID()}
	if _, err := dm.data.WriteAt(h.Encode(), 0); err != nil {
		return errors.Wrap(err, "write header")
	}
	return nil
}
