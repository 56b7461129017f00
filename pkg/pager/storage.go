// pkg/pager/storage.go
package pager

import (
	"io"
	"sync"
)

// Storage is a random-access byte store backing the data file or the log.
type Storage interface {
	// ReadAt follows io.ReaderAt: a short read returns io.EOF.
	ReadAt(p []byte, off int64) (int, error)

	WriteAt(p []byte, off int64) (int, error)

	// Size returns the current size of the storage in bytes.
	Size() (int64, error)

	// Sync flushes any pending writes to the underlying storage.
	Sync() error

	// Truncate changes the size of the storage.
	Truncate(size int64) error

	// Close releases any resources associated with the storage.
	Close() error
}

// MemoryStorage implements Storage using an in-memory byte slice.
// This is used for the :memory: database mode where no disk I/O is performed.
type MemoryStorage struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// ReadAt copies stored bytes into p.
func (m *MemoryStorage) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt stores p at off, growing the buffer as needed.
func (m *MemoryStorage) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		if end <= int64(cap(m.data)) {
			m.data = m.data[:end]
		} else {
			grown := make([]byte, end, 2*end)
			copy(grown, m.data)
			m.data = grown
		}
	}
	return copy(m.data[off:], p), nil
}

// Size returns the current size of the storage in bytes.
func (m *MemoryStorage) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

// Sync is a no-op for in-memory storage since there's no disk to flush to.
func (m *MemoryStorage) Sync() error {
	return nil
}

// Truncate shrinks or zero-extends the buffer.
func (m *MemoryStorage) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

// Close releases the buffer.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.closed = true
	return nil
}
