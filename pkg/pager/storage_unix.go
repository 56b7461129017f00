//go:build unix

// pkg/pager/storage_unix.go
package pager

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FileStorage is a Storage over a regular file using positioned reads and
// writes. The file is locked exclusively for as long as it is open.
type FileStorage struct {
	f  *os.File
	fd int
}

// OpenFileStorage opens or creates path and takes an exclusive, non-blocking
// lock on it. ErrDatabaseLocked is returned if another process holds it.
func OpenFileStorage(path string) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrDatabaseLocked
		}
		return nil, errors.Wrapf(err, "lock %s", path)
	}
	return &FileStorage{f: f, fd: fd}, nil
}

// ReadAt reads len(p) bytes at off, returning io.EOF on a short read.
func (s *FileStorage) ReadAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Pread(s.fd, p[total:], off+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, errors.Wrapf(err, "pread at %d", off)
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
	}
	return total, nil
}

// WriteAt writes all of p at off.
func (s *FileStorage) WriteAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Pwrite(s.fd, p[total:], off+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, errors.Wrapf(err, "pwrite at %d", off)
		}
		total += n
	}
	return total, nil
}

// Size returns the file size.
func (s *FileStorage) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(s.fd, &st); err != nil {
		return 0, errors.Wrap(err, "fstat")
	}
	return st.Size, nil
}

// Sync flushes the file to stable storage.
func (s *FileStorage) Sync() error {
	return errors.Wrap(unix.Fsync(s.fd), "fsync")
}

// Truncate changes the file size.
func (s *FileStorage) Truncate(size int64) error {
	return errors.Wrap(unix.Ftruncate(s.fd, size), "ftruncate")
}

// Close unlocks and closes the file.
func (s *FileStorage) Close() error {
	_ = unix.Flock(s.fd, unix.LOCK_UN)
	return s.f.Close()
}
