//go:build windows

// pkg/pager/storage_windows.go
package pager

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// FileStorage is a Storage over a regular file. The first byte of the file
// is locked exclusively for as long as it is open.
type FileStorage struct {
	f *os.File
}

// OpenFileStorage opens or creates path and locks it. ErrDatabaseLocked is
// returned if another process holds the lock.
func OpenFileStorage(path string) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var ol windows.Overlapped
	err = windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &ol)
	if err != nil {
		f.Close()
		if err == windows.ERROR_LOCK_VIOLATION {
			return nil, ErrDatabaseLocked
		}
		return nil, errors.Wrapf(err, "lock %s", path)
	}
	return &FileStorage{f: f}, nil
}

func (s *FileStorage) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *FileStorage) WriteAt(p []byte, off int64) (int, error) {
	n, err := s.f.WriteAt(p, off)
	return n, errors.Wrapf(err, "write at %d", off)
}

func (s *FileStorage) Size() (int64, error) {
	st, err := s.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat")
	}
	return st.Size(), nil
}

func (s *FileStorage) Sync() error {
	return errors.Wrap(s.f.Sync(), "sync")
}

func (s *FileStorage) Truncate(size int64) error {
	return errors.Wrap(s.f.Truncate(size), "truncate")
}

func (s *FileStorage) Close() error {
	var ol windows.Overlapped
	_ = windows.UnlockFileEx(windows.Handle(s.f.Fd()), 0, 1, 0, &ol)
	return s.f.Close()
}
