// pkg/kvdb/db.go

// Package kvdb is the embedding entry point: a database file holding named
// B+Trees, each recorded in a catalog page.
package kvdb

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pagekv/pkg/btree"
	"pagekv/pkg/bufferpool"
	"pagekv/pkg/dbfile"
	"pagekv/pkg/pager"
)

var (
	// ErrDatabaseClosed is returned when attempting operations on a closed database
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrTreeExists is returned by CreateTree for a name already in the catalog
	ErrTreeExists = errors.New("tree already exists")

	// ErrTreeNotFound is returned for a name missing from the catalog
	ErrTreeNotFound = errors.New("tree not found")
)

// DB represents an open database.
type DB struct {
	mu sync.RWMutex

	// path is the file path of the database, or pager.MemoryPath
	path string

	disk *pager.DiskManager
	pool *bufferpool.Pool

	// meta is the resident DbMeta page listing every TableMeta page
	meta *pager.Page

	// trees holds the open trees by name
	trees map[string]*Tree

	logger *zap.Logger
	closed bool
}

// Options configures database opening behavior
type Options struct {
	// CacheSize is the number of pages the buffer pool keeps (default 1024)
	CacheSize int

	// NoChecksums disables page checksum verification on read
	NoChecksums bool

	// NoSync skips fsync on Checkpoint and Close
	NoSync bool

	Logger *zap.Logger
}

// Open opens a database file and returns a new DB handle.
// If the file does not exist, it will be created. pager.MemoryPath opens a
// database that lives in memory only.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions opens a database file with the specified options.
func OpenWithOptions(path string, opts Options) (*DB, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("kvdb")

	disk, err := pager.OpenDisk(path, pager.DiskOptions{
		NoChecksums: opts.NoChecksums,
		NoSync:      opts.NoSync,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	db := &DB{
		path: path,
		disk: disk,
		pool: bufferpool.New(disk, bufferpool.Options{
			MaxSize: opts.CacheSize,
			Logger:  opts.Logger,
		}),
		trees:  make(map[string]*Tree),
		logger: logger,
	}
	if err := db.loadCatalog(); err != nil {
		disk.Close()
		return nil, err
	}

	logger.Info("opened database",
		zap.String("path", path),
		zap.Int("trees", len(db.trees)),
		zap.Uint32("pages", uint32(disk.CurrentPageID())))
	return db, nil
}

// loadCatalog reads the DbMeta page and opens every tree it lists. A new
// file gets an empty DbMeta page.
func (db *DB) loadCatalog() error {
	if db.disk.CurrentPageID() == pager.InvalidPageID {
		meta, err := db.pool.NewResident(pager.InitInfo{Type: pager.TypeDbMeta})
		if err != nil {
			return errors.Wrap(err, "create catalog")
		}
		if meta.ID() != dbfile.MetaPageID {
			return errors.Errorf("catalog allocated at page %d", meta.ID())
		}
		db.meta = meta
		return nil
	}

	meta, err := db.pool.LoadResident(dbfile.MetaPageID)
	if err != nil {
		return errors.Wrap(err, "load catalog")
	}
	ids, err := dbfile.ReadMetaEntries(meta)
	if err != nil {
		return err
	}
	db.meta = meta

	for _, id := range ids {
		mp, err := db.pool.LoadResident(id)
		if err != nil {
			return errors.Wrapf(err, "load table meta %d", id)
		}
		m, err := dbfile.ReadTableMeta(mp)
		if err != nil {
			return err
		}
		bt, err := btree.Open(db.pool, m.Root, m.Size)
		if err != nil {
			return errors.Wrapf(err, "open tree %s", m.Name)
		}
		if bt.KeyType() != m.KeyType {
			return &pager.CorruptionError{PageID: m.Root, PageType: pager.TypeTableMeta, Message: "key type differs from catalog"}
		}
		db.trees[m.Name] = &Tree{db: db, name: m.Name, meta: mp, tree: bt, payload: m.Payload}
	}
	return nil
}

// Path returns the file path of the database.
func (db *DB) Path() string {
	return db.path
}

// IsClosed returns true if the database has been closed.
func (db *DB) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Checkpoint writes every tree root, catalog page and dirty cached page to
// the data file and syncs it. The log is truncated afterwards.
func (db *DB) Checkpoint() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	return db.checkpoint()
}

func (db *DB) checkpoint() error {
	for _, name := range db.names() {
		if err := db.trees[name].flush(); err != nil {
			return errors.Wrapf(err, "flush tree %s", name)
		}
	}
	if err := db.pool.FlushAll(); err != nil {
		return err
	}
	if err := db.pool.WritePage(db.meta); err != nil {
		return errors.Wrap(err, "write catalog")
	}
	if err := db.disk.Sync(); err != nil {
		return err
	}
	return db.disk.TruncateLog()
}

// Close checkpoints the database and closes its files.
// It is an error to call Close more than once.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}
	db.closed = true

	err := db.checkpoint()
	if cerr := db.disk.Close(); err == nil {
		err = cerr
	}
	db.logger.Info("closed database", zap.String("path", db.path), zap.Error(err))
	return err
}

// AppendLog appends record to the database log. Records survive until the
// next checkpoint.
func (db *DB) AppendLog(record []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	return db.disk.AppendLog(record)
}

// ReplayLog calls fn for every record appended since the last checkpoint.
func (db *DB) ReplayLog(fn func(record []byte) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	return db.disk.ReadLog(fn)
}

// names returns the tree names in order. The caller holds db.mu.
func (db *DB) names() []string {
	names := make([]string, 0, len(db.trees))
	for name := range db.trees {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
