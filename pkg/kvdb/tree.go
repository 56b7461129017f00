// pkg/kvdb/tree.go
package kvdb

import (
	"bytes"

	"github.com/pkg/errors"

	"pagekv/pkg/btree"
	"pagekv/pkg/dbfile"
	"pagekv/pkg/pager"
)

// Tree is a named B+Tree of a database. All methods fail with
// ErrDatabaseClosed once the database is closed.
type Tree struct {
	db   *DB
	name string

	// meta is the resident TableMeta page of the tree
	meta *pager.Page
	tree *btree.BTree

	// payload is opaque data stored next to the tree, guarded by db.mu
	payload []byte
	dropped bool
}

// CreateTree adds an empty tree with the given name and key type to the
// catalog.
func (db *DB) CreateTree(name string, kt pager.KeyType) (*Tree, error) {
	if err := dbfile.ValidateTreeName(name); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if _, ok := db.trees[name]; ok {
		return nil, errors.Wrap(ErrTreeExists, name)
	}
	ids, err := dbfile.ReadMetaEntries(db.meta)
	if err != nil {
		return nil, err
	}
	if len(ids) >= dbfile.MaxTrees {
		return nil, dbfile.ErrCatalogFull
	}

	mp, err := db.pool.NewResident(pager.InitInfo{Type: pager.TypeTableMeta, Parent: dbfile.MetaPageID})
	if err != nil {
		return nil, err
	}
	bt, err := btree.Create(db.pool, kt)
	if err != nil {
		return nil, err
	}
	if err := dbfile.WriteTableMeta(mp, dbfile.TableMeta{Name: name, KeyType: kt, Root: bt.RootID()}); err != nil {
		return nil, err
	}
	if err := dbfile.WriteMetaEntries(db.meta, append(ids, mp.ID())); err != nil {
		return nil, err
	}

	t := &Tree{db: db, name: name, meta: mp, tree: bt}
	db.trees[name] = t
	return t, nil
}

// Tree returns the tree with the given name.
func (db *DB) Tree(name string) (*Tree, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	t, ok := db.trees[name]
	if !ok {
		return nil, errors.Wrap(ErrTreeNotFound, name)
	}
	return t, nil
}

// DropTree removes a tree from the catalog. Its pages are not reclaimed.
func (db *DB) DropTree(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	t, ok := db.trees[name]
	if !ok {
		return errors.Wrap(ErrTreeNotFound, name)
	}
	ids, err := dbfile.ReadMetaEntries(db.meta)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if id != t.meta.ID() {
			kept = append(kept, id)
		}
	}
	if err := dbfile.WriteMetaEntries(db.meta, kept); err != nil {
		return err
	}
	t.meta.MarkFreed()
	t.dropped = true
	delete(db.trees, name)
	return nil
}

// Trees lists the catalog in name order.
func (db *DB) Trees() ([]dbfile.TableMeta, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	out := make([]dbfile.TableMeta, 0, len(db.trees))
	for _, name := range db.names() {
		out = append(out, db.trees[name].describe())
	}
	return out, nil
}

func (t *Tree) describe() dbfile.TableMeta {
	return dbfile.TableMeta{
		Name:    t.name,
		KeyType: t.tree.KeyType(),
		Root:    t.tree.RootID(),
		Size:    t.tree.Size(),
		Payload: t.payload,
	}
}

// flush records the tree state on its TableMeta page and writes the root
// and the meta page back. The caller holds db.mu exclusively.
func (t *Tree) flush() error {
	if err := dbfile.WriteTableMeta(t.meta, t.describe()); err != nil {
		return err
	}
	if err := t.tree.Flush(); err != nil {
		return err
	}
	return t.db.pool.WritePage(t.meta)
}

// enter takes the database lock shared for one tree operation.
func (t *Tree) enter() error {
	t.db.mu.RLock()
	if t.db.closed {
		t.db.mu.RUnlock()
		return ErrDatabaseClosed
	}
	if t.dropped {
		t.db.mu.RUnlock()
		return errors.Wrap(ErrTreeNotFound, t.name)
	}
	return nil
}

func (t *Tree) leave() {
	t.db.mu.RUnlock()
}

// Name returns the catalog name of the tree.
func (t *Tree) Name() string {
	return t.name
}

// KeyType returns the key encoding of the tree.
func (t *Tree) KeyType() pager.KeyType {
	return t.tree.KeyType()
}

// Size returns the number of entries.
func (t *Tree) Size() uint32 {
	return t.tree.Size()
}

// Get returns the value stored under k.
func (t *Tree) Get(k btree.Key) ([]byte, bool, error) {
	if err := t.enter(); err != nil {
		return nil, false, err
	}
	defer t.leave()
	return t.tree.Find(k)
}

// Put stores v under k unless k is already present.
func (t *Tree) Put(k btree.Key, v []byte) (btree.InsertResult, error) {
	if err := t.enter(); err != nil {
		return btree.Inserted, err
	}
	defer t.leave()
	return t.tree.Insert(k, v)
}

// Delete removes k.
func (t *Tree) Delete(k btree.Key) (btree.EraseResult, error) {
	if err := t.enter(); err != nil {
		return btree.NotFound, err
	}
	defer t.leave()
	return t.tree.Erase(k)
}

// Scan calls fn for each entry with lo <= key <= hi. A nil bound is open.
func (t *Tree) Scan(lo, hi btree.Key, fn func(k btree.Key, v []byte) bool) error {
	if err := t.enter(); err != nil {
		return err
	}
	defer t.leave()
	return t.tree.Scan(lo, hi, fn)
}

// Check verifies the structure of the tree.
func (t *Tree) Check() ([]btree.CheckError, error) {
	if err := t.enter(); err != nil {
		return nil, err
	}
	defer t.leave()
	return t.tree.Check()
}

// Stats counts the nodes of the tree.
func (t *Tree) Stats() (btree.Stats, error) {
	if err := t.enter(); err != nil {
		return btree.Stats{}, err
	}
	defer t.leave()
	return t.tree.Stats()
}

// Payload returns a copy of the opaque data stored with the tree.
func (t *Tree) Payload() ([]byte, error) {
	if err := t.enter(); err != nil {
		return nil, err
	}
	defer t.leave()
	return bytes.Clone(t.payload), nil
}

// SetPayload replaces the opaque data stored with the tree. It is written
// on the next checkpoint.
func (t *Tree) SetPayload(b []byte) error {
	if len(b) > dbfile.MaxPayloadSize {
		return dbfile.ErrPayloadTooLarge
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.closed {
		return ErrDatabaseClosed
	}
	if t.dropped {
		return errors.Wrap(ErrTreeNotFound, t.name)
	}
	t.payload = bytes.Clone(b)
	return nil
}
