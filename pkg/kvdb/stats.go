// pkg/kvdb/stats.go
package kvdb

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"pagekv/pkg/bufferpool"
	"pagekv/pkg/pager"
)

// Stats describes an open database.
type Stats struct {
	Path    string
	Trees   int
	Entries uint64
	Pages   uint32 // allocated page ids
	Pool    bufferpool.Stats
}

func (s Stats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "database:  %s\n", s.Path)
	fmt.Fprintf(&sb, "trees:     %d\n", s.Trees)
	fmt.Fprintf(&sb, "entries:   %s\n", humanize.Comma(int64(s.Entries)))
	fmt.Fprintf(&sb, "file size: %s (%s pages)\n",
		humanize.IBytes(uint64(s.Pages+1)*pager.PageSize), humanize.Comma(int64(s.Pages)))
	fmt.Fprintf(&sb, "pool:      %s", s.Pool)
	return sb.String()
}

// Stats returns a snapshot of the database counters.
func (db *DB) Stats() (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return Stats{}, ErrDatabaseClosed
	}
	st := Stats{
		Path:  db.path,
		Trees: len(db.trees),
		Pages: uint32(db.disk.CurrentPageID()),
		Pool:  db.pool.Stats(),
	}
	for _, t := range db.trees {
		st.Entries += uint64(t.tree.Size())
	}
	return st, nil
}

// Dump writes every tree, level by level, to w.
func (db *DB) Dump(w io.Writer) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	for _, name := range db.names() {
		t := db.trees[name]
		fmt.Fprintf(w, "tree %s\n", t.describe())
		if err := t.tree.Dump(w); err != nil {
			return err
		}
	}
	return nil
}
