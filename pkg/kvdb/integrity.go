// pkg/kvdb/integrity.go
package kvdb

import (
	"fmt"

	"github.com/pkg/errors"

	"pagekv/pkg/pager"
)

// IntegrityError represents a single integrity check error
type IntegrityError struct {
	// Tree is the affected tree name (if applicable)
	Tree string

	// Page is the affected page id (if applicable)
	Page pager.PageID

	// Message provides details about the error
	Message string
}

// String returns a human-readable description of the integrity error
func (e IntegrityError) String() string {
	switch {
	case e.Tree != "" && e.Page != 0:
		return fmt.Sprintf("tree %s, page %d: %s", e.Tree, e.Page, e.Message)
	case e.Tree != "":
		return fmt.Sprintf("tree %s: %s", e.Tree, e.Message)
	case e.Page != 0:
		return fmt.Sprintf("page %d: %s", e.Page, e.Message)
	}
	return e.Message
}

// Error implements the error interface
func (e IntegrityError) Error() string {
	return e.String()
}

// IntegrityCheck verifies the structure of every tree.
// Returns a slice of IntegrityError. Empty slice means no errors found.
func (db *DB) IntegrityCheck() ([]IntegrityError, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}

	var out []IntegrityError
	for _, name := range db.names() {
		problems, err := db.trees[name].tree.Check()
		if err != nil {
			return out, errors.Wrapf(err, "check tree %s", name)
		}
		for _, p := range problems {
			out = append(out, IntegrityError{Tree: name, Page: p.Page, Message: p.Message})
		}
	}
	return out, nil
}

// CorruptionCheck reads every allocated page from the data file and reports
// those failing checksum or header validation. Zeroed blocks belong to
// pages that were never written and are skipped. Changes not yet
// checkpointed are not seen.
func (db *DB) CorruptionCheck() ([]IntegrityError, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}

	var out []IntegrityError
	last := db.disk.CurrentPageID()
	for id := pager.PageID(1); id <= last; id++ {
		if ie := db.checkPage(id); ie != nil {
			out = append(out, *ie)
		}
	}
	return out, nil
}

func (db *DB) checkPage(id pager.PageID) *IntegrityError {
	data, err := db.disk.ReadPage(id)
	if err == nil {
		if unused(data) {
			return nil
		}
		_, err = pager.LoadPage(id, data)
	}
	if err == nil {
		return nil
	}
	var ce *pager.CorruptionError
	if errors.As(err, &ce) {
		return &IntegrityError{Page: id, Message: ce.Message}
	}
	return &IntegrityError{Page: id, Message: err.Error()}
}

func unused(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
