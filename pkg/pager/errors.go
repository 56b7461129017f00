// pkg/pager/errors.go
package pager

import "github.com/pkg/errors"

var (
	ErrInvalidHeader   = errors.New("invalid database header")
	ErrInvalidPageID   = errors.New("invalid page id")
	ErrUnknownPageType = errors.New("unknown page type")
	ErrClosed          = errors.New("disk manager is closed")
	ErrDatabaseLocked  = errors.New("database is locked by another process")
)
