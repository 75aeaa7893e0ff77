// Package storage persists named documents with atomic replace semantics.
//
// A document is an opaque byte blob (the account store encodes one JSON
// document per provider). Every Write replaces the whole document: readers
// and a process restarted after a crash observe either the previous or the
// new content, never a mix.
//
// Drivers:
//   - "file": one <name>.json per document, written to a temp file, fsynced
//     and renamed over the canonical file
//   - "sqlite": one row per document in a SQLite database, replaced inside
//     a transaction
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotExist = errors.New("document does not exist")
	ErrClosed   = errors.New("storage closed")
	ErrLocked   = errors.New("store is locked by another process")
)

// Store is the persistence API used by the account store.
type Store interface {
	// Read returns the last committed content of name, or ErrNotExist.
	Read(ctx context.Context, name string) ([]byte, error)
	// Write atomically replaces name with data.
	Write(ctx context.Context, name string, data []byte) error
	Close() error
}

// Config configures storage.
//
// Path is a directory for the file driver and a database file for sqlite.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
