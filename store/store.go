// Package store defines the key/value capability set queries run against:
// enumerate a class, fetch, put and delete by key, all through a connection
// handle that is acquired and released once per unit of work.
package store

import (
	"context"
	"errors"
	"maps"
)

// Standard errors
var (
	ErrNotFound = errors.New("store: record not found")
	ErrReleased = errors.New("store: connection already released")
	ErrClosed   = errors.New("store: store is closed")
)

// Record is the raw, untyped form of a stored object.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// Entry is a record together with its key.
type Entry struct {
	Key    string
	Record Record
}

// Store hands out connection handles.
type Store interface {
	// Acquire opens a handle. Every successful Acquire must be paired with
	// exactly one Release.
	Acquire(ctx context.Context) (Conn, error)

	// Close shuts the store down. Later Acquire calls fail with ErrClosed.
	Close() error
}

// Conn is a connection handle scoped to one unit of work.
type Conn interface {
	// Enumerate returns every instance of class in insertion order.
	Enumerate(ctx context.Context, class string) ([]Entry, error)

	// Get fetches one record, or ErrNotFound.
	Get(ctx context.Context, class, key string) (Record, error)

	// Put inserts or replaces a record. Replacing keeps the original position.
	Put(ctx context.Context, class, key string, rec Record) error

	// Delete removes a record, or returns ErrNotFound.
	Delete(ctx context.Context, class, key string) error

	// Release returns the handle. A second call returns ErrReleased.
	Release() error
}
