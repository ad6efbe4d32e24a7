// Package memory implements an in-process store.Store that keeps each class
// in insertion order.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/scalaris-go/kvquery/store"
)

// ErrUnavailable is returned while the store is switched unavailable.
var ErrUnavailable = errors.New("memory: store unavailable")

// Stats counts handle lifecycle events.
type Stats struct {
	Acquired int64
	Released int64
}

// Open returns the number of handles acquired but not yet released.
func (s Stats) Open() int64 {
	return s.Acquired - s.Released
}

type class struct {
	order   []string
	records map[string]store.Record
}

// Store is an in-memory store.Store. It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	classes     map[string]*class
	closed      bool
	unavailable atomic.Bool
	acquired    atomic.Int64
	released    atomic.Int64
}

// New creates an empty store.
func New() *Store {
	return &Store{classes: make(map[string]*class)}
}

// SetUnavailable makes Acquire, and every operation on live handles, fail
// with ErrUnavailable until switched back.
func (s *Store) SetUnavailable(v bool) {
	s.unavailable.Store(v)
}

// Stats returns acquire and release counts.
func (s *Store) Stats() Stats {
	return Stats{Acquired: s.acquired.Load(), Released: s.released.Load()}
}

// Acquire returns an independent handle.
func (s *Store) Acquire(ctx context.Context) (store.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.unavailable.Load() {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, store.ErrClosed
	}
	s.acquired.Add(1)
	return &conn{store: s}, nil
}

// Close marks the store closed. Data is kept so that tests can inspect it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Seed inserts records without going through a handle. Keys are generated
// from the position when key is empty.
func (s *Store) Seed(className string, entries ...store.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		key := e.Key
		if key == "" {
			key = fmt.Sprintf("%s-%d", className, s.sizeLocked(className))
		}
		s.putLocked(className, key, e.Record)
	}
}

func (s *Store) sizeLocked(className string) int {
	if c, ok := s.classes[className]; ok {
		return len(c.order)
	}
	return 0
}

func (s *Store) putLocked(className, key string, rec store.Record) {
	c, ok := s.classes[className]
	if !ok {
		c = &class{records: make(map[string]store.Record)}
		s.classes[className] = c
	}
	if _, exists := c.records[key]; !exists {
		c.order = append(c.order, key)
	}
	c.records[key] = rec.Clone()
}

type conn struct {
	store    *Store
	released atomic.Bool
}

func (c *conn) check(ctx context.Context) error {
	if c.released.Load() {
		return store.ErrReleased
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.store.unavailable.Load() {
		return ErrUnavailable
	}
	return nil
}

func (c *conn) Enumerate(ctx context.Context, className string) ([]store.Entry, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	cl, ok := c.store.classes[className]
	if !ok {
		return []store.Entry{}, nil
	}
	entries := make([]store.Entry, 0, len(cl.order))
	for _, key := range cl.order {
		entries = append(entries, store.Entry{Key: key, Record: cl.records[key].Clone()})
	}
	return entries, nil
}

func (c *conn) Get(ctx context.Context, className, key string) (store.Record, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	if cl, ok := c.store.classes[className]; ok {
		if rec, ok := cl.records[key]; ok {
			return rec.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, className, key)
}

func (c *conn) Put(ctx context.Context, className, key string, rec store.Record) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.putLocked(className, key, rec)
	return nil
}

func (c *conn) Delete(ctx context.Context, className, key string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	cl, ok := c.store.classes[className]
	if !ok {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, className, key)
	}
	if _, ok := cl.records[key]; !ok {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, className, key)
	}
	delete(cl.records, key)
	cl.order = slices.DeleteFunc(cl.order, func(k string) bool { return k == key })
	return nil
}

func (c *conn) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return store.ErrReleased
	}
	c.store.released.Add(1)
	return nil
}
