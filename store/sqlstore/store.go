// Package sqlstore implements store.Store as a key/value table on
// database/sql. Records are stored as JSON; each class keeps insertion order
// through a sequence column.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-version"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/scalaris-go/kvquery/internal/debug"
	"github.com/scalaris-go/kvquery/store"
)

// FormatVersion is the on-disk format written by this package.
const FormatVersion = "1.0.0"

// SupportedFormats is the constraint an existing store must satisfy.
const SupportedFormats = ">= 1.0.0, < 2.0.0"

var (
	// ErrUnsupportedDriver is returned for unknown provider names.
	ErrUnsupportedDriver = errors.New("sqlstore: unsupported driver")
	// ErrIncompatibleFormat is returned when the stored format version does
	// not satisfy SupportedFormats.
	ErrIncompatibleFormat = errors.New("sqlstore: incompatible store format")
)

// Option configures a Store.
type Option func(*Store)

// WithPool overrides the pool configuration.
func WithPool(cfg PoolConfig) Option {
	return func(s *Store) { s.poolConfig = cfg }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Store is a SQL-backed store.Store.
type Store struct {
	dialect    dialect
	poolConfig PoolConfig
	pool       *pool
	log        *slog.Logger

	mu     sync.RWMutex
	closed bool
	seq    atomic.Int64
}

// Open connects to the database, creates the tables when missing and
// verifies the stored format version.
func Open(ctx context.Context, provider, dsn string, opts ...Option) (*Store, error) {
	driverName, err := DriverName(provider)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dialect:    dialects[driverName],
		poolConfig: DefaultPoolConfig(),
		log:        debug.Component("sqlstore"),
	}
	for _, opt := range opts {
		opt(s)
	}

	p, err := newPool(driverName, dsn, s.poolConfig, s.log)
	if err != nil {
		return nil, err
	}
	s.pool = p

	if err := s.migrate(ctx); err != nil {
		_ = p.close()
		return nil, err
	}
	s.seq.Store(time.Now().UnixNano())

	s.log.Debug("store opened", "driver", driverName)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.pool.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	current, err := s.FormatVersion(ctx)
	if errors.Is(err, store.ErrNotFound) {
		_, err = s.pool.db.ExecContext(ctx,
			s.dialect.rebind("INSERT INTO kv_meta (name, value) VALUES (?, ?)"), "format", FormatVersion)
		if err != nil {
			return fmt.Errorf("failed to write format version: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	return CheckFormat(current)
}

// FormatVersion reads the format version recorded in the store.
func (s *Store) FormatVersion(ctx context.Context) (string, error) {
	var v string
	err := s.pool.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT value FROM kv_meta WHERE name = ?"), "format").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read format version: %w", err)
	}
	return v, nil
}

// CheckFormat reports whether v satisfies SupportedFormats.
func CheckFormat(v string) error {
	current, err := version.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: invalid version %q: %v", ErrIncompatibleFormat, v, err)
	}
	constraint, err := version.NewConstraint(SupportedFormats)
	if err != nil {
		return fmt.Errorf("invalid constraint: %w", err)
	}
	if !constraint.Check(current) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleFormat, current, SupportedFormats)
	}
	return nil
}

// Acquire pins one pooled connection for the returned handle.
func (s *Store) Acquire(ctx context.Context) (store.Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	c, err := s.pool.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &conn{store: s, conn: c}, nil
}

// Stats returns pool statistics.
func (s *Store) Stats() PoolStats {
	return s.pool.stats()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.healthCheck(ctx)
}

// Close stops the health checks and closes the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pool.close()
}

// nextSeq returns a monotonically increasing sequence value.
func (s *Store) nextSeq() int64 {
	for {
		last := s.seq.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if s.seq.CompareAndSwap(last, next) {
			return next
		}
	}
}
