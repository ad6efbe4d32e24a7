package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalaris-go/kvquery/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 0
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "kv.db"), WithPool(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDriverName(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"postgresql", "postgres"},
		{"postgres", "postgres"},
		{"mysql", "mysql"},
		{"sqlite", "sqlite3"},
		{"SQLite3", "sqlite3"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			got, err := DriverName(tt.provider)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DriverName("oracle")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestRebind(t *testing.T) {
	q := "SELECT value FROM kv_entries WHERE class_name = ? AND entry_key = ?"
	assert.Equal(t, q, dialects["sqlite3"].rebind(q))
	assert.Equal(t,
		"SELECT value FROM kv_entries WHERE class_name = $1 AND entry_key = $2",
		dialects["postgres"].rebind(q))
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, CheckFormat(FormatVersion))
	assert.NoError(t, CheckFormat("1.4.2"))
	assert.ErrorIs(t, CheckFormat("2.0.0"), ErrIncompatibleFormat)
	assert.ErrorIs(t, CheckFormat("0.9"), ErrIncompatibleFormat)
	assert.ErrorIs(t, CheckFormat("not-a-version"), ErrIncompatibleFormat)
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	conn, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	require.NoError(t, conn.Put(ctx, "Person", "2", store.Record{"name": "Bob", "age": 40}))
	require.NoError(t, conn.Put(ctx, "Person", "1", store.Record{"name": "Ann", "age": 31.5}))
	require.NoError(t, conn.Put(ctx, "Person", "2", store.Record{"name": "Bobby", "age": 41}))
	require.NoError(t, conn.Put(ctx, "Pet", "1", store.Record{"name": "Rex"}))

	entries, err := conn.Enumerate(ctx, "Person")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].Key)
	assert.Equal(t, "Bobby", entries[0].Record["name"])
	assert.Equal(t, int64(41), entries[0].Record["age"])
	assert.Equal(t, 31.5, entries[1].Record["age"])

	rec, err := conn.Get(ctx, "Pet", "1")
	require.NoError(t, err)
	assert.Equal(t, "Rex", rec["name"])

	_, err = conn.Get(ctx, "Pet", "2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, conn.Delete(ctx, "Person", "2"))
	assert.ErrorIs(t, conn.Delete(ctx, "Person", "2"), store.ErrNotFound)

	entries, err = conn.Enumerate(ctx, "Person")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].Key)
}

func TestStore_ReleaseAndClose(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	conn, err := s.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Release())
	assert.ErrorIs(t, conn.Release(), store.ErrReleased)

	_, err = conn.Enumerate(ctx, "Person")
	assert.ErrorIs(t, err, store.ErrReleased)

	require.NoError(t, s.Close())
	_, err = s.Acquire(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestStore_ReopenKeepsDataAndFormat(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 0

	s, err := Open(ctx, "sqlite3", path, WithPool(cfg))
	require.NoError(t, err)
	conn, err := s.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Put(ctx, "Person", "1", store.Record{"name": "Ann"}))
	require.NoError(t, conn.Release())
	require.NoError(t, s.Close())

	s, err = Open(ctx, "sqlite3", path, WithPool(cfg))
	require.NoError(t, err)
	defer s.Close()

	v, err := s.FormatVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, v)

	conn, err = s.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()
	entries, err := conn.Enumerate(ctx, "Person")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_RejectsIncompatibleFormat(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 0

	s, err := Open(ctx, "sqlite3", path, WithPool(cfg))
	require.NoError(t, err)
	_, err = s.pool.db.ExecContext(ctx, "UPDATE kv_meta SET value = '3.0.0' WHERE name = 'format'")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "sqlite3", path, WithPool(cfg))
	assert.ErrorIs(t, err, ErrIncompatibleFormat)
}

func TestStore_PingAndStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Ping(ctx))
	stats := s.Stats()
	assert.False(t, stats.LastHealthCheck.IsZero())
	assert.Zero(t, stats.FailedHealthChecks)
}
