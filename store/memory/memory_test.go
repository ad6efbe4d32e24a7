package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalaris-go/kvquery/store"
)

func TestStore_PutEnumerateOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	conn, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	require.NoError(t, conn.Put(ctx, "Person", "b", store.Record{"name": "Bob"}))
	require.NoError(t, conn.Put(ctx, "Person", "a", store.Record{"name": "Ann"}))
	require.NoError(t, conn.Put(ctx, "Person", "b", store.Record{"name": "Bobby"}))

	entries, err := conn.Enumerate(ctx, "Person")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Key)
	assert.Equal(t, "Bobby", entries[0].Record["name"])
	assert.Equal(t, "a", entries[1].Key)

	empty, err := conn.Enumerate(ctx, "Nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_RecordsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := store.Record{"name": "Ann"}
	s.Seed("Person", store.Entry{Key: "1", Record: rec})
	rec["name"] = "changed"

	conn, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	got, err := conn.Get(ctx, "Person", "1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got["name"])

	got["name"] = "mutated"
	again, err := conn.Get(ctx, "Person", "1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", again["name"])
}

func TestStore_GetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed("Person",
		store.Entry{Record: store.Record{"n": 1}},
		store.Entry{Record: store.Record{"n": 2}},
	)

	conn, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.Get(ctx, "Person", "Person-1")
	require.NoError(t, err)

	require.NoError(t, conn.Delete(ctx, "Person", "Person-0"))
	_, err = conn.Get(ctx, "Person", "Person-0")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, conn.Delete(ctx, "Person", "Person-0"), store.ErrNotFound)
	assert.ErrorIs(t, conn.Delete(ctx, "Missing", "x"), store.ErrNotFound)

	entries, err := conn.Enumerate(ctx, "Person")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Person-1", entries[0].Key)
}

func TestStore_ReleaseOnce(t *testing.T) {
	ctx := context.Background()
	s := New()

	conn, err := s.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Release())
	assert.ErrorIs(t, conn.Release(), store.ErrReleased)

	_, err = conn.Enumerate(ctx, "Person")
	assert.ErrorIs(t, err, store.ErrReleased)

	assert.Equal(t, Stats{Acquired: 1, Released: 1}, s.Stats())
	assert.Zero(t, s.Stats().Open())
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s := New()

	conn, err := s.Acquire(ctx)
	require.NoError(t, err)

	s.SetUnavailable(true)
	_, err = s.Acquire(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = conn.Enumerate(ctx, "Person")
	assert.ErrorIs(t, err, ErrUnavailable)
	require.NoError(t, conn.Release())

	s.SetUnavailable(false)
	conn, err = s.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Release())
	assert.Equal(t, int64(2), s.Stats().Acquired)
}

func TestStore_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestStore_ConcurrentHandles(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := s.Acquire(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Release()
			_, err = conn.Enumerate(ctx, "Person")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, Stats{Acquired: 16, Released: 16}, s.Stats())
}
