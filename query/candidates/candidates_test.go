package candidates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalaris-go/kvquery/metadata"
	"github.com/scalaris-go/kvquery/query/qerr"
	"github.com/scalaris-go/kvquery/store"
	"github.com/scalaris-go/kvquery/store/memory"
)

type Person struct {
	ID   int64  `kv:"id,id"`
	Name string `kv:"name"`
}

func setup(t *testing.T) (*metadata.ClassMetadata, *memory.Store, store.Conn) {
	t.Helper()
	reg := metadata.NewRegistry()
	class := reg.MustRegister(&Person{})

	s := memory.New()
	s.Seed("Person",
		store.Entry{Key: "1", Record: store.Record{"id": 1, "name": "Ann"}},
		store.Entry{Key: "2", Record: store.Record{"id": 2, "name": "Bob"}},
	)
	conn, err := s.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Release() })
	return class, s, conn
}

func TestStoreSource_FullScan(t *testing.T) {
	class, _, conn := setup(t)
	src := NewStoreSource(nil)

	cands, err := src.Fetch(context.Background(), class, conn, nil)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "1", cands[0].Key)
	assert.Equal(t, &Person{ID: 1, Name: "Ann"}, cands[0].Object)
	assert.Same(t, class, cands[1].Class)
}

func TestStoreSource_Explicit(t *testing.T) {
	class, _, conn := setup(t)
	src := NewStoreSource(nil)

	explicit := []any{&Person{ID: 9}, &Person{ID: 8}}
	cands, err := src.Fetch(context.Background(), class, conn, explicit)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, []any{explicit[0], explicit[1]}, Objects(cands))

	explicit[0] = "replaced"
	assert.IsType(t, &Person{}, cands[0].Object)

	empty, err := src.Fetch(context.Background(), class, nil, []any{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreSource_Errors(t *testing.T) {
	class, s, conn := setup(t)
	src := NewStoreSource(nil)

	_, err := src.Fetch(context.Background(), nil, conn, nil)
	assert.ErrorIs(t, err, qerr.ErrMetadataMissing)

	s.SetUnavailable(true)
	_, err = src.Fetch(context.Background(), class, conn, nil)
	assert.ErrorIs(t, err, qerr.ErrStoreUnavailable)
	assert.ErrorIs(t, err, memory.ErrUnavailable)
	s.SetUnavailable(false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Fetch(ctx, class, conn, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreSource_MaterializeFailure(t *testing.T) {
	class, s, conn := setup(t)
	s.Seed("Person", store.Entry{Key: "bad", Record: store.Record{"id": "not a number"}})

	_, err := NewStoreSource(nil).Fetch(context.Background(), class, conn, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Person/bad")
}
