package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalaris-go/kvquery/query/qerr"
	"github.com/scalaris-go/kvquery/store"
)

type Address struct {
	City string `json:"city"`
}

type Person struct {
	Region  string   `kv:"region,id"`
	ID      int64    `kv:"id,id"`
	Name    string   `json:"name"`
	Age     int      `kv:"age"`
	Home    *Address `kv:"home"`
	Cache   string   `kv:"-"`
	private int
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	c, err := r.Register(&Person{})
	require.NoError(t, err)
	assert.Equal(t, "Person", c.Name)
	assert.False(t, c.Dynamic())
	assert.Equal(t, []string{"region", "id"}, c.IdentityFields())

	names := []string{}
	for _, f := range c.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"region", "id", "name", "age", "home"}, names)

	f, ok := c.Field("NAME")
	require.True(t, ok)
	assert.Equal(t, "Name", f.GoName)

	_, ok = c.Field("Cache")
	assert.False(t, ok)

	_, err = r.Register(Person{})
	assert.ErrorIs(t, err, ErrDuplicateClass)

	_, err = r.RegisterAs("Human", Person{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Human", "Person"}, r.Names())

	byType, ok := r.ClassOf(&Person{})
	require.True(t, ok)
	assert.Equal(t, "Person", byType.Name)
}

func TestRegistry_RegisterRejectsNonStruct(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(42)
	assert.ErrorIs(t, err, ErrNotStruct)
	_, err = r.Register(nil)
	assert.ErrorIs(t, err, ErrNotStruct)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Person{})

	c, err := r.Lookup("Person")
	require.NoError(t, err)
	assert.Equal(t, "Person", c.Name)

	_, err = r.Lookup("Nobody")
	assert.ErrorIs(t, err, qerr.ErrMetadataMissing)
}

func TestClassMetadata_Materialize(t *testing.T) {
	r := NewRegistry()
	ptrClass := r.MustRegister(&Person{})
	valClass, err := r.RegisterAs("PersonValue", Person{})
	require.NoError(t, err)

	rec := store.Record{
		"region": "eu",
		"id":     int64(5),
		"name":   "Ann",
		"AGE":    float64(30),
		"home":   map[string]any{"city": "Oslo"},
		"extra":  "ignored",
	}

	obj, err := ptrClass.Materialize(rec)
	require.NoError(t, err)
	p, ok := obj.(*Person)
	require.True(t, ok)
	assert.Equal(t, int64(5), p.ID)
	assert.Equal(t, 30, p.Age)
	require.NotNil(t, p.Home)
	assert.Equal(t, "Oslo", p.Home.City)

	obj, err = valClass.Materialize(rec)
	require.NoError(t, err)
	_, ok = obj.(Person)
	assert.True(t, ok)

	_, err = ptrClass.Materialize(store.Record{"age": "thirty"})
	assert.Error(t, err)
}

func TestClassMetadata_DematerializeAndIdentity(t *testing.T) {
	r := NewRegistry()
	c := r.MustRegister(Person{})

	p := &Person{Region: "eu", ID: 7, Name: "Bo", Age: 3}
	rec, err := c.Dematerialize(p)
	require.NoError(t, err)
	assert.Equal(t, "Bo", rec["name"])
	assert.Equal(t, int64(7), rec["id"])
	assert.NotContains(t, rec, "Cache")

	id, err := c.Identity(*p)
	require.NoError(t, err)
	assert.Equal(t, "eu/7", id)

	_, err = c.Identity("nope")
	assert.ErrorIs(t, err, ErrWrongType)
	assert.True(t, c.Instance(p))
	assert.False(t, c.Instance(Address{}))
}

func TestClassMetadata_Dynamic(t *testing.T) {
	r := NewRegistry()
	c, err := r.RegisterDynamic("Page", []string{"title", "views"}, "id")
	require.NoError(t, err)
	assert.True(t, c.Dynamic())
	assert.Equal(t, []string{"id"}, c.IdentityFields())

	rec := store.Record{"id": 3, "title": "Go"}
	obj, err := c.Materialize(rec)
	require.NoError(t, err)
	m := obj.(map[string]any)
	m["title"] = "changed"
	assert.Equal(t, "Go", rec["title"])

	id, err := c.Identity(map[string]any{"id": 3})
	require.NoError(t, err)
	assert.Equal(t, "3", id)

	_, err = c.Identity(map[string]any{})
	assert.Error(t, err)

	noID, err := r.RegisterDynamic("Log", nil)
	require.NoError(t, err)
	_, err = noID.Identity(map[string]any{})
	assert.ErrorIs(t, err, ErrNoIdentity)
}
