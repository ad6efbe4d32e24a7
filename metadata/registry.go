package metadata

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/scalaris-go/kvquery/query/qerr"
)

// Registry maps class names to their metadata. It is safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*ClassMetadata
	byType  map[reflect.Type]*ClassMetadata
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[string]*ClassMetadata),
		byType:  make(map[reflect.Type]*ClassMetadata),
	}
}

// Register derives a class from a struct sample, named after the Go type.
func (r *Registry) Register(sample any) (*ClassMetadata, error) {
	return r.RegisterAs("", sample)
}

// RegisterAs is Register with an explicit class name.
func (r *Registry) RegisterAs(name string, sample any) (*ClassMetadata, error) {
	c, err := newStructClass(name, sample)
	if err != nil {
		return nil, err
	}
	if err := r.add(c); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if _, ok := r.byType[c.typ]; !ok {
		r.byType[c.typ] = c
	}
	r.mu.Unlock()
	return c, nil
}

// RegisterDynamic registers a map-backed class.
func (r *Registry) RegisterDynamic(name string, fields []string, identity ...string) (*ClassMetadata, error) {
	if name == "" {
		return nil, fmt.Errorf("dynamic class needs a name")
	}
	c := newDynamicClass(name, fields, identity)
	if err := r.add(c); err != nil {
		return nil, err
	}
	return c, nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(sample any) *ClassMetadata {
	c, err := r.Register(sample)
	if err != nil {
		panic(err)
	}
	return c
}

func (r *Registry) add(c *ClassMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[c.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, c.Name)
	}
	r.classes[c.Name] = c
	return nil
}

// Lookup returns the metadata of a class, or qerr.ErrMetadataMissing.
func (r *Registry) Lookup(name string) (*ClassMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.classes[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", qerr.ErrMetadataMissing, name)
}

// ClassOf returns the struct class registered for the dynamic type of obj.
func (r *Registry) ClassOf(obj any) (*ClassMetadata, bool) {
	t := reflect.TypeOf(obj)
	if t == nil {
		return nil, false
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[t]
	return c, ok
}

// Names returns the registered class names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for n := range r.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
