// Package metadata describes persistable classes: their fields, identity,
// and how raw store records become typed instances and back.
package metadata

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/store"
)

var (
	ErrNotStruct      = errors.New("class sample must be a struct or pointer to struct")
	ErrDuplicateClass = errors.New("class already registered")
	ErrNoIdentity     = errors.New("class has no identity fields")
	ErrWrongType      = errors.New("object does not belong to class")
)

// IdentitySeparator joins the values of composite identities.
const IdentitySeparator = "/"

// FieldMetadata describes one persistent field.
type FieldMetadata struct {
	// Name is the external name used in queries and records.
	Name string
	// GoName is the struct field name; empty for dynamic classes.
	GoName   string
	Type     reflect.Type
	Identity bool

	index []int
}

// ClassMetadata describes a persistable class.
type ClassMetadata struct {
	Name string

	typ     reflect.Type
	pointer bool
	dynamic bool
	fields  []FieldMetadata
	byName  map[string]int
}

// Type returns the Go struct type, or nil for dynamic classes.
func (c *ClassMetadata) Type() reflect.Type { return c.typ }

// Dynamic reports whether instances are map[string]any.
func (c *ClassMetadata) Dynamic() bool { return c.dynamic }

// Fields returns the persistent fields in declaration order.
func (c *ClassMetadata) Fields() []FieldMetadata {
	return slices.Clone(c.fields)
}

// IdentityFields returns the names of the identity fields.
func (c *ClassMetadata) IdentityFields() []string {
	var names []string
	for _, f := range c.fields {
		if f.Identity {
			names = append(names, f.Name)
		}
	}
	return names
}

// Field resolves a field by name, exactly first and then
// case-insensitively.
func (c *ClassMetadata) Field(name string) (FieldMetadata, bool) {
	if i, ok := c.byName[name]; ok {
		return c.fields[i], true
	}
	for _, f := range c.fields {
		if strings.EqualFold(f.Name, name) || (f.GoName != "" && strings.EqualFold(f.GoName, name)) {
			return f, true
		}
	}
	return FieldMetadata{}, false
}

// Materialize turns a raw record into an instance of the class. Struct
// classes return *T when registered with a pointer sample and T otherwise;
// dynamic classes return a copy of the record as map[string]any.
func (c *ClassMetadata) Materialize(rec store.Record) (any, error) {
	if c.dynamic {
		out := make(map[string]any, len(rec))
		maps.Copy(out, rec)
		return out, nil
	}

	ptr := reflect.New(c.typ)
	elem := ptr.Elem()
	for key, value := range rec {
		f, ok := c.Field(key)
		if !ok {
			continue
		}
		if err := convert.Assign(elem.FieldByIndex(f.index), value); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Name, f.Name, err)
		}
	}
	if c.pointer {
		return ptr.Interface(), nil
	}
	return elem.Interface(), nil
}

// Dematerialize turns an instance back into a raw record.
func (c *ClassMetadata) Dematerialize(obj any) (store.Record, error) {
	if c.dynamic {
		m, ok := obj.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects map[string]any, got %T", ErrWrongType, c.Name, obj)
		}
		return store.Record(m).Clone(), nil
	}

	v, err := c.value(obj)
	if err != nil {
		return nil, err
	}
	rec := make(store.Record, len(c.fields))
	for _, f := range c.fields {
		rec[f.Name] = v.FieldByIndex(f.index).Interface()
	}
	return rec, nil
}

// Identity renders the identity of obj as its identity field values joined
// with IdentitySeparator.
func (c *ClassMetadata) Identity(obj any) (string, error) {
	ids := c.IdentityFields()
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoIdentity, c.Name)
	}

	parts := make([]string, 0, len(ids))
	if c.dynamic {
		m, ok := obj.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: %s expects map[string]any, got %T", ErrWrongType, c.Name, obj)
		}
		for _, id := range ids {
			val, ok := m[id]
			if !ok || val == nil {
				return "", fmt.Errorf("%s: identity field %s is empty", c.Name, id)
			}
			parts = append(parts, fmt.Sprint(val))
		}
		return strings.Join(parts, IdentitySeparator), nil
	}

	v, err := c.value(obj)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		f, _ := c.Field(id)
		parts = append(parts, fmt.Sprint(convert.Indirect(v.FieldByIndex(f.index).Interface())))
	}
	return strings.Join(parts, IdentitySeparator), nil
}

// Instance reports whether obj is an instance of the class.
func (c *ClassMetadata) Instance(obj any) bool {
	if c.dynamic {
		_, ok := obj.(map[string]any)
		return ok
	}
	_, err := c.value(obj)
	return err == nil
}

func (c *ClassMetadata) value(obj any) (reflect.Value, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() || v.Type() != c.typ {
		return reflect.Value{}, fmt.Errorf("%w: %s, got %T", ErrWrongType, c.Name, obj)
	}
	return v, nil
}

func newStructClass(name string, sample any) (*ClassMetadata, error) {
	typ := reflect.TypeOf(sample)
	pointer := false
	if typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
		pointer = true
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T", ErrNotStruct, sample)
	}
	if name == "" {
		name = typ.Name()
	}

	c := &ClassMetadata{
		Name:    name,
		typ:     typ,
		pointer: pointer,
		byName:  make(map[string]int),
	}
	for _, sf := range reflect.VisibleFields(typ) {
		if sf.Anonymous || viaPointer(typ, sf.Index) {
			continue
		}
		fieldName := convert.FieldName(sf)
		if fieldName == "" {
			continue
		}
		if _, dup := c.byName[fieldName]; dup {
			continue
		}
		c.byName[fieldName] = len(c.fields)
		c.fields = append(c.fields, FieldMetadata{
			Name:     fieldName,
			GoName:   sf.Name,
			Type:     sf.Type,
			Identity: slices.Contains(convert.TagOptions(sf), "id"),
			index:    sf.Index,
		})
	}
	return c, nil
}

// viaPointer reports whether a promoted field is reached through an
// embedded pointer.
func viaPointer(typ reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		typ = typ.Field(i).Type
		if typ.Kind() == reflect.Ptr {
			return true
		}
	}
	return false
}

func newDynamicClass(name string, fields []string, identity []string) *ClassMetadata {
	c := &ClassMetadata{
		Name:    name,
		dynamic: true,
		byName:  make(map[string]int),
	}
	anyType := reflect.TypeOf((*any)(nil)).Elem()
	add := func(n string) {
		if _, ok := c.byName[n]; ok {
			return
		}
		c.byName[n] = len(c.fields)
		c.fields = append(c.fields, FieldMetadata{Name: n, Type: anyType})
	}
	for _, f := range fields {
		add(f)
	}
	for _, id := range identity {
		add(id)
		c.fields[c.byName[id]].Identity = true
	}
	return c
}
