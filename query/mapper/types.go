package mapper

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/query/qerr"
)

var (
	ErrInvalidResultClass = errors.New("invalid result class")
	ErrInvalidConstructor = errors.New("invalid constructor")
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// ResultClass is a registered result type and its constructors.
type ResultClass struct {
	Name string

	typ          reflect.Type
	pointer      bool
	constructors []reflect.Value
}

// Type returns the element type of the result class.
func (c *ResultClass) Type() reflect.Type { return c.typ }

// TypeRegistry holds the result classes queries may name. It is safe for
// concurrent use and implements evaluator.Constructor.
type TypeRegistry struct {
	mu      sync.RWMutex
	classes map[string]*ResultClass
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{classes: make(map[string]*ResultClass)}
}

// Register adds a result class. sample fixes the result type: a pointer
// sample produces pointer results. Each constructor is a function returning
// the type (or a pointer to it), optionally followed by an error.
func (r *TypeRegistry) Register(name string, sample any, constructors ...any) error {
	typ := reflect.TypeOf(sample)
	if typ == nil {
		return fmt.Errorf("%w: %s has no type", ErrInvalidResultClass, name)
	}
	pointer := false
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
		pointer = true
	}
	if name == "" {
		name = typ.Name()
	}
	if name == "" {
		return fmt.Errorf("%w: anonymous type %s needs a name", ErrInvalidResultClass, typ)
	}

	rc := &ResultClass{Name: name, typ: typ, pointer: pointer}
	for i, ctor := range constructors {
		fn := reflect.ValueOf(ctor)
		if err := checkConstructor(ctor, typ); err != nil {
			return fmt.Errorf("%s constructor %d: %w", name, i, err)
		}
		rc.constructors = append(rc.constructors, fn)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[name] = rc
	return nil
}

// MustRegister is Register that panics on error.
func (r *TypeRegistry) MustRegister(name string, sample any, constructors ...any) {
	if err := r.Register(name, sample, constructors...); err != nil {
		panic(err)
	}
}

// Lookup returns a registered result class.
func (r *TypeRegistry) Lookup(name string) (*ResultClass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rc, ok := r.classes[name]; ok {
		return rc, nil
	}
	return nil, fmt.Errorf("%w: unknown result class %s", qerr.ErrNoUsableConstructor, name)
}

// Construct builds an instance of class from creator arguments: the first
// constructor accepting the arguments wins; a struct with as many exported
// fields as arguments is filled positionally.
func (r *TypeRegistry) Construct(class string, args []any) (any, error) {
	rc, err := r.Lookup(class)
	if err != nil {
		return nil, err
	}
	if v, ok, err := rc.construct(args); ok || err != nil {
		return v, err
	}

	if rc.typ.Kind() == reflect.Struct {
		fields := exportedFields(rc.typ)
		if len(fields) == len(args) {
			out := reflect.New(rc.typ)
			for i, sf := range fields {
				if err := convert.Assign(out.Elem().FieldByIndex(sf.Index), args[i]); err != nil {
					return nil, fmt.Errorf("%w: new %s: argument %d: %v", qerr.ErrNoUsableConstructor, class, i, err)
				}
			}
			return rc.wrap(out), nil
		}
	}
	return nil, fmt.Errorf("%w: new %s with %d arguments", qerr.ErrNoUsableConstructor, class, len(args))
}

// construct calls the first constructor that accepts args. Exact type
// matches take precedence over converting ones.
func (c *ResultClass) construct(args []any) (any, bool, error) {
	for _, strict := range []bool{true, false} {
		for _, fn := range c.constructors {
			in, ok := bindArgs(fn.Type(), args, strict)
			if !ok {
				continue
			}
			out := fn.Call(in)
			if len(out) == 2 && !out[1].IsNil() {
				return nil, true, fmt.Errorf("%s constructor: %w", c.Name, out[1].Interface().(error))
			}
			return c.adapt(out[0]), true, nil
		}
	}
	return nil, false, nil
}

func bindArgs(ft reflect.Type, args []any, strict bool) ([]reflect.Value, bool) {
	if ft.IsVariadic() || ft.NumIn() != len(args) {
		return nil, false
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := ft.In(i)
		if a == nil {
			switch pt.Kind() {
			case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
				in[i] = reflect.Zero(pt)
				continue
			}
			if strict {
				return nil, false
			}
			in[i] = reflect.Zero(pt)
			continue
		}
		if strict {
			if !reflect.TypeOf(a).AssignableTo(pt) {
				return nil, false
			}
			in[i] = reflect.ValueOf(a)
			continue
		}
		v, err := convert.Coerce(a, pt)
		if err != nil {
			return nil, false
		}
		in[i] = v
	}
	return in, true
}

// adapt converts a constructor result to the registered form.
func (c *ResultClass) adapt(v reflect.Value) any {
	if v.Kind() == reflect.Ptr && v.Type().Elem() == c.typ {
		if v.IsNil() {
			return nil
		}
		if c.pointer {
			return v.Interface()
		}
		return v.Elem().Interface()
	}
	if c.pointer {
		ptr := reflect.New(c.typ)
		ptr.Elem().Set(v)
		return ptr.Interface()
	}
	return v.Interface()
}

// wrap returns ptr, a *T, in the registered form.
func (c *ResultClass) wrap(ptr reflect.Value) any {
	if c.pointer {
		return ptr.Interface()
	}
	return ptr.Elem().Interface()
}

func checkConstructor(ctor any, typ reflect.Type) error {
	fn := reflect.ValueOf(ctor)
	if fn.Kind() != reflect.Func {
		return fmt.Errorf("%w: %T is not a function", ErrInvalidConstructor, ctor)
	}
	ft := fn.Type()
	if ft.NumOut() < 1 || ft.NumOut() > 2 {
		return fmt.Errorf("%w: %s must return the result and optionally an error", ErrInvalidConstructor, ft)
	}
	if ft.NumOut() == 2 && ft.Out(1) != errorType {
		return fmt.Errorf("%w: second result of %s must be error", ErrInvalidConstructor, ft)
	}
	out := ft.Out(0)
	if out != typ && !(out.Kind() == reflect.Ptr && out.Elem() == typ) {
		return fmt.Errorf("%w: %s does not return %s", ErrInvalidConstructor, ft, typ)
	}
	return nil
}

func exportedFields(typ reflect.Type) []reflect.StructField {
	var fields []reflect.StructField
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		if sf.IsExported() && convert.FieldName(sf) != "" {
			fields = append(fields, sf)
		}
	}
	return fields
}
