package convert

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Coerce converts value to typ. Nil yields the zero value. Numbers convert
// across kinds when no precision is lost, RFC 3339 strings parse into
// time.Time, maps fill structs and slices convert element-wise.
func Coerce(value any, typ reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(typ), nil
	}

	valueReflect := reflect.ValueOf(value)
	if valueReflect.Type().AssignableTo(typ) {
		return valueReflect, nil
	}

	// Handle pointer targets
	if typ.Kind() == reflect.Ptr {
		if valueReflect.Kind() == reflect.Ptr {
			if valueReflect.IsNil() {
				return reflect.Zero(typ), nil
			}
			return Coerce(valueReflect.Elem().Interface(), typ)
		}
		inner, err := Coerce(value, typ.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(typ.Elem())
		ptr.Elem().Set(inner)
		return ptr, nil
	}

	// Dereference pointer sources
	if valueReflect.Kind() == reflect.Ptr {
		if valueReflect.IsNil() {
			return reflect.Zero(typ), nil
		}
		return Coerce(valueReflect.Elem().Interface(), typ)
	}

	switch typ.Kind() {
	case reflect.Interface:
		if valueReflect.Type().Implements(typ) {
			out := reflect.New(typ).Elem()
			out.Set(valueReflect)
			return out, nil
		}

	case reflect.String:
		switch valueReflect.Kind() {
		case reflect.String:
			return reflect.ValueOf(valueReflect.String()).Convert(typ), nil
		case reflect.Slice:
			if b, ok := value.([]byte); ok {
				return reflect.ValueOf(string(b)).Convert(typ), nil
			}
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intVal, ok := ToInt64(value)
		if !ok {
			break
		}
		out := reflect.New(typ).Elem()
		if out.OverflowInt(intVal) {
			return reflect.Value{}, fmt.Errorf("%w: %d overflows %s", ErrInconvertible, intVal, typ)
		}
		out.SetInt(intVal)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		intVal, ok := ToInt64(value)
		if !ok || intVal < 0 {
			break
		}
		out := reflect.New(typ).Elem()
		if out.OverflowUint(uint64(intVal)) {
			return reflect.Value{}, fmt.Errorf("%w: %d overflows %s", ErrInconvertible, intVal, typ)
		}
		out.SetUint(uint64(intVal))
		return out, nil

	case reflect.Float32, reflect.Float64:
		floatVal, ok := ToFloat(value)
		if !ok {
			break
		}
		out := reflect.New(typ).Elem()
		if typ.Kind() == reflect.Float32 && math.Abs(floatVal) > math.MaxFloat32 {
			return reflect.Value{}, fmt.Errorf("%w: %v overflows %s", ErrInconvertible, floatVal, typ)
		}
		out.SetFloat(floatVal)
		return out, nil

	case reflect.Bool:
		if valueReflect.Kind() == reflect.Bool {
			return reflect.ValueOf(valueReflect.Bool()).Convert(typ), nil
		}

	case reflect.Struct:
		// Special handling for time.Time
		if typ == timeType {
			switch v := value.(type) {
			case time.Time:
				return reflect.ValueOf(v), nil
			case string:
				t, err := time.Parse(time.RFC3339, v)
				if err != nil {
					return reflect.Value{}, fmt.Errorf("%w: cannot parse time: %v", ErrInconvertible, err)
				}
				return reflect.ValueOf(t), nil
			}
			break
		}
		if m, ok := value.(map[string]any); ok {
			out := reflect.New(typ).Elem()
			if err := FillStruct(out, m); err != nil {
				return reflect.Value{}, err
			}
			return out, nil
		}

	case reflect.Slice:
		if valueReflect.Kind() != reflect.Slice && valueReflect.Kind() != reflect.Array {
			break
		}
		out := reflect.MakeSlice(typ, valueReflect.Len(), valueReflect.Len())
		for i := 0; i < valueReflect.Len(); i++ {
			elem, err := Coerce(valueReflect.Index(i).Interface(), typ.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(elem)
		}
		return out, nil

	case reflect.Map:
		if valueReflect.Kind() != reflect.Map {
			break
		}
		out := reflect.MakeMapWithSize(typ, valueReflect.Len())
		iter := valueReflect.MapRange()
		for iter.Next() {
			k, err := Coerce(iter.Key().Interface(), typ.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			v, err := Coerce(iter.Value().Interface(), typ.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key().Interface(), err)
			}
			out.SetMapIndex(k, v)
		}
		return out, nil
	}

	return reflect.Value{}, fmt.Errorf("%w: cannot convert %T to %s", ErrInconvertible, value, typ)
}

// Assign sets field to value, converting as Coerce does.
func Assign(field reflect.Value, value any) error {
	v, err := Coerce(value, field.Type())
	if err != nil {
		return err
	}
	field.Set(v)
	return nil
}

// Assignable reports whether value can be coerced to typ.
func Assignable(value any, typ reflect.Type) bool {
	_, err := Coerce(value, typ)
	return err == nil
}

// FillStruct sets the exported fields of the struct dest from m, matching
// keys through FieldName and then case-insensitively on the Go name.
func FillStruct(dest reflect.Value, m map[string]any) error {
	for key, value := range m {
		sf, ok := FindField(dest.Type(), key)
		if !ok {
			continue
		}
		field, err := dest.FieldByIndexErr(sf.Index)
		if err != nil {
			continue
		}
		if err := Assign(field, value); err != nil {
			return fmt.Errorf("failed to set field %s: %w", sf.Name, err)
		}
	}
	return nil
}

// FieldName returns the external name of a struct field: the kv tag, then
// the json tag, then the db tag, then the Go name. An empty result means the
// field is skipped.
func FieldName(field reflect.StructField) string {
	if !field.IsExported() {
		return ""
	}
	for _, key := range []string{"kv", "json", "db"} {
		tag, ok := field.Tag.Lookup(key)
		if !ok {
			continue
		}
		if tag == "-" {
			return ""
		}
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name
		}
	}
	return field.Name
}

// TagOptions returns the comma-separated options of the kv tag.
func TagOptions(field reflect.StructField) []string {
	tag, ok := field.Tag.Lookup("kv")
	if !ok {
		return nil
	}
	_, opts, found := strings.Cut(tag, ",")
	if !found || opts == "" {
		return nil
	}
	return strings.Split(opts, ",")
}

// FindField resolves name against the fields of the struct type typ. Tag
// names match exactly first; Go names and tag names then match
// case-insensitively.
func FindField(typ reflect.Type, name string) (reflect.StructField, bool) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}
	fields := reflect.VisibleFields(typ)
	for _, f := range fields {
		if f.Anonymous {
			continue
		}
		if FieldName(f) == name {
			return f, true
		}
	}
	for _, f := range fields {
		if f.Anonymous {
			continue
		}
		n := FieldName(f)
		if n == "" {
			continue
		}
		if strings.EqualFold(n, name) || strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return reflect.StructField{}, false
}
