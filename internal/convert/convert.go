// Package convert holds the value coercion and comparison rules shared by
// materialization, expression evaluation and result mapping.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

var (
	// ErrIncomparable is returned when two values have no defined order.
	ErrIncomparable = errors.New("values are not comparable")
	// ErrInconvertible is returned when a value cannot be coerced to a type.
	ErrInconvertible = errors.New("value is not convertible")
)

var timeType = reflect.TypeOf(time.Time{})

// Indirect dereferences pointers until a non-pointer value is reached.
// A nil pointer yields nil.
func Indirect(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// IsNil reports whether v is nil or a nil pointer, map, slice or interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// IsNumber reports whether v holds a numeric value.
func IsNumber(v any) bool {
	_, ok := ToFloat(v)
	return ok
}

// IsInteger reports whether v holds an integer kind (not a float).
func IsInteger(v any) bool {
	switch n := Indirect(v).(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case nil:
		return false
	}
	switch reflect.ValueOf(Indirect(v)).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// ToFloat converts any numeric value to float64.
func ToFloat(v any) (float64, bool) {
	v = Indirect(v)
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// ToInt64 converts an integer value, or a float without fractional part,
// to int64.
func ToInt64(v any) (int64, bool) {
	v = Indirect(v)
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// Compare orders a and b. Numbers compare numerically across kinds, strings
// lexically, booleans false < true, times chronologically.
func Compare(a, b any) (int, error) {
	a, b = Indirect(a), Indirect(b)
	if IsInteger(a) && IsInteger(b) {
		x, okx := ToInt64(a)
		y, oky := ToInt64(b)
		if okx && oky {
			return cmpOrdered(x, y), nil
		}
	}
	if x, ok := ToFloat(a); ok {
		if y, ok := ToFloat(b); ok {
			return cmpOrdered(x, y), nil
		}
		return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.IsValid() && rb.IsValid() && ra.Kind() == reflect.String && rb.Kind() == reflect.String {
		return strings.Compare(ra.String(), rb.String()), nil
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Equal reports value equality with numeric coercion.
func Equal(a, b any) bool {
	a, b = Indirect(a), Indirect(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if IsNumber(a) && IsNumber(b) {
		c, err := Compare(a, b)
		return err == nil && c == 0
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.String && rb.Kind() == reflect.String {
		return ra.String() == rb.String()
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return reflect.DeepEqual(a, b)
}

// NormalizeJSON replaces json.Number values, recursively, with int64 when
// integral and float64 otherwise.
func NormalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = NormalizeJSON(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = NormalizeJSON(e)
		}
		return x
	}
	return v
}
