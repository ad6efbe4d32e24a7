// Package mapper converts evaluator rows into instances of a named result
// class, through a matching constructor or by setting fields by alias.
package mapper

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/internal/debug"
	"github.com/scalaris-go/kvquery/query/ast"
	"github.com/scalaris-go/kvquery/query/evaluator"
	"github.com/scalaris-go/kvquery/query/qerr"
)

// ResultClassMapper maps rows into one result class.
type ResultClassMapper struct {
	class *ResultClass
	log   *slog.Logger
}

// NewResultClassMapper creates a mapper for the named result class.
func NewResultClassMapper(types *TypeRegistry, class string) (*ResultClassMapper, error) {
	rc, err := types.Lookup(class)
	if err != nil {
		return nil, err
	}
	return &ResultClassMapper{class: rc, log: debug.Component("mapper")}, nil
}

// Map converts every row. Scalar rows are treated as one-column tuples. When
// exprs is empty the rows are candidate objects and their fields are copied
// by name.
func (m *ResultClassMapper) Map(rows evaluator.ResultSet, exprs []ast.ResultExpr) ([]any, error) {
	out := make([]any, 0, len(rows))
	for i, row := range rows {
		var v any
		var err error
		if len(exprs) == 0 {
			v, err = m.mapObject(row)
		} else {
			v, err = m.mapRow(columns(row, len(exprs)), exprs)
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, v)
	}
	m.log.Debug("mapped rows", "class", m.class.Name, "rows", len(out))
	return out, nil
}

func columns(row any, n int) []any {
	if t, ok := row.(evaluator.Tuple); ok && n != 1 {
		return t
	}
	return []any{row}
}

func (m *ResultClassMapper) mapRow(values []any, exprs []ast.ResultExpr) (any, error) {
	rc := m.class
	if v, ok, err := rc.construct(values); ok || err != nil {
		return v, err
	}

	switch rc.typ.Kind() {
	case reflect.Struct:
		out := reflect.New(rc.typ)
		for i, val := range values {
			if err := setByAlias(out.Elem(), exprs[i], val); err != nil {
				return nil, err
			}
		}
		return rc.wrap(out), nil

	case reflect.Map:
		if rc.typ.Key().Kind() != reflect.String {
			break
		}
		out := reflect.MakeMapWithSize(rc.typ, len(values))
		for i, val := range values {
			alias := exprs[i].ColumnAlias()
			if alias == "" {
				return nil, fmt.Errorf("%w: column %d (%s) has no alias", qerr.ErrUnmappableAlias, i, exprs[i].Expr)
			}
			v, err := convert.Coerce(val, rc.typ.Elem())
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", qerr.ErrUnmappableAlias, alias, err)
			}
			out.SetMapIndex(reflect.ValueOf(alias).Convert(rc.typ.Key()), v)
		}
		return m.mapValue(out), nil

	default:
		if len(values) == 1 {
			if v, err := convert.Coerce(values[0], rc.typ); err == nil {
				return m.mapValue(v), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s from %d columns", qerr.ErrNoUsableConstructor, rc.Name, len(values))
}

func (m *ResultClassMapper) mapValue(v reflect.Value) any {
	if m.class.pointer {
		ptr := reflect.New(m.class.typ)
		ptr.Elem().Set(v)
		return ptr.Interface()
	}
	return v.Interface()
}

func setByAlias(dest reflect.Value, expr ast.ResultExpr, val any) error {
	alias := expr.ColumnAlias()
	if alias == "" {
		return fmt.Errorf("%w: %s has no alias", qerr.ErrUnmappableAlias, expr.Expr)
	}
	sf, ok := convert.FindField(dest.Type(), alias)
	if !ok {
		return fmt.Errorf("%w: %s has no field for %s", qerr.ErrUnmappableAlias, dest.Type(), alias)
	}
	field, err := dest.FieldByIndexErr(sf.Index)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", qerr.ErrUnmappableAlias, alias, err)
	}
	if err := convert.Assign(field, val); err != nil {
		return fmt.Errorf("%w: %s: %v", qerr.ErrUnmappableAlias, alias, err)
	}
	return nil
}

// mapObject copies the fields of a candidate object into the result class.
func (m *ResultClassMapper) mapObject(obj any) (any, error) {
	fields, err := objectFields(obj)
	if err != nil {
		return nil, err
	}
	if m.class.typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s cannot hold %T", qerr.ErrNoUsableConstructor, m.class.Name, obj)
	}
	out := reflect.New(m.class.typ)
	if err := convert.FillStruct(out.Elem(), fields); err != nil {
		return nil, fmt.Errorf("%w: %v", qerr.ErrUnmappableAlias, err)
	}
	return m.class.wrap(out), nil
}

func objectFields(obj any) (map[string]any, error) {
	v := reflect.ValueOf(convert.Indirect(obj))
	switch v.Kind() {
	case reflect.Map:
		if m, ok := v.Interface().(map[string]any); ok {
			return m, nil
		}
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			sf := v.Type().Field(i)
			name := convert.FieldName(sf)
			if name == "" {
				continue
			}
			out[name] = v.Field(i).Interface()
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: cannot read fields of %T", qerr.ErrUnmappableAlias, obj)
}
