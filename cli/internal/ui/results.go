package ui

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/query/evaluator"
)

// Tabulate lays results out as table rows. Tuples become one column per
// element, maps one column per key and structs one column per exported
// field; anything else is a single "value" column. The column set is taken
// from the first result.
func Tabulate(results []any) ([]string, [][]string) {
	if len(results) == 0 {
		return nil, nil
	}

	headers := columnsOf(results[0])
	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = cells(r, headers)
	}
	return headers, rows
}

func columnsOf(r any) []string {
	switch x := convert.Indirect(r).(type) {
	case evaluator.Tuple:
		cols := make([]string, len(x))
		for i := range x {
			cols[i] = fmt.Sprintf("#%d", i+1)
		}
		return cols
	case map[string]any:
		cols := make([]string, 0, len(x))
		for k := range x {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		return cols
	}

	rv := reflect.ValueOf(convert.Indirect(r))
	if rv.Kind() == reflect.Struct {
		var cols []string
		for _, f := range reflect.VisibleFields(rv.Type()) {
			if f.IsExported() && !f.Anonymous {
				cols = append(cols, f.Name)
			}
		}
		if len(cols) > 0 {
			return cols
		}
	}
	return []string{"value"}
}

func cells(r any, headers []string) []string {
	out := make([]string, len(headers))
	switch x := convert.Indirect(r).(type) {
	case evaluator.Tuple:
		for i := range out {
			if i < len(x) {
				out[i] = FormatValue(x[i])
			}
		}
		return out
	case map[string]any:
		for i, h := range headers {
			out[i] = FormatValue(x[h])
		}
		return out
	}

	rv := reflect.ValueOf(convert.Indirect(r))
	if rv.Kind() == reflect.Struct && !(len(headers) == 1 && headers[0] == "value") {
		for i, h := range headers {
			if f := rv.FieldByName(h); f.IsValid() {
				out[i] = FormatValue(f.Interface())
			}
		}
		return out
	}
	if len(out) == 0 {
		return []string{FormatValue(r)}
	}
	out[0] = FormatValue(r)
	return out
}

// FormatValue renders a single value for display.
func FormatValue(v any) string {
	if convert.IsNil(v) {
		return nullColor.Sprint("null")
	}
	v = convert.Indirect(v)
	switch x := v.(type) {
	case string:
		return x
	case evaluator.Tuple:
		return formatList(x)
	case []any:
		return formatList(x)
	}
	return fmt.Sprint(v)
}

func formatList(items []any) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = FormatValue(it)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
