package evaluator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/query/ast"
)

// sortScopes evaluates the ordering keys once per scope and returns the
// stable sorted permutation of scope indexes.
func sortScopes(ctx context.Context, ordering []ast.OrderExpr, scopes []*scope) ([]int, error) {
	desc := make([]bool, len(ordering))
	for i, o := range ordering {
		desc[i] = o.Descending
	}

	keys := make([][]any, len(scopes))
	for i, s := range scopes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := make([]any, len(ordering))
		for j, o := range ordering {
			v, err := s.eval(o.Expr)
			if err != nil {
				return nil, err
			}
			key[j] = output(v)
		}
		keys[i] = key
	}

	order := make([]int, len(scopes))
	for i := range order {
		order[i] = i
	}
	var sortErr error
	sort.SliceStable(order, func(a, b int) bool {
		c, err := compareKeys(keys[order[a]], keys[order[b]], desc)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return order, nil
}

// compareKeys compares two keys element by element. Nil sorts before any
// value; desc reverses individual elements.
func compareKeys(a, b []any, desc []bool) (int, error) {
	for i := range a {
		c, err := compareNullable(a[i], b[i])
		if err != nil {
			return 0, err
		}
		if i < len(desc) && desc[i] {
			c = -c
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

func compareNullable(a, b any) (int, error) {
	an, bn := convert.IsNil(a), convert.IsNil(b)
	switch {
	case an && bn:
		return 0, nil
	case an:
		return -1, nil
	case bn:
		return 1, nil
	}
	c, err := convert.Compare(a, b)
	if err != nil {
		return 0, evalErr("ordering: %v", err)
	}
	return c, nil
}

// hashKey renders v so that values equal under convert.Equal share a key.
func hashKey(v any) string {
	v = convert.Indirect(v)
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return "s:" + strconv.Quote(x)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case Tuple:
		return hashSlice(x)
	case []any:
		return hashSlice(x)
	}
	if i, ok := convert.ToInt64(v); ok && convert.IsNumber(v) {
		return "n:" + strconv.FormatInt(i, 10)
	}
	if f, ok := convert.ToFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("%T:%#v", v, v)
}

func hashSlice(items []any) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = hashKey(it)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
