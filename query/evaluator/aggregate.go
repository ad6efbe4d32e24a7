package evaluator

import (
	"context"
	"sort"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/query/ast"
)

// group is one partition of the filtered candidates.
type group struct {
	key     []any
	members []any
}

// scope returns the evaluation scope of the group. Non-aggregate
// expressions see the first member as this.
func (g *group) scope(params Parameters) *scope {
	s := &scope{params: params, members: g.members, grouped: true}
	if len(g.members) > 0 {
		s.this = g.members[0]
	}
	return s
}

// keyRow is the row of a group when no result expressions are given.
func (g *group) keyRow() any {
	if len(g.key) == 1 {
		return g.key[0]
	}
	return Tuple(append([]any(nil), g.key...))
}

// partition splits objects by the values of the grouping expressions and
// returns the groups in ascending key order. Without grouping expressions
// all objects form a single group, even when there are none.
func partition(ctx context.Context, grouping []ast.Expr, objects []any, params Parameters) ([]*group, error) {
	if len(grouping) == 0 {
		return []*group{{members: objects}}, nil
	}

	index := map[string]*group{}
	var groups []*group
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := &scope{this: obj, params: params}
		key := make([]any, len(grouping))
		for i, g := range grouping {
			v, err := s.eval(g)
			if err != nil {
				return nil, err
			}
			key[i] = output(v)
		}
		h := hashKey(Tuple(key))
		grp, ok := index[h]
		if !ok {
			grp = &group{key: key}
			index[h] = grp
			groups = append(groups, grp)
		}
		grp.members = append(grp.members, obj)
	}

	var sortErr error
	sort.SliceStable(groups, func(i, j int) bool {
		c, err := compareKeys(groups[i].key, groups[j].key, nil)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return groups, nil
}

// aggregate evaluates an aggregate over the members of the current group.
// Nil inputs are ignored.
func (s *scope) aggregate(n *ast.Aggregate) (any, error) {
	var values []any
	if n.Arg == nil {
		values = s.members
	} else {
		values = make([]any, 0, len(s.members))
		for _, m := range s.members {
			inner := &scope{this: m, params: s.params, constructor: s.constructor}
			v, err := inner.eval(n.Arg)
			if err != nil {
				return nil, err
			}
			if isUnknown(v) || convert.IsNil(v) {
				continue
			}
			values = append(values, v)
		}
	}
	if n.Distinct {
		values = distinctValues(values)
	}

	switch n.Func {
	case ast.AggCount:
		return int64(len(values)), nil

	case ast.AggSum, ast.AggAvg:
		if len(values) == 0 {
			return nil, nil
		}
		allInt := true
		var isum int64
		var fsum float64
		for _, v := range values {
			f, ok := convert.ToFloat(v)
			if !ok {
				return nil, evalErr("%s over non-numeric value %T", n.Func, v)
			}
			fsum += f
			if !allInt {
				continue
			}
			i, ok := convert.ToInt64(v)
			if !ok || !convert.IsInteger(v) {
				allInt = false
				continue
			}
			next := isum + i
			if (i > 0 && next < isum) || (i < 0 && next > isum) {
				// int64 overflow, the total is reported as a float
				allInt = false
				continue
			}
			isum = next
		}
		if n.Func == ast.AggAvg {
			return fsum / float64(len(values)), nil
		}
		if allInt {
			return isum, nil
		}
		return fsum, nil

	case ast.AggMin, ast.AggMax:
		if len(values) == 0 {
			return nil, nil
		}
		best := values[0]
		for _, v := range values[1:] {
			c, err := convert.Compare(v, best)
			if err != nil {
				return nil, evalErr("%s: %v", n.Func, err)
			}
			if (n.Func == ast.AggMin && c < 0) || (n.Func == ast.AggMax && c > 0) {
				best = v
			}
		}
		return best, nil
	}
	return nil, evalErr("unknown aggregate %s", n.Func)
}

func distinctValues(values []any) []any {
	seen := make(map[string]bool, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		k := hashKey(v)
		if !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}
