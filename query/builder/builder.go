package builder

import (
	"fmt"

	"github.com/scalaris-go/kvquery/query/ast"
	"github.com/scalaris-go/kvquery/query/compiler"
)

// Builder accumulates the clauses of one query. Build returns an
// independent CompiledQuery; later changes to the builder do not affect
// queries already built.
type Builder struct {
	q    ast.CompiledQuery
	errs []error
}

// From starts a query over the candidate class.
func From(class string) *Builder {
	return &Builder{q: ast.CompiledQuery{Candidate: class}}
}

// Select sets the result expressions. Arguments are Terms, Columns or
// field paths.
func (b *Builder) Select(cols ...any) *Builder {
	b.q.Result = nil
	for _, c := range cols {
		switch v := c.(type) {
		case Column:
			b.q.Result = append(b.q.Result, ast.ResultExpr{Expr: v.Term.expr, Alias: v.Alias})
		case Term:
			b.q.Result = append(b.q.Result, ast.ResultExpr{Expr: v.expr})
		case string:
			b.q.Result = append(b.q.Result, ast.ResultExpr{Expr: Field(v).expr})
		default:
			b.errs = append(b.errs, fmt.Errorf("select: unsupported column %T", c))
		}
	}
	return b
}

// Unique expects at most one result.
func (b *Builder) Unique() *Builder {
	b.q.Unique = true
	return b
}

// Distinct removes duplicate result rows.
func (b *Builder) Distinct() *Builder {
	b.q.Distinct = true
	return b
}

// Into maps results into the named result class.
func (b *Builder) Into(class string) *Builder {
	b.q.ResultClass = class
	return b
}

// Where adds a filter condition. Several conditions are combined with &&.
func (b *Builder) Where(cond Term) *Builder {
	if b.q.Filter == nil {
		b.q.Filter = cond.expr
	} else {
		b.q.Filter = &ast.Binary{Op: ast.OpAnd, Left: b.q.Filter, Right: cond.expr}
	}
	return b
}

// Declare declares a parameter.
func (b *Builder) Declare(typ, name string) *Builder {
	b.q.Parameters = append(b.q.Parameters, ast.ParameterDecl{Type: typ, Name: name})
	return b
}

// GroupBy sets the grouping keys. Arguments are Terms or field paths.
func (b *Builder) GroupBy(keys ...any) *Builder {
	b.q.Grouping = nil
	for _, k := range keys {
		if s, ok := k.(string); ok {
			k = Field(s)
		}
		b.q.Grouping = append(b.q.Grouping, term(k).expr)
	}
	return b
}

// Having filters groups.
func (b *Builder) Having(cond Term) *Builder {
	b.q.Having = cond.expr
	return b
}

// OrderBy appends ordering keys. Arguments are Orders, Terms (ascending) or
// field paths (ascending).
func (b *Builder) OrderBy(keys ...any) *Builder {
	for _, k := range keys {
		switch v := k.(type) {
		case Order:
			b.q.Ordering = append(b.q.Ordering, ast.OrderExpr{Expr: v.Term.expr, Descending: v.Descending})
		case Term:
			b.q.Ordering = append(b.q.Ordering, ast.OrderExpr{Expr: v.expr})
		case string:
			b.q.Ordering = append(b.q.Ordering, ast.OrderExpr{Expr: Field(v).expr})
		default:
			b.errs = append(b.errs, fmt.Errorf("order by: unsupported key %T", k))
		}
	}
	return b
}

// Range restricts results to [from, to). Bounds are numbers or Terms.
func (b *Builder) Range(from, to any) *Builder {
	b.q.Range = &ast.Range{From: term(from).expr, To: term(to).expr}
	return b
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	return &Builder{q: *copyQuery(&b.q), errs: append([]error(nil), b.errs...)}
}

// Build validates the clauses and returns the compiled query.
func (b *Builder) Build() (*ast.CompiledQuery, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", compiler.ErrInvalidQuery, b.errs[0])
	}
	if b.q.Candidate == "" {
		return nil, fmt.Errorf("%w: no candidate class", compiler.ErrInvalidQuery)
	}

	seen := map[string]bool{}
	for _, p := range b.q.Parameters {
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: parameter %s declared twice", compiler.ErrInvalidQuery, p.Name)
		}
		seen[p.Name] = true
	}
	if b.q.Filter != nil && ast.ContainsAggregate(b.q.Filter) {
		return nil, fmt.Errorf("%w: aggregate in WHERE clause", compiler.ErrInvalidQuery)
	}
	for _, g := range b.q.Grouping {
		if ast.ContainsAggregate(g) {
			return nil, fmt.Errorf("%w: aggregate in GROUP BY clause", compiler.ErrInvalidQuery)
		}
	}
	if b.q.Having != nil && len(b.q.Grouping) == 0 && !ast.ContainsAggregate(b.q.Having) {
		return nil, fmt.Errorf("%w: HAVING without GROUP BY", compiler.ErrInvalidQuery)
	}
	return copyQuery(&b.q), nil
}

// MustBuild is Build that panics on error.
func (b *Builder) MustBuild() *ast.CompiledQuery {
	q, err := b.Build()
	if err != nil {
		panic(err)
	}
	return q
}

// copyQuery copies the clause slices of q. Expression nodes are immutable
// and shared.
func copyQuery(q *ast.CompiledQuery) *ast.CompiledQuery {
	out := *q
	out.Result = append([]ast.ResultExpr(nil), q.Result...)
	out.Grouping = append([]ast.Expr(nil), q.Grouping...)
	out.Ordering = append([]ast.OrderExpr(nil), q.Ordering...)
	out.Parameters = append([]ast.ParameterDecl(nil), q.Parameters...)
	if q.Range != nil {
		r := *q.Range
		out.Range = &r
	}
	return &out
}
