// Package evaluator runs a compiled query over in-memory candidates:
// filtering, ordering, grouping, range restriction and result shaping.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scalaris-go/kvquery/internal/debug"
	"github.com/scalaris-go/kvquery/query/ast"
	"github.com/scalaris-go/kvquery/query/candidates"
	"github.com/scalaris-go/kvquery/query/qerr"
)

// Phase selects pipeline stages.
type Phase uint8

const (
	PhaseFilter Phase = 1 << iota
	PhaseOrder
	PhaseGroup
	PhaseRange
	PhaseResult

	AllPhases = PhaseFilter | PhaseOrder | PhaseGroup | PhaseRange | PhaseResult
)

// Has reports whether p includes phase.
func (p Phase) Has(phase Phase) bool { return p&phase != 0 }

// Parameters binds parameter names to values for one execution.
// Positional parameters use the keys "1", "2", ...
type Parameters map[string]any

// ResultSet is the ordered output of an evaluation. Rows are candidate
// objects, scalars, or Tuples.
type ResultSet []any

// Tuple is a row of several result expressions.
type Tuple []any

// Group is the row produced for a group when result shaping is skipped: the
// group's candidate objects.
type Group []any

// Constructor builds result objects for creator expressions.
type Constructor interface {
	Construct(class string, args []any) (any, error)
}

// Evaluator evaluates a compiled query over candidates.
type Evaluator interface {
	Evaluate(ctx context.Context, q *ast.CompiledQuery, cands []candidates.Candidate, params Parameters, phases Phase) (ResultSet, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithConstructor sets the constructor used by creator expressions.
func WithConstructor(c Constructor) Option {
	return func(e *Engine) { e.constructor = c }
}

// WithParallelism filters with up to n goroutines. Values below 2 filter
// sequentially.
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine is the default Evaluator. It holds no per-execution state and is
// safe for concurrent use.
type Engine struct {
	constructor Constructor
	parallelism int
	log         *slog.Logger
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{parallelism: 1}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = debug.Component("evaluator")
	}
	return e
}

// Evaluate runs the selected phases in the fixed order filter, order, group,
// range, shape. The query and candidates are not modified.
func (e *Engine) Evaluate(ctx context.Context, q *ast.CompiledQuery, cands []candidates.Candidate, params Parameters, phases Phase) (ResultSet, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", qerr.ErrEvaluation)
	}
	if err := checkParameters(q, params); err != nil {
		return nil, err
	}

	objects := candidates.Objects(cands)

	if phases.Has(PhaseFilter) && q.Filter != nil {
		var err error
		objects, err = e.filter(ctx, q.Filter, objects, params)
		if err != nil {
			return nil, err
		}
	}

	var rows ResultSet
	var err error
	if phases.Has(PhaseGroup) && q.Grouped() {
		rows, err = e.evaluateGroups(ctx, q, objects, params, phases)
	} else {
		rows, err = e.evaluateFlat(ctx, q, objects, params, phases)
	}
	if err != nil {
		return nil, err
	}

	if phases.Has(PhaseResult) && q.Distinct {
		rows = distinct(rows)
	}

	e.log.Debug("evaluated query",
		"candidate", q.Candidate,
		"candidates", len(cands),
		"rows", len(rows))
	return rows, nil
}

// checkParameters verifies, before any candidate is touched, that every
// referenced parameter is bound.
func checkParameters(q *ast.CompiledQuery, params Parameters) error {
	var missing []string
	for _, p := range q.ReferencedParameters() {
		if _, ok := params[p.Name]; !ok {
			missing = append(missing, p.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", qerr.ErrUnboundParameter, missing)
	}
	return nil
}

func (e *Engine) evaluateFlat(ctx context.Context, q *ast.CompiledQuery, objects []any, params Parameters, phases Phase) (ResultSet, error) {
	if phases.Has(PhaseOrder) && len(q.Ordering) > 0 {
		scopes := make([]*scope, len(objects))
		for i, obj := range objects {
			scopes[i] = &scope{this: obj, params: params}
		}
		order, err := sortScopes(ctx, q.Ordering, scopes)
		if err != nil {
			return nil, err
		}
		sorted := make([]any, len(objects))
		for i, idx := range order {
			sorted[i] = objects[idx]
		}
		objects = sorted
	}

	if phases.Has(PhaseRange) && q.Range != nil {
		from, to, err := evalRange(q.Range, params)
		if err != nil {
			return nil, err
		}
		objects = window(objects, from, to)
	}

	if !phases.Has(PhaseResult) || len(q.Result) == 0 {
		return ResultSet(objects), nil
	}

	rows := make(ResultSet, 0, len(objects))
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := e.shape(q.Result, &scope{this: obj, params: params})
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Engine) evaluateGroups(ctx context.Context, q *ast.CompiledQuery, objects []any, params Parameters, phases Phase) (ResultSet, error) {
	groups, err := partition(ctx, q.Grouping, objects, params)
	if err != nil {
		return nil, err
	}

	if q.Having != nil {
		kept := groups[:0:0]
		for _, g := range groups {
			t, err := truthOf(g.scope(params), q.Having)
			if err != nil {
				return nil, err
			}
			if t == truthTrue {
				kept = append(kept, g)
			}
		}
		groups = kept
	}

	if phases.Has(PhaseOrder) && len(q.Ordering) > 0 {
		scopes := make([]*scope, len(groups))
		for i, g := range groups {
			scopes[i] = g.scope(params)
		}
		order, err := sortScopes(ctx, q.Ordering, scopes)
		if err != nil {
			return nil, err
		}
		sorted := make([]*group, len(groups))
		for i, idx := range order {
			sorted[i] = groups[idx]
		}
		groups = sorted
	}

	if phases.Has(PhaseRange) && q.Range != nil {
		from, to, err := evalRange(q.Range, params)
		if err != nil {
			return nil, err
		}
		groups = window(groups, from, to)
	}

	rows := make(ResultSet, 0, len(groups))
	for _, g := range groups {
		if !phases.Has(PhaseResult) {
			rows = append(rows, Group(g.members))
			continue
		}
		if len(q.Result) == 0 {
			rows = append(rows, g.keyRow())
			continue
		}
		row, err := e.shape(q.Result, g.scope(params))
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// shape evaluates the result expressions for one candidate or group.
func (e *Engine) shape(result []ast.ResultExpr, s *scope) (any, error) {
	s.constructor = e.constructor
	if len(result) == 1 {
		v, err := s.eval(result[0].Expr)
		if err != nil {
			return nil, err
		}
		return output(v), nil
	}
	row := make(Tuple, len(result))
	for i, r := range result {
		v, err := s.eval(r.Expr)
		if err != nil {
			return nil, err
		}
		row[i] = output(v)
	}
	return row, nil
}

func evalRange(r *ast.Range, params Parameters) (int, int, error) {
	s := &scope{params: params}
	bound := func(name string, expr ast.Expr) (int, error) {
		v, err := s.eval(expr)
		if err != nil {
			return 0, err
		}
		n, ok := toIndex(v)
		if !ok || n < 0 {
			return 0, fmt.Errorf("%w: range %s must be a non-negative integer, got %v", qerr.ErrEvaluation, name, output(v))
		}
		return n, nil
	}
	from, err := bound("from", r.From)
	if err != nil {
		return 0, 0, err
	}
	to, err := bound("to", r.To)
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

// window returns items[from:to] clamped to the slice bounds.
func window[T any](items []T, from, to int) []T {
	if from > len(items) {
		from = len(items)
	}
	if to > len(items) {
		to = len(items)
	}
	if to < from {
		to = from
	}
	return items[from:to]
}

func distinct(rows ResultSet) ResultSet {
	seen := make(map[string]bool, len(rows))
	out := make(ResultSet, 0, len(rows))
	for _, r := range rows {
		k := hashKey(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
