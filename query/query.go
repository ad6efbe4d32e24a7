// Package query exposes the three query variants, single-string, criteria
// and template, behind one Query interface. Every variant compiles to an
// ast.CompiledQuery and runs through the same executor.
package query

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/scalaris-go/kvquery/query/ast"
	"github.com/scalaris-go/kvquery/query/builder"
	"github.com/scalaris-go/kvquery/query/compiler"
	"github.com/scalaris-go/kvquery/query/evaluator"
	"github.com/scalaris-go/kvquery/query/executor"
	"github.com/scalaris-go/kvquery/query/qerr"
)

// Query is an executable query.
type Query interface {
	// Compile returns the compiled form of the query.
	Compile(ctx context.Context) (*ast.CompiledQuery, error)
	// SetCandidates restricts evaluation to a copy of cands instead of a
	// store scan. Nil restores the scan.
	SetCandidates(cands []any)
	// Execute runs the query with named parameters.
	Execute(ctx context.Context, params map[string]any) ([]any, error)
	// ExecuteWithArray binds args by position: args[i] is ?(i+1) and the
	// i-th named parameter in declaration order.
	ExecuteWithArray(ctx context.Context, args ...any) ([]any, error)
	// ExecuteUnique runs the query and returns its single result, or nil
	// when there is none.
	ExecuteUnique(ctx context.Context, params map[string]any) (any, error)
}

type compileFunc func() (*ast.CompiledQuery, error)

// base holds what all variants share: the executor and the candidate
// collection.
type base struct {
	exec    *executor.Executor
	compile compileFunc

	mu         sync.RWMutex
	candidates []any
}

func (b *base) Compile(ctx context.Context) (*ast.CompiledQuery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.compile()
}

func (b *base) SetCandidates(cands []any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cands == nil {
		b.candidates = nil
		return
	}
	b.candidates = append(make([]any, 0, len(cands)), cands...)
}

func (b *base) explicit() []any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.candidates == nil {
		return nil
	}
	return append(make([]any, 0, len(b.candidates)), b.candidates...)
}

func (b *base) Execute(ctx context.Context, params map[string]any) ([]any, error) {
	q, err := b.Compile(ctx)
	if err != nil {
		return nil, err
	}
	return b.exec.Execute(ctx, q, evaluator.Parameters(maps.Clone(params)), b.explicit())
}

func (b *base) ExecuteWithArray(ctx context.Context, args ...any) ([]any, error) {
	q, err := b.Compile(ctx)
	if err != nil {
		return nil, err
	}
	params := make(evaluator.Parameters, 2*len(args))
	names := q.ParameterNames()
	for i, a := range args {
		params[strconv.Itoa(i+1)] = a
		if i < len(names) {
			params[names[i]] = a
		}
	}
	return b.exec.Execute(ctx, q, params, b.explicit())
}

func (b *base) ExecuteUnique(ctx context.Context, params map[string]any) (any, error) {
	rows, err := b.Execute(ctx, params)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return rows[0], nil
	}
	return nil, fmt.Errorf("%w: %d rows", qerr.ErrNotUnique, len(rows))
}

func (b *base) snapshot() (compileFunc, []any) {
	return b.compile, b.explicit()
}

// Option configures a single-string query.
type Option func(*stringQuery)

// WithCompiler compiles through c, sharing its cache.
func WithCompiler(c *compiler.Compiler) Option {
	return func(q *stringQuery) { q.compiler = c }
}

type stringQuery struct {
	base
	compiler *compiler.Compiler
	text     string

	once     sync.Once
	compiled *ast.CompiledQuery
	err      error
}

// NewString creates a query from single-string query text. The text is
// compiled once, on first use.
func NewString(exec *executor.Executor, text string, opts ...Option) Query {
	q := &stringQuery{text: text}
	for _, opt := range opts {
		opt(q)
	}
	if q.compiler == nil {
		q.compiler = compiler.New()
	}
	q.exec = exec
	q.compile = q.compileOnce
	return q
}

func (q *stringQuery) compileOnce() (*ast.CompiledQuery, error) {
	q.once.Do(func() {
		q.compiled, q.err = q.compiler.Compile(q.text)
	})
	return q.compiled, q.err
}

type criteriaQuery struct {
	base
}

// NewCriteria creates a query from a criteria builder. The builder is
// copied; changing it afterwards does not affect the query.
func NewCriteria(exec *executor.Executor, b *builder.Builder) Query {
	snapshot := b.Clone()
	return &criteriaQuery{base: base{exec: exec, compile: snapshot.Build}}
}

type templateQuery struct {
	base
}

type snapshotter interface {
	snapshot() (compileFunc, []any)
}

// NewTemplate creates a query that copies the criteria and candidates of
// src as they are now.
func NewTemplate(exec *executor.Executor, src Query) Query {
	var compile compileFunc
	var cands []any
	if s, ok := src.(snapshotter); ok {
		compile, cands = s.snapshot()
	} else {
		q, err := src.Compile(context.Background())
		compile = func() (*ast.CompiledQuery, error) { return q, err }
	}
	return &templateQuery{base: base{exec: exec, compile: compile, candidates: cands}}
}
