// Package compiler compiles single-string queries into ast.CompiledQuery.
// Compiled queries are cached by text; execution never sees query text.
package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"

	"github.com/scalaris-go/kvquery/internal/debug"
	"github.com/scalaris-go/kvquery/query/ast"
	"github.com/scalaris-go/kvquery/query/cache"
)

// DefaultCacheSize is the number of compiled queries a Compiler keeps.
const DefaultCacheSize = 128

var functions = map[string]bool{"abs": true, "sqrt": true, "size": true}

// Option configures a Compiler.
type Option func(*Compiler)

// WithCacheSize sets how many compiled queries are kept. Zero disables the
// cache.
func WithCacheSize(n int) Option {
	return func(c *Compiler) { c.cacheSize = n }
}

// WithDefaultCandidate sets the candidate class of queries without FROM.
func WithDefaultCandidate(class string) Option {
	return func(c *Compiler) { c.candidate = class }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Compiler) { c.log = log }
}

// Compiler compiles query text. It is safe for concurrent use.
type Compiler struct {
	cacheSize int
	cache     *cache.LRUCache
	candidate string
	log       *slog.Logger
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheSize > 0 {
		c.cache = cache.NewLRUCache(c.cacheSize, 0)
	}
	if c.log == nil {
		c.log = debug.Component("compiler")
	}
	return c
}

// Compile returns the compiled form of text, from the cache when the same
// text was compiled before.
func (c *Compiler) Compile(text string) (*ast.CompiledQuery, error) {
	key := c.candidate + "\x00" + text
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v.(*ast.CompiledQuery), nil
		}
	}

	q, err := compile(text, c.candidate)
	if err != nil {
		c.log.Debug("compile failed", "query", text, "error", err)
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(key, q)
	}
	c.log.Debug("compiled query", "query", q.String())
	return q, nil
}

// CacheStats returns the statistics of the compiled-query cache.
func (c *Compiler) CacheStats() cache.Stats {
	if c.cache == nil {
		return cache.Stats{}
	}
	return c.cache.GetStats()
}

// Compile compiles text without caching.
func Compile(text string) (*ast.CompiledQuery, error) {
	return compile(text, "")
}

func compile(text, defaultCandidate string) (*ast.CompiledQuery, error) {
	raw, err := parser.ParseString("", text)
	if err != nil {
		return nil, syntaxError(err)
	}

	q := &ast.CompiledQuery{
		Candidate:   raw.From,
		ResultClass: raw.Into,
		Unique:      raw.Unique,
		Distinct:    raw.Distinct,
	}
	if q.Candidate == "" {
		q.Candidate = defaultCandidate
	}
	if q.Candidate == "" {
		return nil, invalid("no candidate class")
	}

	conv := &converter{declared: map[string]bool{}}
	for _, p := range raw.Parameters {
		if conv.declared[p.Name] {
			return nil, invalid("parameter %s declared twice", p.Name)
		}
		conv.declared[p.Name] = true
		q.Parameters = append(q.Parameters, ast.ParameterDecl{Type: p.Type, Name: p.Name})
	}

	aliases := map[string]bool{}
	for _, r := range raw.Result {
		e, err := conv.expr(r.Expr)
		if err != nil {
			return nil, err
		}
		if r.Alias != "" {
			if aliases[strings.ToLower(r.Alias)] {
				return nil, invalid("alias %s used twice", r.Alias)
			}
			aliases[strings.ToLower(r.Alias)] = true
		}
		q.Result = append(q.Result, ast.ResultExpr{Expr: e, Alias: r.Alias})
	}

	if raw.Where != nil {
		if q.Filter, err = conv.expr(raw.Where); err != nil {
			return nil, err
		}
		if ast.ContainsAggregate(q.Filter) {
			return nil, invalid("aggregate in WHERE clause")
		}
	}

	if raw.Group != nil {
		for _, k := range raw.Group.Keys {
			e, err := conv.expr(k)
			if err != nil {
				return nil, err
			}
			if ast.ContainsAggregate(e) {
				return nil, invalid("aggregate in GROUP BY clause")
			}
			q.Grouping = append(q.Grouping, e)
		}
		if raw.Group.Having != nil {
			if q.Having, err = conv.expr(raw.Group.Having); err != nil {
				return nil, err
			}
		}
	}

	for _, o := range raw.Order {
		e, err := conv.expr(o.Expr)
		if err != nil {
			return nil, err
		}
		dir := strings.ToLower(o.Direction)
		q.Ordering = append(q.Ordering, ast.OrderExpr{
			Expr:       e,
			Descending: dir == "desc" || dir == "descending",
		})
	}

	if raw.Range != nil {
		from, err := conv.expr(raw.Range.From)
		if err != nil {
			return nil, err
		}
		to, err := conv.expr(raw.Range.To)
		if err != nil {
			return nil, err
		}
		q.Range = &ast.Range{From: from, To: to}
	}

	return q, nil
}

func syntaxError(err error) error {
	var perr participle.Error
	if errors.As(err, &perr) {
		return &SyntaxError{Pos: perr.Position(), Msg: perr.Message()}
	}
	return fmt.Errorf("%w: %v", ErrSyntax, err)
}

// converter turns the parse tree into expression nodes.
type converter struct {
	declared map[string]bool
}

func (c *converter) expr(r *rawExpr) (ast.Expr, error) {
	left, err := c.and(r.Left)
	if err != nil {
		return nil, err
	}
	for _, next := range r.Rest {
		right, err := c.and(next)
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (c *converter) and(r *rawAnd) (ast.Expr, error) {
	left, err := c.comparison(r.Left)
	if err != nil {
		return nil, err
	}
	for _, next := range r.Rest {
		right, err := c.comparison(next)
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (c *converter) comparison(r *rawComparison) (ast.Expr, error) {
	left, err := c.additive(r.Left)
	if err != nil {
		return nil, err
	}
	for _, op := range r.Rest {
		right, err := c.additive(op.Right)
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.BinaryOp(op.Op), Left: left, Right: right}
	}
	return left, nil
}

func (c *converter) additive(r *rawAdditive) (ast.Expr, error) {
	left, err := c.multiplicative(r.Left)
	if err != nil {
		return nil, err
	}
	for _, op := range r.Rest {
		right, err := c.multiplicative(op.Right)
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.BinaryOp(op.Op), Left: left, Right: right}
	}
	return left, nil
}

func (c *converter) multiplicative(r *rawMultiplicative) (ast.Expr, error) {
	left, err := c.unary(r.Left)
	if err != nil {
		return nil, err
	}
	for _, op := range r.Rest {
		right, err := c.unary(op.Right)
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: ast.BinaryOp(op.Op), Left: left, Right: right}
	}
	return left, nil
}

func (c *converter) unary(r *rawUnary) (ast.Expr, error) {
	if r.Postfix != nil {
		return c.postfix(r.Postfix)
	}
	operand, err := c.unary(r.Operand)
	if err != nil {
		return nil, err
	}
	if r.Op == "-" {
		// Fold negative number literals.
		if lit, ok := operand.(*ast.Literal); ok {
			switch v := lit.Value.(type) {
			case int64:
				return &ast.Literal{Value: -v}, nil
			case float64:
				return &ast.Literal{Value: -v}, nil
			}
		}
	}
	return &ast.Unary{Op: ast.UnaryOp(r.Op), Operand: operand}, nil
}

func (c *converter) postfix(r *rawPostfix) (ast.Expr, error) {
	cur, err := c.primary(r.Primary)
	if err != nil {
		return nil, err
	}
	for _, sel := range r.Chain {
		if sel.Call != nil {
			args, err := c.exprs(sel.Call.Args)
			if err != nil {
				return nil, err
			}
			cur = &ast.Invoke{Target: cur, Method: sel.Name, Args: args}
			continue
		}
		if _, ok := cur.(*ast.This); ok {
			cur = nil
		}
		cur = &ast.Field{Target: cur, Name: sel.Name}
	}
	return cur, nil
}

func (c *converter) exprs(raws []*rawExpr) ([]ast.Expr, error) {
	out := make([]ast.Expr, 0, len(raws))
	for _, r := range raws {
		e, err := c.expr(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *converter) primary(r *rawPrimary) (ast.Expr, error) {
	switch {
	case r.Float != nil:
		return &ast.Literal{Value: *r.Float}, nil
	case r.Int != nil:
		return &ast.Literal{Value: *r.Int}, nil
	case r.String != nil:
		s, err := unquote(*r.String)
		if err != nil {
			return nil, fmt.Errorf("%w: string literal %s: %v", ErrSyntax, *r.String, err)
		}
		return &ast.Literal{Value: s}, nil
	case r.True:
		return &ast.Literal{Value: true}, nil
	case r.False:
		return &ast.Literal{Value: false}, nil
	case r.Null:
		return &ast.Literal{Value: nil}, nil
	case r.This:
		return &ast.This{}, nil
	case r.Param != nil:
		p := *r.Param
		if strings.HasPrefix(p, "?") {
			return &ast.Parameter{Name: p[1:], Positional: true}, nil
		}
		return &ast.Parameter{Name: p[1:]}, nil
	case r.Creator != nil:
		args, err := c.exprs(r.Creator.Args)
		if err != nil {
			return nil, err
		}
		return &ast.Creator{Class: r.Creator.Class, Args: args}, nil
	case r.Aggregate != nil:
		return c.aggregate(r.Aggregate)
	case r.Function != nil:
		name := r.Function.Name
		if !functions[name] {
			return nil, invalid("unknown function %s", name)
		}
		args, err := c.exprs(r.Function.Args)
		if err != nil {
			return nil, err
		}
		return &ast.Invoke{Method: name, Args: args}, nil
	case r.Ident != nil:
		if c.declared[*r.Ident] {
			return &ast.Parameter{Name: *r.Ident}, nil
		}
		return &ast.Field{Name: *r.Ident}, nil
	case r.Sub != nil:
		return c.expr(r.Sub)
	}
	return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
}

func (c *converter) aggregate(r *rawAggregate) (ast.Expr, error) {
	fn := ast.AggregateFunc(strings.ToLower(r.Func))
	agg := &ast.Aggregate{Func: fn, Distinct: r.Distinct}
	if r.Arg != nil {
		arg, err := c.expr(r.Arg)
		if err != nil {
			return nil, err
		}
		if ast.ContainsAggregate(arg) {
			return nil, invalid("nested aggregate in %s", fn)
		}
		agg.Arg = arg
	}
	if _, ok := agg.Arg.(*ast.This); ok && fn == ast.AggCount {
		agg.Arg = nil
	}
	if agg.Arg == nil && fn != ast.AggCount {
		return nil, invalid("%s needs an argument", fn)
	}
	return agg, nil
}

// unquote decodes a double- or single-quoted string literal.
func unquote(s string) (string, error) {
	if !strings.HasPrefix(s, "'") {
		return strconv.Unquote(s)
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch == '\\' && i+1 < len(body) && body[i+1] == '\'':
			b.WriteByte('\'')
			i++
		case ch == '\\' && i+1 < len(body):
			b.WriteByte(ch)
			b.WriteByte(body[i+1])
			i++
		case ch == '"':
			b.WriteString(`\"`)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteByte('"')
	return strconv.Unquote(b.String())
}
