// Package builder constructs compiled queries through a fluent API, as an
// alternative to single-string query text.
package builder

import (
	"strconv"
	"strings"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/query/ast"
)

// Term wraps an expression node.
type Term struct {
	expr ast.Expr
}

// Expr returns the expression node of t.
func (t Term) Expr() ast.Expr { return t.expr }

func (t Term) String() string {
	if t.expr == nil {
		return ""
	}
	return t.expr.String()
}

// Field navigates from this along a dotted path such as "home.city".
func Field(path string) Term {
	var e ast.Expr
	for _, name := range strings.Split(path, ".") {
		if name == "this" && e == nil {
			continue
		}
		e = &ast.Field{Target: e, Name: name}
	}
	if e == nil {
		return This()
	}
	return Term{e}
}

// This refers to the candidate object.
func This() Term { return Term{&ast.This{}} }

// Value is a literal. Integers become int64 and floats float64.
func Value(v any) Term {
	switch {
	case v == nil:
	case convert.IsInteger(v):
		if i, ok := convert.ToInt64(v); ok {
			v = i
		}
	case convert.IsNumber(v):
		if f, ok := convert.ToFloat(v); ok {
			v = f
		}
	}
	return Term{&ast.Literal{Value: v}}
}

// Null is the null literal.
func Null() Term { return Term{&ast.Literal{}} }

// Param refers to a named parameter.
func Param(name string) Term { return Term{&ast.Parameter{Name: name}} }

// Positional refers to the i-th positional parameter, starting at 1.
func Positional(i int) Term {
	return Term{&ast.Parameter{Name: strconv.Itoa(i), Positional: true}}
}

// New constructs an instance of class from args.
func New(class string, args ...any) Term {
	return Term{&ast.Creator{Class: class, Args: terms(args)}}
}

// Count counts the candidates of a group, or the non-null values of arg.
func Count(arg ...Term) Term { return aggregate(ast.AggCount, false, arg) }

// CountDistinct counts the distinct non-null values of arg.
func CountDistinct(arg Term) Term { return aggregate(ast.AggCount, true, []Term{arg}) }

func Sum(arg Term) Term { return aggregate(ast.AggSum, false, []Term{arg}) }
func Avg(arg Term) Term { return aggregate(ast.AggAvg, false, []Term{arg}) }
func Min(arg Term) Term { return aggregate(ast.AggMin, false, []Term{arg}) }
func Max(arg Term) Term { return aggregate(ast.AggMax, false, []Term{arg}) }

func aggregate(fn ast.AggregateFunc, distinct bool, arg []Term) Term {
	agg := &ast.Aggregate{Func: fn, Distinct: distinct}
	if len(arg) > 0 {
		if _, ok := arg[0].expr.(*ast.This); !ok || fn != ast.AggCount {
			agg.Arg = arg[0].expr
		}
	}
	return Term{agg}
}

// Abs, Sqrt and Size are the top-level functions.
func Abs(arg any) Term  { return Term{&ast.Invoke{Method: "abs", Args: terms([]any{arg})}} }
func Sqrt(arg any) Term { return Term{&ast.Invoke{Method: "sqrt", Args: terms([]any{arg})}} }
func Size(arg any) Term { return Term{&ast.Invoke{Method: "size", Args: terms([]any{arg})}} }

// And combines conditions with &&. With no conditions it returns the
// literal true.
func And(conds ...Term) Term { return fold(ast.OpAnd, conds, true) }

// Or combines conditions with ||. With no conditions it returns the
// literal false.
func Or(conds ...Term) Term { return fold(ast.OpOr, conds, false) }

// Not negates cond.
func Not(cond Term) Term { return Term{&ast.Unary{Op: ast.OpNot, Operand: cond.expr}} }

func fold(op ast.BinaryOp, conds []Term, empty bool) Term {
	if len(conds) == 0 {
		return Value(empty)
	}
	e := conds[0].expr
	for _, c := range conds[1:] {
		e = &ast.Binary{Op: op, Left: e, Right: c.expr}
	}
	return Term{e}
}

func (t Term) binary(op ast.BinaryOp, other any) Term {
	return Term{&ast.Binary{Op: op, Left: t.expr, Right: term(other).expr}}
}

func (t Term) Eq(v any) Term  { return t.binary(ast.OpEq, v) }
func (t Term) Ne(v any) Term  { return t.binary(ast.OpNe, v) }
func (t Term) Lt(v any) Term  { return t.binary(ast.OpLt, v) }
func (t Term) Le(v any) Term  { return t.binary(ast.OpLe, v) }
func (t Term) Gt(v any) Term  { return t.binary(ast.OpGt, v) }
func (t Term) Ge(v any) Term  { return t.binary(ast.OpGe, v) }
func (t Term) Add(v any) Term { return t.binary(ast.OpAdd, v) }
func (t Term) Sub(v any) Term { return t.binary(ast.OpSub, v) }
func (t Term) Mul(v any) Term { return t.binary(ast.OpMul, v) }
func (t Term) Div(v any) Term { return t.binary(ast.OpDiv, v) }
func (t Term) Mod(v any) Term { return t.binary(ast.OpMod, v) }

// And is t && other.
func (t Term) And(other Term) Term { return And(t, other) }

// Or is t || other.
func (t Term) Or(other Term) Term { return Or(t, other) }

// Not is !t.
func (t Term) Not() Term { return Not(t) }

// Neg is -t.
func (t Term) Neg() Term { return Term{&ast.Unary{Op: ast.OpNeg, Operand: t.expr}} }

// IsNull is t == null.
func (t Term) IsNull() Term { return t.Eq(Null()) }

// NotNull is t != null.
func (t Term) NotNull() Term { return t.Ne(Null()) }

// Get navigates to a field of t.
func (t Term) Get(name string) Term { return Term{&ast.Field{Target: t.expr, Name: name}} }

// Call invokes method on t.
func (t Term) Call(method string, args ...any) Term {
	return Term{&ast.Invoke{Target: t.expr, Method: method, Args: terms(args)}}
}

func (t Term) StartsWith(v any) Term { return t.Call("startsWith", v) }
func (t Term) EndsWith(v any) Term   { return t.Call("endsWith", v) }
func (t Term) Contains(v any) Term   { return t.Call("contains", v) }
func (t Term) Matches(v any) Term    { return t.Call("matches", v) }
func (t Term) ToLower() Term         { return t.Call("toLowerCase") }
func (t Term) ToUpper() Term         { return t.Call("toUpperCase") }

// As names the column t produces.
func (t Term) As(alias string) Column { return Column{Term: t, Alias: alias} }

// Asc orders by t ascending.
func (t Term) Asc() Order { return Order{Term: t} }

// Desc orders by t descending.
func (t Term) Desc() Order { return Order{Term: t, Descending: true} }

// Column is an aliased result expression.
type Column struct {
	Term  Term
	Alias string
}

// Order is an ordering key.
type Order struct {
	Term       Term
	Descending bool
}

// term converts a builder argument. Anything that is not a Term is a
// literal.
func term(v any) Term {
	if t, ok := v.(Term); ok {
		return t
	}
	return Value(v)
}

func terms(args []any) []ast.Expr {
	out := make([]ast.Expr, len(args))
	for i, a := range args {
		out[i] = term(a).expr
	}
	return out
}
