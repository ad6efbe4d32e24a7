// Package ast defines the compiled query and its expression tree. A
// CompiledQuery is built once, by the compiler or the builder, and is never
// mutated afterwards.
package ast

// Expr is a node of the expression tree.
type Expr interface {
	String() string
	exprNode()
}

// Literal is a constant value: string, int64, float64, bool or nil.
type Literal struct {
	Value any
}

// This refers to the current candidate object.
type This struct{}

// Field navigates to a named field of Target. A nil Target means this.
type Field struct {
	Target Expr
	Name   string
}

// Parameter refers to a bound query parameter. Positional parameters are
// named by their index ("1", "2", ...).
type Parameter struct {
	Name       string
	Positional bool
}

// UnaryOp represents unary operators
type UnaryOp string

const (
	OpNot UnaryOp = "!"
	OpNeg UnaryOp = "-"
)

// Unary applies a unary operator.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

// BinaryOp represents binary operators
type BinaryOp string

const (
	OpEq  BinaryOp = "=="
	OpNe  BinaryOp = "!="
	OpLt  BinaryOp = "<"
	OpLe  BinaryOp = "<="
	OpGt  BinaryOp = ">"
	OpGe  BinaryOp = ">="
	OpAnd BinaryOp = "&&"
	OpOr  BinaryOp = "||"
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
	OpMod BinaryOp = "%"
)

// Comparison reports whether op compares its operands.
func (op BinaryOp) Comparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Logical reports whether op is && or ||.
func (op BinaryOp) Logical() bool {
	return op == OpAnd || op == OpOr
}

// Binary applies a binary operator.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// Invoke calls Method on Target, or a top-level function when Target is nil.
type Invoke struct {
	Target Expr
	Method string
	Args   []Expr
}

// AggregateFunc represents aggregate functions
type AggregateFunc string

const (
	AggCount AggregateFunc = "count"
	AggSum   AggregateFunc = "sum"
	AggAvg   AggregateFunc = "avg"
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
)

// AggregateFuncs lists the supported aggregate functions.
var AggregateFuncs = []AggregateFunc{AggCount, AggSum, AggAvg, AggMin, AggMax}

// Aggregate computes Func over a group. A nil Arg counts candidates.
type Aggregate struct {
	Func     AggregateFunc
	Distinct bool
	Arg      Expr
}

// Creator constructs an instance of Class from Args.
type Creator struct {
	Class string
	Args  []Expr
}

func (*Literal) exprNode()   {}
func (*This) exprNode()      {}
func (*Field) exprNode()     {}
func (*Parameter) exprNode() {}
func (*Unary) exprNode()     {}
func (*Binary) exprNode()    {}
func (*Invoke) exprNode()    {}
func (*Aggregate) exprNode() {}
func (*Creator) exprNode()   {}

// ResultExpr is one projected column.
type ResultExpr struct {
	Expr  Expr
	Alias string
}

// ColumnAlias returns the explicit alias, else the name of the last
// navigated field, else the aggregate function name. It returns "" when
// none applies.
func (r ResultExpr) ColumnAlias() string {
	if r.Alias != "" {
		return r.Alias
	}
	switch e := r.Expr.(type) {
	case *Field:
		return e.Name
	case *Aggregate:
		return string(e.Func)
	}
	return ""
}

// OrderExpr is one ordering key.
type OrderExpr struct {
	Expr       Expr
	Descending bool
}

// Range restricts results to [From, To).
type Range struct {
	From Expr
	To   Expr
}

// ParameterDecl is an explicit parameter declaration.
type ParameterDecl struct {
	Type string
	Name string
}

// CompiledQuery is the immutable input of query execution.
type CompiledQuery struct {
	Candidate   string
	Filter      Expr
	Result      []ResultExpr
	ResultClass string
	Grouping    []Expr
	Having      Expr
	Ordering    []OrderExpr
	Range       *Range
	Parameters  []ParameterDecl
	Unique      bool
	Distinct    bool
}

// Grouped reports whether execution partitions candidates into groups:
// either grouping is declared or a result or having expression aggregates.
func (q *CompiledQuery) Grouped() bool {
	if len(q.Grouping) > 0 {
		return true
	}
	for _, r := range q.Result {
		if ContainsAggregate(r.Expr) {
			return true
		}
	}
	return q.Having != nil && ContainsAggregate(q.Having)
}

// CreatorResult reports whether the first result expression constructs its
// value.
func (q *CompiledQuery) CreatorResult() bool {
	if len(q.Result) == 0 {
		return false
	}
	_, ok := q.Result[0].Expr.(*Creator)
	return ok
}

// Expressions returns every top-level expression of the query in clause
// order.
func (q *CompiledQuery) Expressions() []Expr {
	var out []Expr
	if q.Filter != nil {
		out = append(out, q.Filter)
	}
	for _, r := range q.Result {
		out = append(out, r.Expr)
	}
	out = append(out, q.Grouping...)
	if q.Having != nil {
		out = append(out, q.Having)
	}
	for _, o := range q.Ordering {
		out = append(out, o.Expr)
	}
	if q.Range != nil {
		out = append(out, q.Range.From, q.Range.To)
	}
	return out
}

// ReferencedParameters returns every distinct parameter used by the query,
// in order of first use.
func (q *CompiledQuery) ReferencedParameters() []*Parameter {
	seen := map[string]bool{}
	var params []*Parameter
	for _, e := range q.Expressions() {
		Walk(e, func(n Expr) bool {
			if p, ok := n.(*Parameter); ok && !seen[p.Name] {
				seen[p.Name] = true
				params = append(params, p)
			}
			return true
		})
	}
	return params
}

// ParameterNames returns the named parameters, in binding order: declared
// parameters first, then implicit ones by first use. Positional parameters
// are excluded.
func (q *CompiledQuery) ParameterNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, d := range q.Parameters {
		if !seen[d.Name] {
			seen[d.Name] = true
			names = append(names, d.Name)
		}
	}
	for _, p := range q.ReferencedParameters() {
		if !p.Positional && !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	}
	return names
}

// Walk visits e and its children depth-first. Returning false from fn skips
// the children of the current node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Field:
		Walk(n.Target, fn)
	case *Unary:
		Walk(n.Operand, fn)
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Invoke:
		Walk(n.Target, fn)
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *Aggregate:
		Walk(n.Arg, fn)
	case *Creator:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	}
}

// ContainsAggregate reports whether e contains an aggregate call.
func ContainsAggregate(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if _, ok := n.(*Aggregate); ok {
			found = true
		}
		return !found
	})
	return found
}
