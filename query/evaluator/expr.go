package evaluator

import (
	"fmt"
	"math"
	"reflect"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/query/ast"
	"github.com/scalaris-go/kvquery/query/qerr"
)

// unknownValue is the result of navigating through a nil intermediate.
type unknownValue struct{}

var unknown = unknownValue{}

func isUnknown(v any) bool {
	_, ok := v.(unknownValue)
	return ok
}

// output converts an internal value to what callers see.
func output(v any) any {
	if isUnknown(v) {
		return nil
	}
	return v
}

type truth int

const (
	truthFalse truth = iota
	truthTrue
	truthUnknown
)

func (t truth) value() any {
	switch t {
	case truthTrue:
		return true
	case truthFalse:
		return false
	}
	return unknown
}

// scope is the evaluation context of one candidate or one group.
type scope struct {
	this        any
	params      Parameters
	members     []any
	grouped     bool
	constructor Constructor
}

func evalErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", qerr.ErrEvaluation, fmt.Sprintf(format, args...))
}

func truthOf(s *scope, e ast.Expr) (truth, error) {
	v, err := s.eval(e)
	if err != nil {
		return truthFalse, err
	}
	return toTruth(v, e)
}

func toTruth(v any, e ast.Expr) (truth, error) {
	if isUnknown(v) || convert.IsNil(v) {
		return truthUnknown, nil
	}
	rv := reflect.ValueOf(convert.Indirect(v))
	if rv.Kind() != reflect.Bool {
		return truthFalse, evalErr("%s is %T, not boolean", e, v)
	}
	if rv.Bool() {
		return truthTrue, nil
	}
	return truthFalse, nil
}

func (s *scope) eval(e ast.Expr) (any, error) {
	switch n := e.(type) {
	case *ast.Literal:
		return n.Value, nil

	case *ast.This:
		return s.this, nil

	case *ast.Parameter:
		v, ok := s.params[n.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", qerr.ErrUnboundParameter, n)
		}
		return v, nil

	case *ast.Field:
		target := s.this
		if n.Target != nil {
			var err error
			if target, err = s.eval(n.Target); err != nil {
				return nil, err
			}
		}
		return fieldValue(target, n.Name)

	case *ast.Unary:
		return s.evalUnary(n)

	case *ast.Binary:
		if n.Op.Logical() {
			return s.evalLogical(n)
		}
		l, err := s.eval(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := s.eval(n.Right)
		if err != nil {
			return nil, err
		}
		if n.Op.Comparison() {
			return compare(n.Op, l, r)
		}
		return arithmetic(n.Op, l, r)

	case *ast.Invoke:
		return s.evalInvoke(n)

	case *ast.Aggregate:
		if !s.grouped {
			return nil, evalErr("aggregate %s used outside of grouping", n)
		}
		return s.aggregate(n)

	case *ast.Creator:
		return s.evalCreator(n)

	case nil:
		return nil, evalErr("missing expression")
	}
	return nil, evalErr("unsupported expression %T", e)
}

func (s *scope) evalUnary(n *ast.Unary) (any, error) {
	switch n.Op {
	case ast.OpNot:
		t, err := truthOf(s, n.Operand)
		if err != nil {
			return nil, err
		}
		switch t {
		case truthTrue:
			return false, nil
		case truthFalse:
			return true, nil
		}
		return unknown, nil

	case ast.OpNeg:
		v, err := s.eval(n.Operand)
		if err != nil {
			return nil, err
		}
		if isUnknown(v) || convert.IsNil(v) {
			return unknown, nil
		}
		if convert.IsInteger(v) {
			i, _ := convert.ToInt64(v)
			return -i, nil
		}
		if f, ok := convert.ToFloat(v); ok {
			return -f, nil
		}
		return nil, evalErr("cannot negate %T", v)
	}
	return nil, evalErr("unsupported unary operator %q", n.Op)
}

// evalLogical implements short-circuit three-valued && and ||.
func (s *scope) evalLogical(n *ast.Binary) (any, error) {
	l, err := truthOf(s, n.Left)
	if err != nil {
		return nil, err
	}
	if n.Op == ast.OpAnd && l == truthFalse {
		return false, nil
	}
	if n.Op == ast.OpOr && l == truthTrue {
		return true, nil
	}

	r, err := truthOf(s, n.Right)
	if err != nil {
		return nil, err
	}
	if n.Op == ast.OpAnd {
		switch {
		case r == truthFalse:
			return false, nil
		case l == truthUnknown || r == truthUnknown:
			return unknown, nil
		}
		return true, nil
	}
	switch {
	case r == truthTrue:
		return true, nil
	case l == truthUnknown || r == truthUnknown:
		return unknown, nil
	}
	return false, nil
}

func compare(op ast.BinaryOp, l, r any) (any, error) {
	if isUnknown(l) || isUnknown(r) {
		return unknown, nil
	}
	switch op {
	case ast.OpEq:
		return convert.Equal(l, r), nil
	case ast.OpNe:
		return !convert.Equal(l, r), nil
	}

	if convert.IsNil(l) || convert.IsNil(r) {
		return unknown, nil
	}
	c, err := convert.Compare(l, r)
	if err != nil {
		return nil, evalErr("%v", err)
	}
	switch op {
	case ast.OpLt:
		return c < 0, nil
	case ast.OpLe:
		return c <= 0, nil
	case ast.OpGt:
		return c > 0, nil
	case ast.OpGe:
		return c >= 0, nil
	}
	return nil, evalErr("unsupported comparison %q", op)
}

func arithmetic(op ast.BinaryOp, l, r any) (any, error) {
	if isUnknown(l) || isUnknown(r) || convert.IsNil(l) || convert.IsNil(r) {
		return unknown, nil
	}
	l, r = convert.Indirect(l), convert.Indirect(r)

	if op == ast.OpAdd {
		_, ls := l.(string)
		_, rs := r.(string)
		if ls || rs {
			return fmt.Sprint(l) + fmt.Sprint(r), nil
		}
	}

	if !convert.IsNumber(l) || !convert.IsNumber(r) {
		return nil, evalErr("operator %s needs numbers, got %T and %T", op, l, r)
	}

	if convert.IsInteger(l) && convert.IsInteger(r) {
		x, _ := convert.ToInt64(l)
		y, _ := convert.ToInt64(r)
		switch op {
		case ast.OpAdd:
			return x + y, nil
		case ast.OpSub:
			return x - y, nil
		case ast.OpMul:
			return x * y, nil
		case ast.OpDiv:
			if y == 0 {
				return nil, evalErr("division by zero")
			}
			return x / y, nil
		case ast.OpMod:
			if y == 0 {
				return nil, evalErr("division by zero")
			}
			return x % y, nil
		}
	}

	x, _ := convert.ToFloat(l)
	y, _ := convert.ToFloat(r)
	switch op {
	case ast.OpAdd:
		return x + y, nil
	case ast.OpSub:
		return x - y, nil
	case ast.OpMul:
		return x * y, nil
	case ast.OpDiv:
		if y == 0 {
			return nil, evalErr("division by zero")
		}
		return x / y, nil
	case ast.OpMod:
		if y == 0 {
			return nil, evalErr("division by zero")
		}
		return math.Mod(x, y), nil
	}
	return nil, evalErr("unsupported operator %q", op)
}

// fieldValue navigates to name on obj. A nil obj yields unknown; maps
// resolve keys (missing keys are nil); structs resolve fields by tag and
// name.
func fieldValue(obj any, name string) (any, error) {
	if isUnknown(obj) || convert.IsNil(obj) {
		return unknown, nil
	}

	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return unknown, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, evalErr("cannot navigate %s on %s", name, rv.Type())
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, nil
		}
		return normalize(v), nil

	case reflect.Struct:
		sf, ok := convert.FindField(rv.Type(), name)
		if !ok {
			return nil, evalErr("%s has no field %s", rv.Type(), name)
		}
		f, err := rv.FieldByIndexErr(sf.Index)
		if err != nil {
			return unknown, nil
		}
		return normalize(f), nil
	}
	return nil, evalErr("cannot navigate %s on %T", name, obj)
}

// normalize turns nil pointers and interfaces into plain nil.
func normalize(v reflect.Value) any {
	if (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && v.IsNil() {
		return nil
	}
	return v.Interface()
}

func (s *scope) evalCreator(n *ast.Creator) (any, error) {
	if s.constructor == nil {
		return nil, fmt.Errorf("%w: no constructor available for %s", qerr.ErrNoUsableConstructor, n.Class)
	}
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = output(v)
	}
	return s.constructor.Construct(n.Class, args)
}
