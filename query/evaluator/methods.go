package evaluator

import (
	"math"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/scalaris-go/kvquery/internal/convert"
	"github.com/scalaris-go/kvquery/query/ast"
)

var patterns sync.Map // string -> *regexp.Regexp

func (s *scope) evalInvoke(n *ast.Invoke) (any, error) {
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if n.Target == nil {
		return callFunction(n.Method, args)
	}

	target, err := s.eval(n.Target)
	if err != nil {
		return nil, err
	}
	if isUnknown(target) || convert.IsNil(target) {
		return unknown, nil
	}
	for _, a := range args {
		if isUnknown(a) {
			return unknown, nil
		}
	}

	rv := reflect.ValueOf(convert.Indirect(target))
	switch rv.Kind() {
	case reflect.String:
		return stringMethod(rv.String(), n.Method, args)
	case reflect.Slice, reflect.Array:
		return collectionMethod(rv, n.Method, args)
	case reflect.Map:
		return mapMethod(rv, n.Method, args)
	}
	return nil, evalErr("method %s is not supported on %T", n.Method, target)
}

func callFunction(name string, args []any) (any, error) {
	if len(args) != 1 {
		return nil, evalErr("%s expects 1 argument, got %d", name, len(args))
	}
	v := args[0]
	if isUnknown(v) || convert.IsNil(v) {
		return unknown, nil
	}

	switch name {
	case "abs":
		if i, ok := convert.ToInt64(v); ok && convert.IsInteger(v) && i != math.MinInt64 {
			if i < 0 {
				i = -i
			}
			return i, nil
		}
		if f, ok := convert.ToFloat(v); ok {
			return math.Abs(f), nil
		}
		return nil, evalErr("abs expects a number, got %T", v)

	case "sqrt":
		f, ok := convert.ToFloat(v)
		if !ok {
			return nil, evalErr("sqrt expects a number, got %T", v)
		}
		return math.Sqrt(f), nil

	case "size":
		rv := reflect.ValueOf(convert.Indirect(v))
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map:
			return int64(rv.Len()), nil
		case reflect.String:
			return int64(utf8.RuneCountInString(rv.String())), nil
		}
		return nil, evalErr("size expects a collection, got %T", v)
	}
	return nil, evalErr("unknown function %s", name)
}

func arity(method string, args []any, counts ...int) error {
	for _, c := range counts {
		if len(args) == c {
			return nil
		}
	}
	return evalErr("%s: wrong number of arguments (%d)", method, len(args))
}

func stringArg(method string, v any) (string, error) {
	rv := reflect.ValueOf(convert.Indirect(v))
	if rv.Kind() != reflect.String {
		return "", evalErr("%s expects a string argument, got %T", method, v)
	}
	return rv.String(), nil
}

func intArg(method string, v any) (int, error) {
	n, ok := toIndex(v)
	if !ok {
		return 0, evalErr("%s expects an integer argument, got %T", method, v)
	}
	return n, nil
}

func toIndex(v any) (int, bool) {
	if !convert.IsNumber(v) {
		return 0, false
	}
	i, ok := convert.ToInt64(v)
	if !ok || i > math.MaxInt32 || i < math.MinInt32 {
		return 0, false
	}
	return int(i), true
}

func stringMethod(str, method string, args []any) (any, error) {
	switch method {
	case "length", "toLowerCase", "toUpperCase", "trim":
		if err := arity(method, args, 0); err != nil {
			return nil, err
		}
	case "startsWith", "endsWith", "matches", "equalsIgnoreCase", "contains", "charAt", "equals":
		if err := arity(method, args, 1); err != nil {
			return nil, err
		}
	case "indexOf", "substring":
		if err := arity(method, args, 1, 2); err != nil {
			return nil, err
		}
	default:
		return nil, evalErr("unknown string method %s", method)
	}

	switch method {
	case "length":
		return int64(utf8.RuneCountInString(str)), nil
	case "toLowerCase":
		return strings.ToLower(str), nil
	case "toUpperCase":
		return strings.ToUpper(str), nil
	case "trim":
		return strings.TrimSpace(str), nil
	case "equals":
		return convert.Equal(str, args[0]), nil
	}

	if method == "charAt" {
		i, err := intArg(method, args[0])
		if err != nil {
			return nil, err
		}
		runes := []rune(str)
		if i < 0 || i >= len(runes) {
			return nil, evalErr("charAt(%d) out of range for length %d", i, len(runes))
		}
		return string(runes[i]), nil
	}

	if method == "substring" {
		runes := []rune(str)
		begin, err := intArg(method, args[0])
		if err != nil {
			return nil, err
		}
		end := len(runes)
		if len(args) == 2 {
			if end, err = intArg(method, args[1]); err != nil {
				return nil, err
			}
		}
		if begin < 0 || end > len(runes) || begin > end {
			return nil, evalErr("substring(%d, %d) out of range for length %d", begin, end, len(runes))
		}
		return string(runes[begin:end]), nil
	}

	arg, err := stringArg(method, args[0])
	if err != nil {
		return nil, err
	}
	switch method {
	case "startsWith":
		return strings.HasPrefix(str, arg), nil
	case "endsWith":
		return strings.HasSuffix(str, arg), nil
	case "contains":
		return strings.Contains(str, arg), nil
	case "equalsIgnoreCase":
		return strings.EqualFold(str, arg), nil
	case "matches":
		re, err := compilePattern(arg)
		if err != nil {
			return nil, err
		}
		return re.MatchString(str), nil
	case "indexOf":
		from := 0
		if len(args) == 2 {
			if from, err = intArg(method, args[1]); err != nil {
				return nil, err
			}
		}
		return runeIndex(str, arg, from), nil
	}
	return nil, evalErr("unknown string method %s", method)
}

// runeIndex is strings.Index counted in runes, starting at from.
func runeIndex(str, sub string, from int) int64 {
	runes := []rune(str)
	if from < 0 {
		from = 0
	}
	if from > len(runes) {
		return -1
	}
	i := strings.Index(string(runes[from:]), sub)
	if i < 0 {
		return -1
	}
	return int64(from + utf8.RuneCountInString(string(runes[from:])[:i]))
}

// compilePattern compiles a whole-string match pattern.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, evalErr("invalid pattern %q: %v", pattern, err)
	}
	patterns.Store(pattern, re)
	return re, nil
}

func collectionMethod(rv reflect.Value, method string, args []any) (any, error) {
	switch method {
	case "isEmpty":
		if err := arity(method, args, 0); err != nil {
			return nil, err
		}
		return rv.Len() == 0, nil
	case "size":
		if err := arity(method, args, 0); err != nil {
			return nil, err
		}
		return int64(rv.Len()), nil
	case "contains":
		if err := arity(method, args, 1); err != nil {
			return nil, err
		}
		for i := 0; i < rv.Len(); i++ {
			if convert.Equal(rv.Index(i).Interface(), args[0]) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, evalErr("unknown collection method %s", method)
}

func mapMethod(rv reflect.Value, method string, args []any) (any, error) {
	switch method {
	case "isEmpty":
		if err := arity(method, args, 0); err != nil {
			return nil, err
		}
		return rv.Len() == 0, nil
	case "size":
		if err := arity(method, args, 0); err != nil {
			return nil, err
		}
		return int64(rv.Len()), nil
	case "containsKey", "get":
		if err := arity(method, args, 1); err != nil {
			return nil, err
		}
		iter := rv.MapRange()
		for iter.Next() {
			if convert.Equal(iter.Key().Interface(), args[0]) {
				if method == "get" {
					return normalize(iter.Value()), nil
				}
				return true, nil
			}
		}
		if method == "get" {
			return nil, nil
		}
		return false, nil
	case "containsValue":
		if err := arity(method, args, 1); err != nil {
			return nil, err
		}
		iter := rv.MapRange()
		for iter.Next() {
			if convert.Equal(iter.Value().Interface(), args[0]) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, evalErr("unknown map method %s", method)
}
