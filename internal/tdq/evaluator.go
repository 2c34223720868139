package tdq

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/marcus/livecache/internal/model"
)

// Matcher is a compiled predicate over a single record.
type Matcher func(model.Record) bool

// Compile parses query and returns an in-memory matcher, mirroring the
// teacher evaluator's ToMatcher but operating over opaque model.Record
// fields instead of a fixed Issue struct.
func Compile(query string) (Matcher, error) {
	root, err := Parse(query)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return func(model.Record) bool { return true }, nil
	}
	return nodeToMatcher(root)
}

func nodeToMatcher(n Node) (Matcher, error) {
	switch node := n.(type) {
	case *BinaryExpr:
		left, err := nodeToMatcher(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := nodeToMatcher(node.Right)
		if err != nil {
			return nil, err
		}
		if node.Op == OpAnd {
			return func(r model.Record) bool { return left(r) && right(r) }, nil
		}
		return func(r model.Record) bool { return left(r) || right(r) }, nil
	case *UnaryExpr:
		inner, err := nodeToMatcher(node.Expr)
		if err != nil {
			return nil, err
		}
		return func(r model.Record) bool { return !inner(r) }, nil
	case *FieldExpr:
		return fieldMatcher(node)
	default:
		return nil, fmt.Errorf("tdq: unsupported node type %T", n)
	}
}

func fieldMatcher(f *FieldExpr) (Matcher, error) {
	switch f.Operator {
	case OpEq:
		return func(r model.Record) bool { return compareEqual(r[f.Field], f.Value) }, nil
	case OpNeq:
		return func(r model.Record) bool { return !compareEqual(r[f.Field], f.Value) }, nil
	case OpLt, OpGt, OpLte, OpGte:
		want, ok := asFloat(f.Value)
		if !ok {
			return nil, fmt.Errorf("tdq: operator %s requires a numeric value", f.Operator)
		}
		return func(r model.Record) bool {
			got, ok := asFloat(r[f.Field])
			if !ok {
				return false
			}
			switch f.Operator {
			case OpLt:
				return got < want
			case OpGt:
				return got > want
			case OpLte:
				return got <= want
			default:
				return got >= want
			}
		}, nil
	case OpContains:
		want, _ := f.Value.(string)
		wantLower := strings.ToLower(want)
		return func(r model.Record) bool {
			got, ok := r[f.Field].(string)
			if !ok {
				return false
			}
			return strings.Contains(strings.ToLower(got), wantLower)
		}, nil
	case OpIn:
		list, ok := f.Value.(*ListValue)
		if !ok {
			return nil, fmt.Errorf("tdq: IN requires a value list")
		}
		return func(r model.Record) bool {
			for _, v := range list.Values {
				if compareEqual(r[f.Field], v) {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, fmt.Errorf("tdq: unsupported operator %q", f.Operator)
	}
}

func compareEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
