package filter

import (
	"fmt"
	"strings"
)

// Matches evaluates a predicate against one chunk's metadata. A nil or
// empty clause matches everything. Multiple keys in a clause are
// implicitly ANDed, as are multiple operators on one field.
func Matches(c Clause, meta map[string]any) bool {
	for key, val := range c {
		switch key {
		case OpAnd:
			for _, sub := range Subclauses(val) {
				if !Matches(sub, meta) {
					return false
				}
			}
		case OpOr:
			subs := Subclauses(val)
			if len(subs) == 0 {
				return false
			}
			matched := false
			for _, sub := range subs {
				if Matches(sub, meta) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case OpNot:
			sub, ok := AsClause(val)
			if !ok || Matches(sub, meta) {
				return false
			}
		default:
			if !matchField(meta[key], val) {
				return false
			}
		}
	}
	return true
}

func matchField(fieldVal, cond any) bool {
	ops, ok := AsClause(cond)
	if !ok {
		// Bare value is shorthand for $eq.
		return matchOp(OpEq, fieldVal, cond)
	}
	for op, want := range ops {
		if !matchOp(op, fieldVal, want) {
			return false
		}
	}
	return true
}

func matchOp(op string, fieldVal, want any) bool {
	switch op {
	case OpEq:
		return equal(fieldVal, want)
	case OpNe:
		return !equal(fieldVal, want)
	case OpGt, OpGte, OpLt, OpLte:
		return compare(op, fieldVal, want)
	case OpIn:
		for _, w := range asList(want) {
			if equal(fieldVal, w) {
				return true
			}
		}
		return false
	case OpNin:
		for _, w := range asList(want) {
			if equal(fieldVal, w) {
				return false
			}
		}
		return true
	case OpContains:
		if fieldVal == nil {
			return false
		}
		return strings.Contains(
			strings.ToLower(stringify(fieldVal)),
			strings.ToLower(fmt.Sprint(want)),
		)
	}
	return false
}

// equal compares with numeric coercion so an int64 from the store
// matches a float64 from JSON. List-valued fields match when any
// element does.
func equal(fieldVal, want any) bool {
	if elems, ok := elements(fieldVal); ok {
		for _, e := range elems {
			if scalarEqual(e, want) {
				return true
			}
		}
		return false
	}
	return scalarEqual(fieldVal, want)
}

func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa == fb
		}
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(op string, fieldVal, want any) bool {
	fa, aok := toFloat(fieldVal)
	fb, bok := toFloat(want)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpGt:
		return fa > fb
	case OpGte:
		return fa >= fb
	case OpLt:
		return fa < fb
	case OpLte:
		return fa <= fb
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// stringify renders a field value for substring matching. Lists join
// with ", " so element text stays searchable.
func stringify(v any) string {
	if elems, ok := elements(v); ok {
		parts := make([]string, 0, len(elems))
		for _, e := range elems {
			parts = append(parts, fmt.Sprint(e))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

func elements(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func asList(v any) []any {
	if elems, ok := elements(v); ok {
		return elems
	}
	if v == nil {
		return nil
	}
	return []any{v}
}
