package filter

import (
	"fmt"
	"strings"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// Split partitions a predicate into a store-native part and a
// client-side part. A top-level $and is split per condition; any other
// clause goes wholly to one side. Either result may be nil.
func Split(c Clause) (native, client Clause) {
	if len(c) == 0 {
		return nil, nil
	}
	if subs, ok := topLevelAnd(c); ok {
		var nat, cli []Clause
		for _, sub := range subs {
			if storeNative(sub) {
				nat = append(nat, sub)
			} else {
				cli = append(cli, sub)
			}
		}
		return wrapAnd(nat), wrapAnd(cli)
	}
	if storeNative(c) {
		return c, nil
	}
	return nil, c
}

func topLevelAnd(c Clause) ([]Clause, bool) {
	if len(c) != 1 {
		return nil, false
	}
	val, ok := c[OpAnd]
	if !ok {
		return nil, false
	}
	return Subclauses(val), true
}

// storeNative reports whether every operator in the tree can be
// compiled into a store query. $contains anywhere poisons the subtree.
func storeNative(c Clause) bool {
	for key, val := range c {
		switch key {
		case OpAnd, OpOr:
			for _, sub := range Subclauses(val) {
				if !storeNative(sub) {
					return false
				}
			}
		case OpNot:
			sub, ok := AsClause(val)
			if !ok || !storeNative(sub) {
				return false
			}
		default:
			ops, ok := AsClause(val)
			if !ok {
				continue
			}
			for op := range ops {
				if op == OpContains {
					return false
				}
			}
		}
	}
	return true
}

// Validate walks a predicate and rejects malformed trees before they
// reach the store or the matcher.
func Validate(c Clause) error {
	if len(c) == 0 {
		return nil
	}
	return validateClause(c, "")
}

func validateClause(c Clause, path string) error {
	for key, val := range c {
		at := key
		if path != "" {
			at = path + "." + key
		}
		switch key {
		case OpAnd, OpOr:
			subs := Subclauses(val)
			if subs == nil {
				return invalidFilter(fmt.Sprintf("%s expects a list of clauses", at))
			}
			for _, sub := range subs {
				if err := validateClause(sub, at); err != nil {
					return err
				}
			}
		case OpNot:
			sub, ok := AsClause(val)
			if !ok {
				return invalidFilter(fmt.Sprintf("%s expects a clause", at))
			}
			if err := validateClause(sub, at); err != nil {
				return err
			}
		default:
			if strings.HasPrefix(key, "$") {
				return invalidFilter(fmt.Sprintf("unknown operator %s", at))
			}
			if err := validateLeaf(val, at); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateLeaf(val any, path string) error {
	ops, ok := AsClause(val)
	if !ok {
		// Bare value, implicit $eq.
		return nil
	}
	if len(ops) == 0 {
		return invalidFilter(fmt.Sprintf("%s has an empty operator map", path))
	}
	for op, want := range ops {
		if !fieldOps[op] {
			return invalidFilter(fmt.Sprintf("unknown operator %s on %s", op, path))
		}
		if op == OpIn || op == OpNin {
			if _, isList := elements(want); !isList {
				return invalidFilter(fmt.Sprintf("%s on %s expects a list", op, path))
			}
		}
	}
	return nil
}

func invalidFilter(msg string) error {
	return ragerr.New(ragerr.ErrCodeInvalidFilter, msg, nil).
		WithSuggestion("see the filter syntax in the README")
}

// AsClause coerces a value into a Clause. JSON decoding yields
// map[string]any, builders yield Clause.
func AsClause(v any) (Clause, bool) {
	switch m := v.(type) {
	case Clause:
		return m, true
	case map[string]any:
		return Clause(m), true
	}
	return nil, false
}

// Subclauses coerces the value of $and or $or into its clause list.
// Nil when the value is not a list of clauses.
func Subclauses(v any) []Clause {
	switch list := v.(type) {
	case []Clause:
		return list
	case []map[string]any:
		out := make([]Clause, len(list))
		for i, m := range list {
			out[i] = Clause(m)
		}
		return out
	case []any:
		out := make([]Clause, 0, len(list))
		for _, e := range list {
			sub, ok := AsClause(e)
			if !ok {
				return nil
			}
			out = append(out, sub)
		}
		return out
	}
	return nil
}
