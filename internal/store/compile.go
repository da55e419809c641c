package store

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/filter"
)

// Metadata fields stored as JSON arrays. Operators on these compile to
// json_each scans instead of scalar extraction.
var arrayFields = map[string]bool{
	"authors":     true,
	"tags":        true,
	"collections": true,
}

var fieldNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// compileWhere turns a store-native predicate into a SQL fragment over
// the chunks.meta JSON column, with bound args. Clause keys are
// compiled in sorted order so output is deterministic.
func compileWhere(c filter.Clause) (string, []any, error) {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		frags []string
		args  []any
	)
	for _, key := range keys {
		frag, keyArgs, err := compileKey(key, c[key])
		if err != nil {
			return "", nil, err
		}
		frags = append(frags, frag)
		args = append(args, keyArgs...)
	}

	switch len(frags) {
	case 0:
		return "1=1", nil, nil
	case 1:
		return frags[0], args, nil
	}
	return "(" + strings.Join(frags, " AND ") + ")", args, nil
}

func compileKey(key string, val any) (string, []any, error) {
	switch key {
	case filter.OpAnd, filter.OpOr:
		return compileCompound(key, val)
	case filter.OpNot:
		sub, ok := filter.AsClause(val)
		if !ok {
			return "", nil, compileErr("$not expects a clause")
		}
		frag, args, err := compileWhere(sub)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + frag + ")", args, nil
	default:
		return compileLeaf(key, val)
	}
}

func compileCompound(op string, val any) (string, []any, error) {
	subs := filter.Subclauses(val)
	if subs == nil {
		return "", nil, compileErr(fmt.Sprintf("%s expects a list of clauses", op))
	}
	if len(subs) == 0 {
		// Matches the evaluator: empty $and is true, empty $or false.
		if op == filter.OpAnd {
			return "1=1", nil, nil
		}
		return "0=1", nil, nil
	}

	joiner := " AND "
	if op == filter.OpOr {
		joiner = " OR "
	}
	var (
		frags []string
		args  []any
	)
	for _, sub := range subs {
		frag, subArgs, err := compileWhere(sub)
		if err != nil {
			return "", nil, err
		}
		frags = append(frags, frag)
		args = append(args, subArgs...)
	}
	return "(" + strings.Join(frags, joiner) + ")", args, nil
}

func compileLeaf(field string, cond any) (string, []any, error) {
	if !fieldNameRe.MatchString(field) {
		return "", nil, compileErr(fmt.Sprintf("invalid field name %q", field))
	}

	ops, isMap := filter.AsClause(cond)
	if !isMap {
		return compileOp(field, filter.OpEq, cond)
	}

	opNames := make([]string, 0, len(ops))
	for op := range ops {
		opNames = append(opNames, op)
	}
	sort.Strings(opNames)

	var (
		frags []string
		args  []any
	)
	for _, op := range opNames {
		frag, opArgs, err := compileOp(field, op, ops[op])
		if err != nil {
			return "", nil, err
		}
		frags = append(frags, frag)
		args = append(args, opArgs...)
	}
	if len(frags) == 1 {
		return frags[0], args, nil
	}
	return "(" + strings.Join(frags, " AND ") + ")", args, nil
}

func compileOp(field, op string, want any) (string, []any, error) {
	if arrayFields[field] {
		return compileArrayOp(field, op, want)
	}

	expr := fmt.Sprintf("json_extract(meta, '$.%s')", field)
	switch op {
	case filter.OpEq:
		return expr + " IS ?", []any{want}, nil
	case filter.OpNe:
		return expr + " IS NOT ?", []any{want}, nil
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		// Guard on json_type so a stray string value never satisfies a
		// range through SQLite's cross-type ordering.
		guard := fmt.Sprintf("json_type(meta, '$.%s') IN ('integer','real')", field)
		return fmt.Sprintf("(%s AND %s %s ?)", guard, expr, sqlCmp(op)), []any{want}, nil
	case filter.OpIn:
		list := listArg(want)
		if len(list) == 0 {
			return "0=1", nil, nil
		}
		return fmt.Sprintf("%s IN (%s)", expr, placeholders(len(list))), list, nil
	case filter.OpNin:
		list := listArg(want)
		if len(list) == 0 {
			return "1=1", nil, nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s NOT IN (%s))", expr, expr, placeholders(len(list))), list, nil
	case filter.OpContains:
		return "", nil, compileErr("$contains cannot run in the store")
	}
	return "", nil, compileErr(fmt.Sprintf("unknown operator %s", op))
}

func compileArrayOp(field, op string, want any) (string, []any, error) {
	each := fmt.Sprintf("SELECT 1 FROM json_each(meta, '$.%s') je", field)
	switch op {
	case filter.OpEq:
		return fmt.Sprintf("EXISTS (%s WHERE je.value IS ?)", each), []any{want}, nil
	case filter.OpNe:
		return fmt.Sprintf("NOT EXISTS (%s WHERE je.value IS ?)", each), []any{want}, nil
	case filter.OpIn:
		list := listArg(want)
		if len(list) == 0 {
			return "0=1", nil, nil
		}
		return fmt.Sprintf("EXISTS (%s WHERE je.value IN (%s))", each, placeholders(len(list))), list, nil
	case filter.OpNin:
		list := listArg(want)
		if len(list) == 0 {
			return "1=1", nil, nil
		}
		return fmt.Sprintf("NOT EXISTS (%s WHERE je.value IN (%s))", each, placeholders(len(list))), list, nil
	case filter.OpContains:
		return "", nil, compileErr("$contains cannot run in the store")
	}
	return "", nil, compileErr(fmt.Sprintf("operator %s not supported on list field %s", op, field))
}

func sqlCmp(op string) string {
	switch op {
	case filter.OpGt:
		return ">"
	case filter.OpGte:
		return ">="
	case filter.OpLt:
		return "<"
	case filter.OpLte:
		return "<="
	}
	return "="
}

func listArg(want any) []any {
	switch list := want.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func compileErr(msg string) error {
	return ragerr.New(ragerr.ErrCodeInvalidFilter, msg, nil)
}
