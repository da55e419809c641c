// Package filter implements the metadata predicate language used to
// narrow retrieval. A predicate is a Clause tree in a Mongo-like shape:
// field leaves carry operator maps, $and/$or/$not combine subclauses.
//
// Clauses are split into a store-native part, compiled into the chunk
// store query, and a client-side part evaluated in process. $contains
// is the one operator no store backend supports, so any subtree using
// it stays client-side.
package filter

import (
	"strings"
)

// Clause is one node of a predicate tree. Keys are either field names
// or the compound operators $and, $or, $not.
type Clause map[string]any

// Comparison operators allowed on field leaves.
const (
	OpEq       = "$eq"
	OpNe       = "$ne"
	OpGt       = "$gt"
	OpGte      = "$gte"
	OpLt       = "$lt"
	OpLte      = "$lte"
	OpIn       = "$in"
	OpNin      = "$nin"
	OpContains = "$contains"
)

// Compound operators.
const (
	OpAnd = "$and"
	OpOr  = "$or"
	OpNot = "$not"
)

var fieldOps = map[string]bool{
	OpEq: true, OpNe: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true,
	OpContains: true,
}

// Filters is the structured form filters arrive in, either extracted
// from a chat turn by the language model or passed over the API.
type Filters struct {
	YearMin     *int     `json:"year_min"`
	YearMax     *int     `json:"year_max"`
	Tags        []string `json:"tags"`
	Collections []string `json:"collections"`
	Author      *string  `json:"author"`
	Title       *string  `json:"title"`
	ItemTypes   []string `json:"item_types"`
	HasFilters  bool     `json:"has_filters"`
}

// Empty reports whether the filters would produce no predicate.
func (f Filters) Empty() bool {
	return Build(f) == nil
}

// Build converts structured filters into a Clause. Nil when nothing is
// set. Year bounds of -1 mean unset. Multi-value tags and collections
// become $or groups of $contains so partial names match.
func Build(f Filters) Clause {
	var conds []Clause

	if f.YearMin != nil && *f.YearMin != -1 {
		conds = append(conds, Clause{"year": Clause{OpGte: *f.YearMin}})
	}
	if f.YearMax != nil && *f.YearMax != -1 {
		conds = append(conds, Clause{"year": Clause{OpLte: *f.YearMax}})
	}
	if c := anyContains("tags", f.Tags); c != nil {
		conds = append(conds, c)
	}
	if c := anyContains("collections", f.Collections); c != nil {
		conds = append(conds, c)
	}
	if f.Author != nil && *f.Author != "" {
		conds = append(conds, Clause{"authors": Clause{OpContains: *f.Author}})
	}
	if f.Title != nil && *f.Title != "" {
		conds = append(conds, Clause{"title": Clause{OpContains: *f.Title}})
	}
	if c := itemTypeClause(f.ItemTypes); c != nil {
		conds = append(conds, c)
	}

	return wrapAnd(conds)
}

func anyContains(field string, values []string) Clause {
	vals := nonBlank(values)
	switch len(vals) {
	case 0:
		return nil
	case 1:
		return Clause{field: Clause{OpContains: vals[0]}}
	}
	subs := make([]Clause, 0, len(vals))
	for _, v := range vals {
		subs = append(subs, Clause{field: Clause{OpContains: v}})
	}
	return Clause{OpOr: subs}
}

func itemTypeClause(labels []string) Clause {
	vals := nonBlank(labels)
	switch len(vals) {
	case 0:
		return nil
	case 1:
		return Clause{"item_type": Clause{OpEq: ItemTypeKey(vals[0])}}
	}
	keys := make([]any, 0, len(vals))
	for _, v := range vals {
		keys = append(keys, ItemTypeKey(v))
	}
	return Clause{"item_type": Clause{OpIn: keys}}
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func wrapAnd(conds []Clause) Clause {
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	}
	return Clause{OpAnd: conds}
}

// Merge combines two predicates with $and. Either side may be nil.
func Merge(a, b Clause) Clause {
	switch {
	case len(a) == 0:
		return b
	case len(b) == 0:
		return a
	}
	return Clause{OpAnd: []Clause{a, b}}
}

// itemTypeKeys maps the display labels models tend to produce onto
// Zotero item type keys.
var itemTypeKeys = map[string]string{
	"Journal Article":  "journalArticle",
	"Book":             "book",
	"Book Section":     "bookSection",
	"Conference Paper": "conferencePaper",
	"Thesis":           "thesis",
	"Preprint":         "preprint",
	"Web Page":         "webpage",
	"Report":           "report",
	"Presentation":     "presentation",
	"Manuscript":       "manuscript",
}

// ItemTypeKey maps a display label to its Zotero item type key. Values
// that already are keys, or that match no label, pass through.
func ItemTypeKey(label string) string {
	if key, ok := itemTypeKeys[label]; ok {
		return key
	}
	for l, key := range itemTypeKeys {
		if strings.EqualFold(l, label) || strings.EqualFold(key, label) {
			return key
		}
	}
	return label
}

// ItemTypeLabel is the reverse of ItemTypeKey, for display.
func ItemTypeLabel(key string) string {
	for label, k := range itemTypeKeys {
		if k == key {
			return label
		}
	}
	return key
}
