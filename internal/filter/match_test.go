package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkMeta() map[string]any {
	return map[string]any{
		"title":     "Attention Is All You Need",
		"authors":   []string{"Ashish Vaswani", "Noam Shazeer"},
		"year":      int64(2017),
		"item_type": "journalArticle",
		"tags":      []any{"transformers", "attention"},
	}
}

func TestMatches_NilClauseMatchesEverything(t *testing.T) {
	assert.True(t, Matches(nil, chunkMeta()))
	assert.True(t, Matches(Clause{}, chunkMeta()))
}

func TestMatches_BareValueIsEq(t *testing.T) {
	assert.True(t, Matches(Clause{"item_type": "journalArticle"}, chunkMeta()))
	assert.False(t, Matches(Clause{"item_type": "book"}, chunkMeta()))
}

func TestMatches_NumericCoercion(t *testing.T) {
	// JSON delivers float64, the store delivers int64.
	assert.True(t, Matches(Clause{"year": Clause{OpEq: float64(2017)}}, chunkMeta()))
	assert.True(t, Matches(Clause{"year": 2017}, chunkMeta()))
	assert.False(t, Matches(Clause{"year": "2017x"}, chunkMeta()))
}

func TestMatches_RangeOperators(t *testing.T) {
	meta := chunkMeta()
	assert.True(t, Matches(Clause{"year": Clause{OpGte: 2017}}, meta))
	assert.True(t, Matches(Clause{"year": Clause{OpGt: 2016}}, meta))
	assert.False(t, Matches(Clause{"year": Clause{OpGt: 2017}}, meta))
	assert.True(t, Matches(Clause{"year": Clause{OpLte: 2017}}, meta))
	assert.False(t, Matches(Clause{"year": Clause{OpLt: 2017}}, meta))

	// Range over a non-numeric field never matches.
	assert.False(t, Matches(Clause{"title": Clause{OpGt: 5}}, meta))
}

func TestMatches_UnknownYearFailsRanges(t *testing.T) {
	meta := chunkMeta()
	meta["year"] = int64(-1)
	assert.False(t, Matches(Clause{"year": Clause{OpGte: 2000}}, meta))
	assert.True(t, Matches(Clause{"year": Clause{OpLt: 0}}, meta))
}

func TestMatches_MultipleOpsOnOneFieldAreAnded(t *testing.T) {
	c := Clause{"year": Clause{OpGte: 2015, OpLte: 2020}}
	assert.True(t, Matches(c, chunkMeta()))

	c = Clause{"year": Clause{OpGte: 2018, OpLte: 2020}}
	assert.False(t, Matches(c, chunkMeta()))
}

func TestMatches_InAndNin(t *testing.T) {
	meta := chunkMeta()
	assert.True(t, Matches(Clause{"item_type": Clause{OpIn: []any{"book", "journalArticle"}}}, meta))
	assert.False(t, Matches(Clause{"item_type": Clause{OpIn: []any{"book", "thesis"}}}, meta))
	assert.True(t, Matches(Clause{"item_type": Clause{OpNin: []any{"book", "thesis"}}}, meta))
	assert.False(t, Matches(Clause{"item_type": Clause{OpNin: []any{"journalArticle"}}}, meta))

	// $in against a list field matches on any element.
	assert.True(t, Matches(Clause{"tags": Clause{OpIn: []any{"attention"}}}, meta))
}

func TestMatches_ContainsIsCaseInsensitive(t *testing.T) {
	meta := chunkMeta()
	assert.True(t, Matches(Clause{"title": Clause{OpContains: "ATTENTION"}}, meta))
	assert.True(t, Matches(Clause{"authors": Clause{OpContains: "vaswani"}}, meta))
	assert.False(t, Matches(Clause{"title": Clause{OpContains: "bert"}}, meta))
}

func TestMatches_ContainsOnMissingFieldFails(t *testing.T) {
	assert.False(t, Matches(Clause{"abstract": Clause{OpContains: "x"}}, chunkMeta()))
}

func TestMatches_MissingFieldEquality(t *testing.T) {
	meta := chunkMeta()
	assert.False(t, Matches(Clause{"venue": Clause{OpEq: "NeurIPS"}}, meta))
	assert.True(t, Matches(Clause{"venue": Clause{OpNe: "NeurIPS"}}, meta))
	assert.True(t, Matches(Clause{"venue": Clause{OpNin: []any{"NeurIPS"}}}, meta))
}

func TestMatches_ListFieldEquality(t *testing.T) {
	meta := chunkMeta()
	assert.True(t, Matches(Clause{"tags": "attention"}, meta))
	assert.False(t, Matches(Clause{"tags": "bert"}, meta))
}

func TestMatches_Compounds(t *testing.T) {
	meta := chunkMeta()

	or := Clause{OpOr: []Clause{
		{"year": Clause{OpLt: 2000}},
		{"item_type": "journalArticle"},
	}}
	assert.True(t, Matches(or, meta))

	and := Clause{OpAnd: []Clause{
		{"year": Clause{OpGte: 2015}},
		{"tags": Clause{OpContains: "transform"}},
	}}
	assert.True(t, Matches(and, meta))

	not := Clause{OpNot: Clause{"item_type": "book"}}
	assert.True(t, Matches(not, meta))
	not = Clause{OpNot: Clause{"item_type": "journalArticle"}}
	assert.False(t, Matches(not, meta))
}

func TestMatches_MultipleKeysImplicitAnd(t *testing.T) {
	c := Clause{
		"item_type": "journalArticle",
		"year":      Clause{OpGte: 2015},
	}
	assert.True(t, Matches(c, chunkMeta()))

	c["year"] = Clause{OpGte: 2020}
	assert.False(t, Matches(c, chunkMeta()))
}

func TestMatches_JSONDecodedClause(t *testing.T) {
	raw := `{"$and": [
		{"year": {"$gte": 2015}},
		{"$or": [
			{"tags": {"$contains": "attention"}},
			{"item_type": {"$in": ["book"]}}
		]}
	]}`
	var c Clause
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.True(t, Matches(c, chunkMeta()))
}
