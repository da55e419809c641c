package store

import (
	"strings"
	"unicode"
)

// proseStopWords are high-frequency English function words dropped
// from keyword queries and the Bleve analysis chain. BM25 would
// down-weight them anyway; filtering keeps match sets small.
var proseStopWords = []string{
	"a", "an", "the", "and", "or", "but", "nor", "so", "yet",
	"of", "in", "on", "at", "to", "for", "with", "by", "from", "as",
	"into", "onto", "about", "between", "through", "during", "against",
	"is", "are", "was", "were", "be", "been", "being",
	"do", "does", "did", "have", "has", "had",
	"can", "could", "should", "would", "will", "shall", "may", "might", "must",
	"it", "its", "this", "that", "these", "those",
	"which", "who", "whom", "what", "when", "where", "how", "why",
	"i", "you", "he", "she", "we", "they", "their", "there",
	"not", "no", "if", "then", "than", "also",
}

const minTokenLength = 2

var stopWordSet = buildStopWordSet(proseStopWords)

func buildStopWordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// TokenizeQuery lowercases a query, splits it on non-alphanumeric
// runes, and drops stop words and single-character tokens. The result
// is safe to hand to either BM25 backend.
func TokenizeQuery(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minTokenLength {
			continue
		}
		if _, stop := stopWordSet[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// IsStopWord reports whether a lowercased term is filtered.
func IsStopWord(term string) bool {
	_, ok := stopWordSet[term]
	return ok
}
