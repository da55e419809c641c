package search

// Limits bound the candidate pool and result caps for one retrieval pass.
type Limits struct {
	// RetrievalK is how many fused candidates survive into reranking.
	RetrievalK int

	// RerankTopK is the head of the fused list offered to the reranker.
	RerankTopK int

	// MaxPerPaper caps snippets from a single (title, year) paper.
	MaxPerPaper int

	// MaxTotal caps the final result list.
	MaxTotal int
}

var (
	broadLimits   = Limits{RetrievalK: 15, RerankTopK: 10, MaxPerPaper: 3, MaxTotal: 6}
	focusedLimits = Limits{RetrievalK: 25, RerankTopK: 15, MaxPerPaper: 8, MaxTotal: 10}
)

// LimitsFor returns the limits for one retrieval pass. Focused searches,
// where the caller has active metadata filters, use a wider candidate
// pool and looser diversity caps, and scale the pool by the active
// model's context window since a larger window can digest more passages.
func LimitsFor(focused bool, contextLength int) Limits {
	if !focused {
		return broadLimits
	}
	l := focusedLimits
	l.RetrievalK = int(float64(l.RetrievalK) * ContextMultiplier(contextLength))
	return l
}

// ContextMultiplier maps a model context window, in tokens, to the
// candidate pool multiplier used by focused searches. Zero or negative
// means the window is unknown.
func ContextMultiplier(contextLength int) float64 {
	switch {
	case contextLength >= 1_000_000:
		return 5
	case contextLength >= 200_000:
		return 4
	case contextLength >= 100_000:
		return 3
	case contextLength >= 32_000:
		return 2
	default:
		return 1
	}
}
