package search

import (
	"context"
)

// RerankResult scores one input passage.
type RerankResult struct {
	// Index is the passage's position in the input slice.
	Index int

	// Score is the model's relevance estimate, higher is better.
	Score float64
}

// Reranker reorders retrieved passages with a cross-encoder. A
// cross-encoder reads the query and passage together, which judges
// relevance more accurately than the bi-encoder embeddings used for
// candidate retrieval, at the cost of a model call per passage.
type Reranker interface {
	// Rerank scores passages against the query and returns results
	// sorted by score descending. topK > 0 truncates the output.
	Rerank(ctx context.Context, query string, passages []string, topK int) ([]RerankResult, error)

	// Available reports whether the reranker can serve calls right now.
	Available(ctx context.Context) bool

	// Close releases held resources.
	Close() error
}

// NoOpReranker keeps the fused order. It is the default hook so
// retrieval works without any reranking model installed.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

// Rerank returns the passages in their original order with decreasing
// scores.
func (n *NoOpReranker) Rerank(_ context.Context, _ string, passages []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(passages))
	for i := range passages {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available always reports true.
func (n *NoOpReranker) Available(_ context.Context) bool {
	return true
}

// Close is a no-op.
func (n *NoOpReranker) Close() error {
	return nil
}
