// Package search implements hybrid retrieval over the indexed library.
// Dense vector hits and sparse BM25 hits are gathered in parallel, fused
// with Reciprocal Rank Fusion, filtered by metadata predicates, passed
// through an optional cross-encoder rerank hook, and finally capped so a
// single paper cannot crowd out the rest of the results.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zoterag/zoterag/internal/embed"
	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/filter"
	"github.com/zoterag/zoterag/internal/store"
)

// ErrNilDependency reports a missing constructor dependency.
var ErrNilDependency = errors.New("nil dependency")

// Result is one retrieved passage with its provenance.
type Result struct {
	// Chunk is the passage and its paper metadata.
	Chunk store.Chunk

	// Score is the fused RRF score.
	Score float64

	// DenseRank and SparseRank are 1-indexed positions in the source
	// lists, 0 when that list missed the chunk.
	DenseRank  int
	SparseRank int

	// DenseScore is the cosine similarity from the dense list.
	DenseScore float32

	// SparseScore is the BM25 score from the sparse list.
	SparseScore float64

	// InBothLists reports whether dense and sparse retrieval agreed.
	InBothLists bool
}

// Retriever runs the hybrid retrieval pipeline against one library
// collection and its BM25 companion index.
type Retriever struct {
	collection *store.Collection
	bm25       store.BM25Index
	embedder   embed.Embedder
	reranker   Reranker
	fusion     *Fusion

	// Over-fetch multipliers on k for the candidate pools of both
	// branches. The filtered multiplier applies when part of the
	// predicate must be evaluated client-side after retrieval.
	unfilteredMultiplier int
	filteredMultiplier   int
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithReranker installs a cross-encoder rerank hook. The default keeps
// the fused order.
func WithReranker(r Reranker) RetrieverOption {
	return func(rt *Retriever) {
		if r != nil {
			rt.reranker = r
		}
	}
}

// WithRRFConstant overrides the RRF constant used during fusion.
func WithRRFConstant(k int) RetrieverOption {
	return func(rt *Retriever) {
		rt.fusion = NewFusionWithK(k)
	}
}

// WithWidthMultipliers overrides how far beyond k both branches
// over-fetch. Values below 1 keep the defaults.
func WithWidthMultipliers(unfiltered, filtered int) RetrieverOption {
	return func(rt *Retriever) {
		if unfiltered >= 1 {
			rt.unfilteredMultiplier = unfiltered
		}
		if filtered >= 1 {
			rt.filteredMultiplier = filtered
		}
	}
}

// NewRetriever wires the retrieval pipeline. The collection, BM25 index
// and embedder are required.
func NewRetriever(collection *store.Collection, bm25 store.BM25Index, embedder embed.Embedder, opts ...RetrieverOption) (*Retriever, error) {
	if collection == nil {
		return nil, fmt.Errorf("%w: collection is required", ErrNilDependency)
	}
	if bm25 == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}

	r := &Retriever{
		collection:           collection,
		bm25:                 bm25,
		embedder:             embedder,
		reranker:             &NoOpReranker{},
		fusion:               NewFusion(),
		unfilteredMultiplier: 2,
		filteredMultiplier:   3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve runs one hybrid retrieval pass. k bounds the fused candidate
// list and defaults by mode when <= 0. where optionally restricts
// results by chunk metadata. focused selects the wider limits used when
// metadata filters are active.
//
// Either retrieval branch may fail alone; the other still serves. Only
// when both fail does Retrieve return an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, where filter.Clause, focused bool) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ragerr.New(ragerr.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	if err := filter.Validate(where); err != nil {
		return nil, err
	}

	limits := LimitsFor(focused, 0)
	if k <= 0 {
		k = limits.RetrievalK
	}

	native, client := filter.Split(where)

	// Client-side filtering discards candidates after retrieval, so
	// over-fetch more aggressively when it is in play.
	m := r.unfilteredMultiplier
	if client != nil {
		m = r.filteredMultiplier
	}
	width := k * m

	var (
		denseHits  []store.SearchHit
		sparseHits []store.BM25Hit
		denseErr   error
		sparseErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		denseHits, denseErr = r.denseSearch(gctx, query, width, native)
		return nil
	})
	g.Go(func() error {
		sparseHits, sparseErr = r.bm25.Search(gctx, query, width)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if denseErr != nil && sparseErr != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed,
			"both retrieval branches failed", errors.Join(denseErr, sparseErr))
	}
	if denseErr != nil {
		slog.Warn("dense retrieval failed, serving sparse hits only",
			slog.String("error", denseErr.Error()))
	}
	if sparseErr != nil {
		slog.Warn("sparse retrieval failed, serving dense hits only",
			slog.String("error", sparseErr.Error()))
	}

	chunks := make(map[string]store.Chunk, len(denseHits)+len(sparseHits))

	// The dense branch already honored the store-native predicate, so
	// only the client-side remainder applies here.
	denseHits = filterDense(denseHits, client, chunks)

	sparseHits, err := r.resolveSparse(ctx, sparseHits, filter.Merge(native, client), chunks)
	if err != nil {
		if denseErr != nil {
			return nil, ragerr.New(ragerr.ErrCodeSearchFailed,
				"both retrieval branches failed", errors.Join(denseErr, err))
		}
		slog.Warn("sparse hits could not be resolved, serving dense hits only",
			slog.String("error", err.Error()))
		sparseHits = nil
	}

	fused := r.fusion.Fuse(denseHits, sparseHits)
	if len(fused) > k {
		fused = fused[:k]
	}

	results := make([]Result, 0, len(fused))
	for _, fr := range fused {
		chunk, ok := chunks[fr.ChunkID]
		if !ok {
			continue
		}
		results = append(results, Result{
			Chunk:       chunk,
			Score:       fr.RRFScore,
			DenseRank:   fr.DenseRank,
			SparseRank:  fr.SparseRank,
			DenseScore:  fr.DenseScore,
			SparseScore: fr.SparseScore,
			InBothLists: fr.InBothLists,
		})
	}

	results = r.rerank(ctx, query, results, limits.RerankTopK)

	return capDiversity(results, limits.MaxPerPaper, limits.MaxTotal), nil
}

// RetrieveDense runs the dense branch alone, skipping keyword fusion.
// Callers use it when the client opts out of fused retrieval. Results
// carry the cosine similarity as their score.
func (r *Retriever) RetrieveDense(ctx context.Context, query string, k int, where filter.Clause, focused bool) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ragerr.New(ragerr.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	if err := filter.Validate(where); err != nil {
		return nil, err
	}

	limits := LimitsFor(focused, 0)
	if k <= 0 {
		k = limits.RetrievalK
	}

	native, client := filter.Split(where)
	m := r.unfilteredMultiplier
	if client != nil {
		m = r.filteredMultiplier
	}

	hits, err := r.denseSearch(ctx, query, k*m, native)
	if err != nil {
		return nil, err
	}

	chunks := make(map[string]store.Chunk, len(hits))
	hits = filterDense(hits, client, chunks)
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]Result, 0, len(hits))
	for i, hit := range hits {
		results = append(results, Result{
			Chunk:      hit.Chunk,
			Score:      float64(hit.Score),
			DenseRank:  i + 1,
			DenseScore: hit.Score,
		})
	}

	results = r.rerank(ctx, query, results, limits.RerankTopK)

	return capDiversity(results, limits.MaxPerPaper, limits.MaxTotal), nil
}

// denseSearch embeds the query and runs the vector store query with the
// store-native predicate applied.
func (r *Retriever) denseSearch(ctx context.Context, query string, width int, native filter.Clause) ([]store.SearchHit, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeEmbeddingFailed, "query embedding failed", err)
	}
	return r.collection.Query(ctx, vector, width, native)
}

// filterDense applies the client-side predicate to dense hits and
// records every surviving chunk in the lookup map.
func filterDense(hits []store.SearchHit, client filter.Clause, chunks map[string]store.Chunk) []store.SearchHit {
	kept := hits[:0]
	for _, hit := range hits {
		if client != nil && !filter.Matches(client, hit.Chunk.Meta()) {
			continue
		}
		chunks[hit.Chunk.ID] = hit.Chunk
		kept = append(kept, hit)
	}
	return kept
}

// resolveSparse loads the chunks behind BM25 hits, drops ids the store
// no longer knows, and applies the full predicate. The BM25 index keeps
// no metadata, so sparse hits check both predicate halves here.
func (r *Retriever) resolveSparse(ctx context.Context, hits []store.BM25Hit, pred filter.Clause, chunks map[string]store.Chunk) ([]store.BM25Hit, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	found, err := r.collection.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Chunk, len(found))
	for _, chunk := range found {
		byID[chunk.ID] = chunk
	}

	kept := hits[:0]
	for _, hit := range hits {
		chunk, ok := byID[hit.ID]
		if !ok {
			continue
		}
		if pred != nil && !filter.Matches(pred, chunk.Meta()) {
			continue
		}
		chunks[chunk.ID] = chunk
		kept = append(kept, hit)
	}
	return kept, nil
}

// rerank lets the configured reranker reorder the head of the fused list.
// Any failure keeps the fused order.
func (r *Retriever) rerank(ctx context.Context, query string, results []Result, topK int) []Result {
	if len(results) < 2 || !r.reranker.Available(ctx) {
		return results
	}

	n := len(results)
	if topK > 0 && topK < n {
		n = topK
	}
	head := results[:n]

	passages := make([]string, len(head))
	for i, res := range head {
		passages[i] = res.Chunk.Text
	}

	ranked, err := r.reranker.Rerank(ctx, query, passages, 0)
	if err != nil {
		slog.Warn("rerank failed, keeping fused order",
			slog.String("error", err.Error()))
		return results
	}
	if len(ranked) != len(head) {
		slog.Warn("reranker returned wrong result count, keeping fused order",
			slog.Int("want", len(head)),
			slog.Int("got", len(ranked)))
		return results
	}

	reordered := make([]Result, 0, len(results))
	for _, rr := range ranked {
		if rr.Index < 0 || rr.Index >= len(head) {
			slog.Warn("reranker returned out of range index, keeping fused order",
				slog.Int("index", rr.Index))
			return results
		}
		reordered = append(reordered, head[rr.Index])
	}
	return append(reordered, results[n:]...)
}

// paperKey identifies one paper for the diversity caps. Chunks of the
// same work share a title and year even when split across many pages.
type paperKey struct {
	title string
	year  int
}

// capDiversity enforces the per-paper cap and then the total cap,
// preserving order.
func capDiversity(results []Result, maxPerPaper, maxTotal int) []Result {
	counts := make(map[paperKey]int, len(results))
	capped := make([]Result, 0, min(maxTotal, len(results)))
	for _, res := range results {
		key := paperKey{title: res.Chunk.Title, year: res.Chunk.Year}
		if counts[key] >= maxPerPaper {
			continue
		}
		counts[key]++
		capped = append(capped, res)
		if len(capped) >= maxTotal {
			break
		}
	}
	return capped
}
