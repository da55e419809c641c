package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/filter"
	"github.com/zoterag/zoterag/internal/store"
)

// stubEmbedder returns canned vectors per query text and a fixed
// fallback for anything else.
type stubEmbedder struct {
	dims    int
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	fallback := make([]float32, s.dims)
	fallback[s.dims-1] = 1
	return fallback, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                { return s.dims }
func (s *stubEmbedder) ModelName() string              { return "stub-embedder" }
func (s *stubEmbedder) Available(context.Context) bool { return true }
func (s *stubEmbedder) Close() error                   { return nil }

// failingBM25 errors on every call, standing in for a corrupt or
// unreachable sparse index.
type failingBM25 struct{}

func (failingBM25) Index(context.Context, []store.Document) error { return errors.New("bm25 down") }
func (failingBM25) Search(context.Context, string, int) ([]store.BM25Hit, error) {
	return nil, errors.New("bm25 down")
}
func (failingBM25) Delete(context.Context, []string) error { return errors.New("bm25 down") }
func (failingBM25) Reset(context.Context) error            { return errors.New("bm25 down") }
func (failingBM25) DocCount() (int, error)                 { return 0, errors.New("bm25 down") }
func (failingBM25) Close() error                           { return nil }

// reverseReranker reverses whatever it is given, which makes reordering
// visible in assertions.
type reverseReranker struct {
	available bool
	err       error
}

func (r *reverseReranker) Rerank(_ context.Context, _ string, passages []string, topK int) ([]RerankResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	results := make([]RerankResult, len(passages))
	for i := range passages {
		results[i] = RerankResult{Index: len(passages) - 1 - i, Score: float64(len(passages) - i)}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (r *reverseReranker) Available(context.Context) bool { return r.available }
func (r *reverseReranker) Close() error                   { return nil }

func libraryFixture() ([]store.Chunk, [][]float32) {
	chunks := []store.Chunk{
		{
			ID: "ABCD1234:0", ItemID: "ABCD1234", ChunkIdx: 0, Page: 3,
			PDFPath: "/library/storage/ABCD1234/attention.pdf",
			Text:    "the transformer network architecture relies entirely on attention mechanisms",
			Title:   "Attention Is All You Need",
			Authors: []string{"Ashish Vaswani", "Noam Shazeer"},
			Year:    2017, ItemType: "journalArticle",
			Tags: []string{"transformers", "attention"}, Collections: []string{"Deep Learning"},
		},
		{
			ID: "EFGH5678:0", ItemID: "EFGH5678", ChunkIdx: 0, Page: 12,
			PDFPath: "/library/storage/EFGH5678/pattern-language.pdf",
			Text:    "towns buildings construction and patterns for architecture",
			Title:   "A Pattern Language",
			Authors: []string{"Christopher Alexander"},
			Year:    1977, ItemType: "book",
			Tags: []string{"architecture"}, Collections: []string{"Classics"},
		},
		{
			ID: "IJKL9012:0", ItemID: "IJKL9012", ChunkIdx: 0, Page: 1,
			PDFPath: "/library/storage/IJKL9012/resnet.pdf",
			Text:    "deep residual learning eases training of networks for image recognition",
			Title:   "Deep Residual Learning for Image Recognition",
			Authors: []string{"Kaiming He"},
			Year:    2015, ItemType: "conferencePaper",
			Tags: []string{"vision"}, Collections: []string{"Deep Learning"},
		},
	}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	return chunks, vectors
}

type retrieverFixture struct {
	collection *store.Collection
	bm25       store.BM25Index
	embedder   *stubEmbedder
	retriever  *Retriever
}

func newRetrieverFixture(t *testing.T, chunks []store.Chunk, vectors [][]float32, queryVectors map[string][]float32, opts ...RetrieverOption) *retrieverFixture {
	t.Helper()
	ctx := context.Background()

	collection, err := store.Open(t.TempDir(), "zotero_lib_test", 4)
	require.NoError(t, err)
	t.Cleanup(func() { collection.Close() })

	bm25, err := store.NewSQLiteBM25("")
	require.NoError(t, err)
	t.Cleanup(func() { bm25.Close() })

	require.NoError(t, collection.Add(ctx, chunks, vectors))
	docs := make([]store.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = store.Document{ID: chunk.ID, Text: chunk.Text}
	}
	require.NoError(t, bm25.Index(ctx, docs))

	embedder := &stubEmbedder{dims: 4, vectors: queryVectors}
	retriever, err := NewRetriever(collection, bm25, embedder, opts...)
	require.NoError(t, err)

	return &retrieverFixture{
		collection: collection,
		bm25:       bm25,
		embedder:   embedder,
		retriever:  retriever,
	}
}

func newLibraryRetriever(t *testing.T, queryVectors map[string][]float32, opts ...RetrieverOption) *retrieverFixture {
	t.Helper()
	chunks, vectors := libraryFixture()
	return newRetrieverFixture(t, chunks, vectors, queryVectors, opts...)
}

func resultIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.Chunk.ID
	}
	return ids
}

func TestNewRetriever_RequiresDependencies(t *testing.T) {
	f := newLibraryRetriever(t, nil)

	_, err := NewRetriever(nil, f.bm25, f.embedder)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewRetriever(f.collection, nil, f.embedder)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewRetriever(f.collection, f.bm25, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestRetrieve_EmptyQueryRejected(t *testing.T) {
	f := newLibraryRetriever(t, nil)

	_, err := f.retriever.Retrieve(context.Background(), "   ", 5, nil, false)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeQueryEmpty, ragerr.GetCode(err))
}

func TestRetrieve_InvalidFilterRejected(t *testing.T) {
	f := newLibraryRetriever(t, nil)

	where := filter.Clause{"year": filter.Clause{"$regex": "19.."}}
	_, err := f.retriever.Retrieve(context.Background(), "attention", 5, where, false)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeInvalidFilter, ragerr.GetCode(err))
}

func TestRetrieve_FusesDenseAndSparse(t *testing.T) {
	f := newLibraryRetriever(t, map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	})

	results, err := f.retriever.Retrieve(context.Background(), "attention architecture", 5, nil, false)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// The attention paper tops both branches. The pattern book only
	// matches the sparse branch but still outranks the dense-only
	// residual paper.
	assert.Equal(t, []string{"ABCD1234:0", "EFGH5678:0", "IJKL9012:0"}, resultIDs(results))

	top := results[0]
	assert.True(t, top.InBothLists)
	assert.Equal(t, 1, top.DenseRank)
	assert.Equal(t, 1, top.SparseRank)
	assert.InDelta(t, 2.0/61, top.Score, 1e-12)
	assert.InDelta(t, 1.0, float64(top.DenseScore), 1e-3)
	assert.Greater(t, top.SparseScore, 0.0)
	assert.Equal(t, "Attention Is All You Need", top.Chunk.Title)

	last := results[2]
	assert.False(t, last.InBothLists)
	assert.Equal(t, 0, last.SparseRank)
}

func TestRetrieveDense_SkipsKeywordIndex(t *testing.T) {
	f := newLibraryRetriever(t, map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	})

	// A failing BM25 backend proves the dense path never consults it.
	retriever, err := NewRetriever(f.collection, failingBM25{}, f.embedder)
	require.NoError(t, err)

	results, err := retriever.RetrieveDense(context.Background(), "attention architecture", 5, nil, false)
	require.NoError(t, err)
	require.Len(t, results, 3)

	top := results[0]
	assert.Equal(t, "ABCD1234:0", top.Chunk.ID)
	assert.Equal(t, 1, top.DenseRank)
	assert.Equal(t, 0, top.SparseRank)
	assert.False(t, top.InBothLists)
	assert.InDelta(t, 1.0, top.Score, 1e-3)
}

func TestRetrieveDense_ClientFilterApplies(t *testing.T) {
	f := newLibraryRetriever(t, map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	})

	where := filter.Clause{"authors": filter.Clause{"$contains": "vaswani"}}
	results, err := f.retriever.RetrieveDense(context.Background(), "attention architecture", 5, where, false)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "ABCD1234:0", results[0].Chunk.ID)

	_, err = f.retriever.RetrieveDense(context.Background(), "  ", 5, nil, false)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeQueryEmpty, ragerr.GetCode(err))
}

func TestRetrieve_NativeFilterAppliesToBothBranches(t *testing.T) {
	f := newLibraryRetriever(t, map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	})

	where := filter.Clause{"year": filter.Clause{"$gte": 2000}}
	results, err := f.retriever.Retrieve(context.Background(), "attention architecture", 5, where, false)
	require.NoError(t, err)

	// The 1977 pattern book is a sparse hit but fails the predicate.
	assert.ElementsMatch(t, []string{"ABCD1234:0", "IJKL9012:0"}, resultIDs(results))
	assert.Equal(t, "ABCD1234:0", results[0].Chunk.ID)
}

func TestRetrieve_ClientSideFilterAppliesToBothBranches(t *testing.T) {
	f := newLibraryRetriever(t, map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	})

	where := filter.Clause{"authors": filter.Clause{"$contains": "vaswani"}}
	results, err := f.retriever.Retrieve(context.Background(), "attention architecture", 5, where, false)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "ABCD1234:0", results[0].Chunk.ID)
}

func TestRetrieve_DegradesWhenEmbedderFails(t *testing.T) {
	f := newLibraryRetriever(t, nil)
	f.embedder.err = errors.New("embedding backend unreachable")

	results, err := f.retriever.Retrieve(context.Background(), "attention architecture", 5, nil, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"ABCD1234:0", "EFGH5678:0"}, resultIDs(results))
	assert.Equal(t, 0, results[0].DenseRank)
	assert.Equal(t, 1, results[0].SparseRank)
}

func TestRetrieve_DegradesWhenSparseFails(t *testing.T) {
	f := newLibraryRetriever(t, map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	})
	retriever, err := NewRetriever(f.collection, failingBM25{}, f.embedder)
	require.NoError(t, err)

	results, err := retriever.Retrieve(context.Background(), "attention architecture", 5, nil, false)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "ABCD1234:0", results[0].Chunk.ID)
	assert.Equal(t, 0, results[0].SparseRank)
}

func TestRetrieve_FailsWhenBothBranchesFail(t *testing.T) {
	f := newLibraryRetriever(t, nil)
	f.embedder.err = errors.New("embedding backend unreachable")

	retriever, err := NewRetriever(f.collection, failingBM25{}, f.embedder)
	require.NoError(t, err)

	_, err = retriever.Retrieve(context.Background(), "attention architecture", 5, nil, false)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeSearchFailed, ragerr.GetCode(err))
}

func TestRetrieve_DropsSparseHitsMissingFromStore(t *testing.T) {
	f := newLibraryRetriever(t, nil)

	// A document the BM25 index knows but the vector store does not,
	// as happens when the two drift out of sync mid-reindex.
	require.NoError(t, f.bm25.Index(context.Background(), []store.Document{
		{ID: "ZZZZ9999:0", Text: "airship zeppelin travel history"},
	}))

	results, err := f.retriever.Retrieve(context.Background(), "zeppelin history", 5, nil, false)
	require.NoError(t, err)

	assert.NotContains(t, resultIDs(results), "ZZZZ9999:0")
	assert.Len(t, results, 3)
}

func TestRetrieve_RerankHookReordersHead(t *testing.T) {
	queryVectors := map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	}

	t.Run("available reranker reorders", func(t *testing.T) {
		f := newLibraryRetriever(t, queryVectors, WithReranker(&reverseReranker{available: true}))

		results, err := f.retriever.Retrieve(context.Background(), "attention architecture", 5, nil, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"IJKL9012:0", "EFGH5678:0", "ABCD1234:0"}, resultIDs(results))
	})

	t.Run("unavailable reranker keeps fused order", func(t *testing.T) {
		f := newLibraryRetriever(t, queryVectors, WithReranker(&reverseReranker{available: false}))

		results, err := f.retriever.Retrieve(context.Background(), "attention architecture", 5, nil, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"ABCD1234:0", "EFGH5678:0", "IJKL9012:0"}, resultIDs(results))
	})

	t.Run("rerank error keeps fused order", func(t *testing.T) {
		f := newLibraryRetriever(t, queryVectors,
			WithReranker(&reverseReranker{available: true, err: errors.New("cross encoder gone")}))

		results, err := f.retriever.Retrieve(context.Background(), "attention architecture", 5, nil, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"ABCD1234:0", "EFGH5678:0", "IJKL9012:0"}, resultIDs(results))
	})
}

func TestRetrieve_DiversityCapsPerPaper(t *testing.T) {
	chunks := make([]store.Chunk, 0, 7)
	vectors := make([][]float32, 0, 7)
	for i := 0; i < 5; i++ {
		chunks = append(chunks, store.Chunk{
			ID:       store.ChunkID("MMMM1111", i),
			ItemID:   "MMMM1111",
			ChunkIdx: i,
			Page:     i + 1,
			Text:     "survey section on attention model families",
			Title:    "A Survey of Attention Methods",
			Authors:  []string{"Riya Sharma"},
			Year:     2021,
			ItemType: "journalArticle",
		})
		// Staggered second components keep the dense ranking strict.
		vectors = append(vectors, []float32{1, float32(i) * 0.05, 0, 0})
	}
	library, libVectors := libraryFixture()
	chunks = append(chunks, library[1], library[2])
	vectors = append(vectors, libVectors[1], libVectors[2])

	queryVectors := map[string][]float32{
		"quantum chromodynamics": {1, 0, 0, 0},
	}

	t.Run("broad caps at three per paper", func(t *testing.T) {
		f := newRetrieverFixture(t, chunks, vectors, queryVectors)

		results, err := f.retriever.Retrieve(context.Background(), "quantum chromodynamics", 10, nil, false)
		require.NoError(t, err)

		require.Len(t, results, 5)
		assert.Equal(t, []string{"MMMM1111:0", "MMMM1111:1", "MMMM1111:2"}, resultIDs(results)[:3])
		assert.ElementsMatch(t, []string{"EFGH5678:0", "IJKL9012:0"}, resultIDs(results)[3:])
	})

	t.Run("focused loosens the caps", func(t *testing.T) {
		f := newRetrieverFixture(t, chunks, vectors, queryVectors)

		results, err := f.retriever.Retrieve(context.Background(), "quantum chromodynamics", 0, nil, true)
		require.NoError(t, err)

		require.Len(t, results, 7)
		assert.Equal(t, []string{
			"MMMM1111:0", "MMMM1111:1", "MMMM1111:2", "MMMM1111:3", "MMMM1111:4",
		}, resultIDs(results)[:5])
	})
}

func TestRetrieve_TotalCapTruncates(t *testing.T) {
	chunks := make([]store.Chunk, 0, 8)
	vectors := make([][]float32, 0, 8)
	for i := 0; i < 8; i++ {
		item := fmt.Sprintf("PPPP%04d", i)
		chunks = append(chunks, store.Chunk{
			ID:       store.ChunkID(item, 0),
			ItemID:   item,
			ChunkIdx: 0,
			Page:     1,
			Text:     "working paper chapter text",
			Title:    fmt.Sprintf("Working Paper %d", i),
			Authors:  []string{"Mei Lin"},
			Year:     2010 + i,
			ItemType: "report",
		})
		vectors = append(vectors, []float32{1, float32(i) * 0.05, 0, 0})
	}

	f := newRetrieverFixture(t, chunks, vectors, map[string][]float32{
		"quantum chromodynamics": {1, 0, 0, 0},
	})

	results, err := f.retriever.Retrieve(context.Background(), "quantum chromodynamics", 10, nil, false)
	require.NoError(t, err)

	want := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		want = append(want, store.ChunkID(fmt.Sprintf("PPPP%04d", i), 0))
	}
	assert.Equal(t, want, resultIDs(results))
}

func TestRetrieve_ZeroKUsesDefaultPool(t *testing.T) {
	f := newLibraryRetriever(t, map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	})

	results, err := f.retriever.Retrieve(context.Background(), "attention architecture", 0, nil, false)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "ABCD1234:0", results[0].Chunk.ID)
}

func TestRetrieve_CustomRRFConstant(t *testing.T) {
	f := newLibraryRetriever(t, map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	}, WithRRFConstant(1))

	results, err := f.retriever.Retrieve(context.Background(), "attention architecture", 5, nil, false)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Top of both lists with K=1 scores 1/2 + 1/2.
	assert.InDelta(t, 1.0, results[0].Score, 1e-12)
}

func TestRetrieve_CancelledContext(t *testing.T) {
	f := newLibraryRetriever(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.retriever.Retrieve(ctx, "attention architecture", 5, nil, false)
	assert.ErrorIs(t, err, context.Canceled)
}

// recordingBM25 serves no hits but remembers the requested width.
type recordingBM25 struct {
	failingBM25
	lastLimit int
}

func (r *recordingBM25) Search(_ context.Context, _ string, limit int) ([]store.BM25Hit, error) {
	r.lastLimit = limit
	return nil, nil
}

func TestRetrieve_WidthMultipliersWidenCandidatePools(t *testing.T) {
	f := newLibraryRetriever(t, map[string][]float32{
		"attention architecture": {1, 0, 0, 0},
	})

	rec := &recordingBM25{}
	retriever, err := NewRetriever(f.collection, rec, f.embedder, WithWidthMultipliers(4, 6))
	require.NoError(t, err)

	_, err = retriever.Retrieve(context.Background(), "attention architecture", 5, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 20, rec.lastLimit)

	// A $contains predicate forces client-side filtering, so the wider
	// multiplier applies.
	where := filter.Clause{"tags": filter.Clause{"$contains": "attention"}}
	_, err = retriever.Retrieve(context.Background(), "attention architecture", 5, where, true)
	require.NoError(t, err)
	assert.Equal(t, 30, rec.lastLimit)
}