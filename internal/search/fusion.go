package search

import (
	"math"
	"sort"

	"github.com/zoterag/zoterag/internal/store"
)

// DefaultRRFConstant is the standard RRF k parameter. It dampens the
// influence of top ranks so a single list cannot dominate the fusion.
const DefaultRRFConstant = 60

// FusedResult is one chunk's combined standing across the dense and
// sparse candidate lists.
type FusedResult struct {
	// ChunkID identifies the chunk in the vector store.
	ChunkID string

	// RRFScore is the summed reciprocal rank contribution of every list
	// the chunk appeared in.
	RRFScore float64

	// DenseRank is the position in the dense list (1-indexed, 0 if absent).
	DenseRank int

	// SparseRank is the position in the sparse list (1-indexed, 0 if absent).
	SparseRank int

	// DenseScore is the cosine similarity when the chunk came from the
	// dense list.
	DenseScore float32

	// SparseScore is the BM25 score when the chunk came from the sparse list.
	SparseScore float64

	// InBothLists reports whether dense and sparse retrieval agreed on
	// this chunk.
	InBothLists bool
}

// Fusion merges ranked candidate lists with Reciprocal Rank Fusion.
// RRF works on positions rather than raw scores, so the incompatible
// scales of cosine similarity and BM25 never need reconciling.
type Fusion struct {
	// K is the RRF constant.
	K int
}

// NewFusion returns a Fusion with the standard constant.
func NewFusion() *Fusion {
	return &Fusion{K: DefaultRRFConstant}
}

// NewFusionWithK returns a Fusion with a custom constant. Values <= 0
// fall back to the default.
func NewFusionWithK(k int) *Fusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fusion{K: k}
}

// Fuse combines the dense and sparse lists. Each chunk scores
// sum(1/(K+rank)) over the lists it appears in, with 1-indexed ranks;
// a list that missed the chunk contributes nothing.
func (f *Fusion) Fuse(dense []store.SearchHit, sparse []store.BM25Hit) []*FusedResult {
	if len(dense) == 0 && len(sparse) == 0 {
		return []*FusedResult{}
	}

	fused := make(map[string]*FusedResult, len(dense)+len(sparse))

	for i, hit := range dense {
		r := f.getOrCreate(fused, hit.Chunk.ID)
		r.DenseScore = hit.Score
		r.DenseRank = i + 1
		r.RRFScore += 1.0 / float64(f.K+i+1)
	}

	for i, hit := range sparse {
		r := f.getOrCreate(fused, hit.ID)
		r.SparseScore = hit.Score
		r.SparseRank = i + 1
		r.RRFScore += 1.0 / float64(f.K+i+1)
		if r.DenseRank > 0 {
			r.InBothLists = true
		}
	}

	return f.toSortedSlice(fused)
}

func (f *Fusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

func (f *Fusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.less(results[i], results[j])
	})
	return results
}

// less orders fused results by priority:
//  1. RRF score (descending)
//  2. dense rank (ascending, absent last)
//  3. sparse rank (ascending, absent last)
//  4. chunk ID (ascending) so equal candidates sort deterministically
func (f *Fusion) less(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if ar, br := rankOrder(a.DenseRank), rankOrder(b.DenseRank); ar != br {
		return ar < br
	}
	if ar, br := rankOrder(a.SparseRank), rankOrder(b.SparseRank); ar != br {
		return ar < br
	}
	return a.ChunkID < b.ChunkID
}

// rankOrder maps an absent rank (0) past every real rank so chunks a
// list actually returned win ties against chunks it never saw.
func rankOrder(rank int) int {
	if rank == 0 {
		return math.MaxInt
	}
	return rank
}
