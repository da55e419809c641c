// Package store persists the search index: an HNSW vector collection
// with a SQLite chunk table beside it, and a BM25 keyword index with
// two interchangeable backends (SQLite FTS5, Bleve).
//
// Index files are named after the embedding model that produced them,
// so switching models never mixes incompatible vectors:
//
//	zotero_lib_<model>.hnsw       vector graph
//	zotero_lib_<model>.hnsw.meta  id mappings (gob)
//	zotero_lib_<model>.db         chunk rows + metadata JSON
//	bm25_index_<model>.db|.bleve  keyword index
package store

import (
	"context"
	"fmt"
)

// Naming prefixes for on-disk index files.
const (
	collectionPrefix = "zotero_lib_"
	bm25Prefix       = "bm25_index_"
)

// CollectionName returns the vector collection name for a model.
func CollectionName(modelID string) string {
	return collectionPrefix + modelID
}

// BM25Name returns the BM25 index base name for a model.
func BM25Name(modelID string) string {
	return bm25Prefix + modelID
}

// Chunk is one retrievable passage of a PDF, bound to the page it came
// from. The ID is "<item key>:<chunk index>".
type Chunk struct {
	ID       string
	ItemID   string
	ChunkIdx int

	// Page is the 1-based PDF page the chunk starts on.
	Page int

	PDFPath string
	Text    string

	Title       string
	Authors     []string
	Year        int // -1 when unknown
	ItemType    string
	Tags        []string
	Collections []string
}

// ChunkID builds the canonical chunk identifier.
func ChunkID(itemID string, idx int) string {
	return fmt.Sprintf("%s:%d", itemID, idx)
}

// Meta renders the chunk's metadata in the shape stored beside the
// vector and consumed by filter evaluation.
func (c Chunk) Meta() map[string]any {
	return map[string]any{
		"item_id":     c.ItemID,
		"chunk_idx":   c.ChunkIdx,
		"page":        c.Page,
		"pdf_path":    c.PDFPath,
		"title":       c.Title,
		"authors":     toAnySlice(c.Authors),
		"year":        c.Year,
		"item_type":   c.ItemType,
		"tags":        toAnySlice(c.Tags),
		"collections": toAnySlice(c.Collections),
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// SearchHit is a chunk returned from a vector query with its cosine
// similarity score.
type SearchHit struct {
	Chunk Chunk
	Score float32
}

// Document is a unit of text handed to the BM25 index.
type Document struct {
	ID   string
	Text string
}

// BM25Hit is one keyword search result.
type BM25Hit struct {
	ID    string
	Score float64
}

// BM25Index is keyword search over chunk text. Both backends score
// with BM25 and return higher-is-better scores.
type BM25Index interface {
	// Index adds or replaces documents.
	Index(ctx context.Context, docs []Document) error

	// Search returns up to limit hits for the query, best first. An
	// empty or all-stopword query returns no hits.
	Search(ctx context.Context, query string, limit int) ([]BM25Hit, error)

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Reset drops every document, for full rebuilds.
	Reset(ctx context.Context) error

	// DocCount returns the number of indexed documents.
	DocCount() (int, error)

	Close() error
}
