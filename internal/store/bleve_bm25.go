package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

const (
	// proseStopName is the registered name of the stop word filter.
	proseStopName = "prose_stop"

	// proseAnalyzerName is the registered name of the text analyzer.
	proseAnalyzerName = "prose_text"
)

func init() {
	_ = registry.RegisterTokenFilter(proseStopName, proseStopConstructor)
}

// BleveBM25 implements BM25Index on Bleve v2. BoltDB holds an
// exclusive lock, so this backend is single-process.
type BleveBM25 struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ BM25Index = (*BleveBM25)(nil)

// bleveChunk is the indexed document shape.
type bleveChunk struct {
	Body string `json:"body"`
}

// NewBleveBM25 opens or creates a Bleve index at path. An empty path
// makes an in-memory index for tests. Corrupted indexes are cleared
// and recreated.
func NewBleveBM25(path string) (*BleveBM25, error) {
	indexMapping, err := proseIndexMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, ragerr.New(ragerr.ErrCodeInternal, fmt.Sprintf("create index dir: %v", mkErr), mkErr)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("bm25 index corrupted, clearing",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, ragerr.New(ragerr.ErrCodeCorruptIndex,
					fmt.Sprintf("bm25 index corrupted and cannot be removed: %v", removeErr), validErr).
					WithDetail("path", path)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruption(err) {
			slog.Warn("bm25 index open failed, clearing",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, ragerr.New(ragerr.ErrCodeCorruptIndex,
					fmt.Sprintf("bm25 index corrupted and cannot be cleared: %v", removeErr), err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("open bleve index: %v", err), err)
	}

	return &BleveBM25{index: idx, path: path}, nil
}

func proseIndexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(proseAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			proseStopName,
		},
	})
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeInternal, fmt.Sprintf("register analyzer: %v", err), err)
	}
	m.DefaultAnalyzer = proseAnalyzerName
	return m, nil
}

// validateBleveIntegrity checks index metadata before opening.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isBleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// Index adds or replaces documents.
func (b *BleveBM25) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ragerr.InternalError("bm25 index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveChunk{Body: doc.Text}); err != nil {
			return ragerr.New(ragerr.ErrCodeIndexFailed,
				fmt.Sprintf("index document %s: %v", doc.ID, err), err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("execute batch: %v", err), err)
	}
	return nil
}

// Search matches query terms against chunk text. Bleve's match query
// defaults to OR across analyzed terms.
func (b *BleveBM25) Search(ctx context.Context, query string, limit int) ([]BM25Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ragerr.InternalError("bm25 index is closed", nil)
	}

	if len(TokenizeQuery(query)) == 0 {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("body")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("bm25 search: %v", err), err)
	}

	hits := make([]BM25Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, BM25Hit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Delete removes documents by ID.
func (b *BleveBM25) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ragerr.InternalError("bm25 index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("delete documents: %v", err), err)
	}
	return nil
}

// Reset drops all documents for a full rebuild.
func (b *BleveBM25) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ragerr.InternalError("bm25 index is closed", nil)
	}

	count, err := b.index.DocCount()
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("count documents: %v", err), err)
	}
	if count == 0 {
		return nil
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	req.Fields = []string{}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("list documents: %v", err), err)
	}

	batch := b.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("reset index: %v", err), err)
	}
	return nil
}

// DocCount returns the number of indexed documents.
func (b *BleveBM25) DocCount() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ragerr.InternalError("bm25 index is closed", nil)
	}

	count, err := b.index.DocCount()
	if err != nil {
		return 0, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("count documents: %v", err), err)
	}
	return int(count), nil
}

// Close closes the index. Idempotent.
func (b *BleveBM25) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// proseStopConstructor builds the stop filter for the analysis chain.
func proseStopConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &proseStopFilter{}, nil
}

type proseStopFilter struct{}

func (f *proseStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if len(term) < minTokenLength {
			continue
		}
		if IsStopWord(term) {
			continue
		}
		result = append(result, token)
	}
	return result
}
