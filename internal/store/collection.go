package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	_ "modernc.org/sqlite"

	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/filter"
)

const (
	hnswM        = 16
	hnswEfSearch = 64

	// When a native filter is active the graph is oversampled so
	// enough allowed IDs survive. A second pass widens to the whole
	// graph if the first comes up short.
	filterOversample = 8
)

// Collection stores chunk vectors in an HNSW graph and chunk rows with
// their metadata JSON in SQLite next to it. Vectors and rows share the
// chunk ID.
type Collection struct {
	mu      sync.RWMutex
	name    string
	dir     string
	dims    int
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	db      *sql.DB
	closed  bool

	verMu     sync.Mutex
	cachedVer *MetadataVersion
}

// collectionMeta is the gob sidecar holding ID mappings.
type collectionMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
}

// Open opens or creates the collection named name under dir. dims must
// match the embedding model; opening an existing collection built with
// different dimensions fails.
func Open(dir, name string, dims int) (*Collection, error) {
	if dims <= 0 {
		return nil, ragerr.ValidationError(fmt.Sprintf("invalid dimensions %d", dims), nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeInternal, fmt.Sprintf("create index dir: %v", err), err)
	}

	c := &Collection{
		name:    name,
		dir:     dir,
		dims:    dims,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		nextKey: 0,
	}
	c.graph = newGraph()

	if existing, err := readCollectionDims(c.graphPath()); err != nil {
		return nil, err
	} else if existing > 0 && existing != dims {
		return nil, ragerr.New(ragerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("collection %s was built with %d dimensions, embedder produces %d", name, existing, dims), nil).
			WithSuggestion("run a full reindex after changing the embedding model")
	}

	if fileExists(c.graphPath()) {
		if err := c.loadGraph(); err != nil {
			return nil, err
		}
	}

	db, err := openChunkDB(c.dbPath())
	if err != nil {
		return nil, err
	}
	c.db = db

	return c, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = hnswM
	g.EfSearch = hnswEfSearch
	g.Ml = 0.25
	return g
}

func openChunkDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("open chunk db: %v", err), err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("set pragma: %v", err), err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id        TEXT PRIMARY KEY,
		item_id   TEXT NOT NULL,
		chunk_idx INTEGER NOT NULL,
		text      TEXT NOT NULL,
		meta      TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_item ON chunks(item_id);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("init chunk schema: %v", err), err)
	}
	return db, nil
}

func (c *Collection) graphPath() string { return filepath.Join(c.dir, c.name+".hnsw") }
func (c *Collection) dbPath() string    { return filepath.Join(c.dir, c.name+".db") }

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Dimensions returns the vector width the collection was opened with.
func (c *Collection) Dimensions() int { return c.dims }

// Add inserts chunks with their vectors, replacing any existing chunk
// with the same ID. Replaced vectors are lazily deleted; the old graph
// node is orphaned rather than removed.
func (c *Collection) Add(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return ragerr.ValidationError(
			fmt.Sprintf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors)), nil)
	}
	for _, v := range vectors {
		if len(v) != c.dims {
			return dimensionErr(c.dims, len(v))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ragerr.InternalError("collection is closed", nil)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("begin insert: %v", err), err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, item_id, chunk_idx, text, meta)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("prepare insert: %v", err), err)
	}
	defer func() { _ = stmt.Close() }()

	for i, chunk := range chunks {
		meta, err := json.Marshal(chunk.Meta())
		if err != nil {
			return ragerr.New(ragerr.ErrCodeIndexFailed,
				fmt.Sprintf("encode metadata for %s: %v", chunk.ID, err), err)
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.ItemID, chunk.ChunkIdx, chunk.Text, string(meta)); err != nil {
			return ragerr.New(ragerr.ErrCodeIndexFailed,
				fmt.Sprintf("insert chunk %s: %v", chunk.ID, err), err)
		}

		if oldKey, exists := c.idMap[chunk.ID]; exists {
			delete(c.keyMap, oldKey)
			delete(c.idMap, chunk.ID)
		}
		key := c.nextKey
		c.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)
		c.graph.Add(hnsw.MakeNode(key, vec))

		c.idMap[chunk.ID] = key
		c.keyMap[key] = chunk.ID
	}

	if err := tx.Commit(); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("commit insert: %v", err), err)
	}
	c.invalidateVersion()
	return nil
}

// Query runs a nearest-neighbour search and returns up to k hydrated
// chunks, best first. A non-nil where clause must be store-native; it
// restricts results to matching chunk rows.
func (c *Collection) Query(ctx context.Context, vector []float32, k int, where filter.Clause) ([]SearchHit, error) {
	if len(vector) != c.dims {
		return nil, dimensionErr(c.dims, len(vector))
	}
	if k <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ragerr.InternalError("collection is closed", nil)
	}
	if c.graph.Len() == 0 {
		return nil, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	var allowed map[string]bool
	if len(where) > 0 {
		var err error
		allowed, err = c.allowedIDs(ctx, where)
		if err != nil {
			return nil, err
		}
		if len(allowed) == 0 {
			return nil, nil
		}
	}

	ids, scores := c.searchGraph(query, k, allowed)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := c.fetchChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(ids))
	for i, id := range ids {
		chunk, ok := rows[id]
		if !ok {
			slog.Debug("vector without chunk row", slog.String("id", id))
			continue
		}
		hits = append(hits, SearchHit{Chunk: chunk, Score: scores[i]})
	}
	return hits, nil
}

// searchGraph returns up to k allowed IDs in ranked order. With a
// filter it oversamples, then widens to the full graph once if the
// first pass underfills.
func (c *Collection) searchGraph(query []float32, k int, allowed map[string]bool) ([]string, []float32) {
	searchK := k
	if allowed != nil {
		searchK = min(c.graph.Len(), k*filterOversample)
	}

	for {
		nodes := c.graph.Search(query, searchK)

		ids := make([]string, 0, k)
		scores := make([]float32, 0, k)
		for _, node := range nodes {
			id, ok := c.keyMap[node.Key]
			if !ok {
				// Lazily deleted node.
				continue
			}
			if allowed != nil && !allowed[id] {
				continue
			}
			dist := c.graph.Distance(query, node.Value)
			ids = append(ids, id)
			scores = append(scores, 1.0-dist/2.0)
			if len(ids) == k {
				return ids, scores
			}
		}

		if searchK >= c.graph.Len() {
			return ids, scores
		}
		searchK = c.graph.Len()
	}
}

func (c *Collection) allowedIDs(ctx context.Context, where filter.Clause) (map[string]bool, error) {
	frag, args, err := compileWhere(where)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, "SELECT id FROM chunks WHERE "+frag, args...)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("filter query: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	allowed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan filter id: %v", err), err)
		}
		allowed[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("iterate filter ids: %v", err), err)
	}
	return allowed, nil
}

// Get hydrates chunks by ID, preserving input order. Unknown IDs are
// skipped.
func (c *Collection) Get(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ragerr.InternalError("collection is closed", nil)
	}

	rows, err := c.fetchChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := rows[id]; ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func (c *Collection) fetchChunks(ctx context.Context, ids []string) (map[string]Chunk, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(
		"SELECT id, item_id, chunk_idx, text, meta FROM chunks WHERE id IN (%s)",
		strings.Join(placeholders, ","))
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("fetch chunks: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("iterate chunks: %v", err), err)
	}
	return out, nil
}

func scanChunk(rows *sql.Rows) (Chunk, error) {
	var (
		chunk   Chunk
		rawMeta string
	)
	if err := rows.Scan(&chunk.ID, &chunk.ItemID, &chunk.ChunkIdx, &chunk.Text, &rawMeta); err != nil {
		return Chunk{}, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan chunk: %v", err), err)
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		return Chunk{}, ragerr.New(ragerr.ErrCodeCorruptIndex,
			fmt.Sprintf("decode metadata for %s: %v", chunk.ID, err), err)
	}
	applyMeta(&chunk, meta)
	return chunk, nil
}

// applyMeta fills typed chunk fields from a metadata map. Tolerant of
// older shapes: a missing or string year becomes -1.
func applyMeta(chunk *Chunk, meta map[string]any) {
	chunk.Page = metaInt(meta, "page", 0)
	chunk.PDFPath = metaString(meta, "pdf_path")
	chunk.Title = metaString(meta, "title")
	chunk.Authors = metaStrings(meta, "authors")
	chunk.Year = metaInt(meta, "year", -1)
	chunk.ItemType = metaString(meta, "item_type")
	chunk.Tags = metaStrings(meta, "tags")
	chunk.Collections = metaStrings(meta, "collections")
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func metaInt(meta map[string]any, key string, fallback int) int {
	switch n := meta[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return fallback
}

func metaStrings(meta map[string]any, key string) []string {
	list, ok := meta[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// HasItem reports whether any chunk of the item is indexed.
func (c *Collection) HasItem(ctx context.Context, itemID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false, ragerr.InternalError("collection is closed", nil)
	}

	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE item_id = ? LIMIT 1`, itemID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("check item: %v", err), err)
	}
	return true, nil
}

// DeleteItem removes all chunks of an item from rows and vectors.
func (c *Collection) DeleteItem(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ragerr.InternalError("collection is closed", nil)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT id FROM chunks WHERE item_id = ?`, itemID)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("list item chunks: %v", err), err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("scan chunk id: %v", err), err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("iterate chunk ids: %v", err), err)
	}
	_ = rows.Close()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE item_id = ?`, itemID); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("delete item chunks: %v", err), err)
	}

	for _, id := range ids {
		if key, exists := c.idMap[id]; exists {
			delete(c.keyMap, key)
			delete(c.idMap, id)
		}
	}
	c.invalidateVersion()
	return nil
}

// Clear removes every chunk row and vector, leaving an empty
// collection ready for a full rebuild.
func (c *Collection) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ragerr.InternalError("collection is closed", nil)
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("clear chunks: %v", err), err)
	}

	c.graph = newGraph()
	c.idMap = make(map[string]uint64)
	c.keyMap = make(map[uint64]string)
	c.nextKey = 0
	c.invalidateVersion()
	return nil
}

// Count returns the number of chunks.
func (c *Collection) Count(ctx context.Context) (int, error) {
	return c.countQuery(ctx, `SELECT COUNT(*) FROM chunks`)
}

// ItemCount returns the number of distinct indexed items.
func (c *Collection) ItemCount(ctx context.Context) (int, error) {
	return c.countQuery(ctx, `SELECT COUNT(DISTINCT item_id) FROM chunks`)
}

func (c *Collection) countQuery(ctx context.Context, query string, args ...any) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, ragerr.InternalError("collection is closed", nil)
	}

	var n int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("count chunks: %v", err), err)
	}
	return n, nil
}

// AllItemIDs returns every indexed item key, sorted.
func (c *Collection) AllItemIDs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ragerr.InternalError("collection is closed", nil)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT item_id FROM chunks ORDER BY item_id`)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("list items: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan item id: %v", err), err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Documents returns every chunk as a BM25 document in insertion order,
// for keyword index rebuilds.
func (c *Collection) Documents(ctx context.Context) ([]Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ragerr.InternalError("collection is closed", nil)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT id, text FROM chunks ORDER BY rowid`)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("list documents: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Text); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan document: %v", err), err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountWhere counts chunks matching a full predicate. The native part
// runs in SQL; any client-side remainder is evaluated per row.
func (c *Collection) CountWhere(ctx context.Context, where filter.Clause) (int, error) {
	if len(where) == 0 {
		return c.Count(ctx)
	}

	native, client := filter.Split(where)

	frag, args := "1=1", []any(nil)
	if len(native) > 0 {
		var err error
		frag, args, err = compileWhere(native)
		if err != nil {
			return 0, err
		}
	}

	if len(client) == 0 {
		return c.countQuery(ctx, "SELECT COUNT(*) FROM chunks WHERE "+frag, args...)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0, ragerr.InternalError("collection is closed", nil)
	}

	rows, err := c.db.QueryContext(ctx, "SELECT meta FROM chunks WHERE "+frag, args...)
	if err != nil {
		return 0, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("filtered count: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	count := 0
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return 0, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan meta: %v", err), err)
		}
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			continue
		}
		if filter.Matches(client, meta) {
			count++
		}
	}
	return count, rows.Err()
}

// FilterCounts reports how much of the indexed library a predicate
// reaches, for previewing a filter before searching with it.
type FilterCounts struct {
	UniqueItems int `json:"unique_items"`
	TotalChunks int `json:"total_chunks"`
}

// CountsWhere counts matching chunks and the distinct items they
// belong to. The native part of the predicate runs in SQL; any
// client-side remainder is evaluated per row. An empty predicate
// counts the whole collection.
func (c *Collection) CountsWhere(ctx context.Context, where filter.Clause) (FilterCounts, error) {
	native, client := filter.Split(where)

	frag, args := "1=1", []any(nil)
	if len(native) > 0 {
		var err error
		frag, args, err = compileWhere(native)
		if err != nil {
			return FilterCounts{}, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return FilterCounts{}, ragerr.InternalError("collection is closed", nil)
	}

	if len(client) == 0 {
		var counts FilterCounts
		row := c.db.QueryRowContext(ctx,
			"SELECT COUNT(*), COUNT(DISTINCT item_id) FROM chunks WHERE "+frag, args...)
		if err := row.Scan(&counts.TotalChunks, &counts.UniqueItems); err != nil {
			return FilterCounts{}, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("filtered count: %v", err), err)
		}
		return counts, nil
	}

	rows, err := c.db.QueryContext(ctx, "SELECT item_id, meta FROM chunks WHERE "+frag, args...)
	if err != nil {
		return FilterCounts{}, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("filtered count: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	var counts FilterCounts
	items := make(map[string]bool)
	for rows.Next() {
		var itemID, raw string
		if err := rows.Scan(&itemID, &raw); err != nil {
			return FilterCounts{}, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan chunk: %v", err), err)
		}
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			continue
		}
		if filter.Matches(client, meta) {
			counts.TotalChunks++
			items[itemID] = true
		}
	}
	counts.UniqueItems = len(items)
	return counts, rows.Err()
}

// SampleMetas returns up to n metadata maps in insertion order, for
// version detection.
func (c *Collection) SampleMetas(ctx context.Context, n int) ([]map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ragerr.InternalError("collection is closed", nil)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT meta FROM chunks ORDER BY rowid LIMIT ?`, n)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("sample metadata: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	var metas []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan meta: %v", err), err)
		}
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("decode metadata: %v", err), err)
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// MetaRow is one chunk's metadata with its scan cursor, for batched
// migration.
type MetaRow struct {
	RowID    int64
	ID       string
	ItemID   string
	ChunkIdx int
	Meta     map[string]any
}

// ScanMetas pages through chunk metadata by rowid. Pass the last RowID
// of the previous batch, or 0 to start.
func (c *Collection) ScanMetas(ctx context.Context, afterRow int64, limit int) ([]MetaRow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ragerr.InternalError("collection is closed", nil)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT rowid, id, item_id, chunk_idx, meta FROM chunks
		WHERE rowid > ? ORDER BY rowid LIMIT ?`, afterRow, limit)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan metadata: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	var out []MetaRow
	for rows.Next() {
		var (
			row MetaRow
			raw string
		)
		if err := rows.Scan(&row.RowID, &row.ID, &row.ItemID, &row.ChunkIdx, &raw); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan meta row: %v", err), err)
		}
		if err := json.Unmarshal([]byte(raw), &row.Meta); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeCorruptIndex,
				fmt.Sprintf("decode metadata for %s: %v", row.ID, err), err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpdateMetas rewrites metadata JSON for the given chunk IDs in one
// transaction. ids and metas run in parallel.
func (c *Collection) UpdateMetas(ctx context.Context, ids []string, metas []map[string]any) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(metas) {
		return ragerr.ValidationError(
			fmt.Sprintf("ids and metas length mismatch: %d vs %d", len(ids), len(metas)), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ragerr.InternalError("collection is closed", nil)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeMigrationFailed, fmt.Sprintf("begin update: %v", err), err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET meta = ? WHERE id = ?`)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeMigrationFailed, fmt.Sprintf("prepare update: %v", err), err)
	}
	defer func() { _ = stmt.Close() }()

	for i, id := range ids {
		raw, err := json.Marshal(metas[i])
		if err != nil {
			return ragerr.New(ragerr.ErrCodeMigrationFailed,
				fmt.Sprintf("encode metadata for %s: %v", id, err), err)
		}
		if _, err := stmt.ExecContext(ctx, string(raw), id); err != nil {
			return ragerr.New(ragerr.ErrCodeMigrationFailed,
				fmt.Sprintf("update metadata for %s: %v", id, err), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ragerr.New(ragerr.ErrCodeMigrationFailed, fmt.Sprintf("commit update: %v", err), err)
	}
	c.invalidateVersion()
	return nil
}

// Save persists the graph and ID mappings atomically and checkpoints
// the chunk database.
func (c *Collection) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ragerr.InternalError("collection is closed", nil)
	}

	tmpPath := c.graphPath() + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("create graph file: %v", err), err)
	}
	if err := c.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("export graph: %v", err), err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("close graph file: %v", err), err)
	}
	if err := os.Rename(tmpPath, c.graphPath()); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("rename graph file: %v", err), err)
	}

	if err := c.saveMeta(); err != nil {
		return err
	}

	_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return nil
}

func (c *Collection) saveMeta() error {
	metaPath := c.graphPath() + ".meta"
	tmpPath := metaPath + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("create meta file: %v", err), err)
	}
	meta := collectionMeta{IDMap: c.idMap, NextKey: c.nextKey, Dims: c.dims}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("encode meta: %v", err), err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("close meta file: %v", err), err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("rename meta file: %v", err), err)
	}
	return nil
}

func (c *Collection) loadGraph() error {
	metaPath := c.graphPath() + ".meta"
	metaFile, err := os.Open(metaPath)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("open meta file: %v", err), err).
			WithSuggestion("run a full reindex to rebuild the collection")
	}
	var meta collectionMeta
	decodeErr := gob.NewDecoder(metaFile).Decode(&meta)
	_ = metaFile.Close()
	if decodeErr != nil {
		return ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("decode meta: %v", decodeErr), decodeErr).
			WithSuggestion("run a full reindex to rebuild the collection")
	}

	c.idMap = meta.IDMap
	c.nextKey = meta.NextKey
	c.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		c.keyMap[key] = id
	}

	file, err := os.Open(c.graphPath())
	if err != nil {
		return ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("open graph file: %v", err), err)
	}
	defer func() { _ = file.Close() }()

	// Import needs an io.ByteReader.
	if err := c.graph.Import(bufio.NewReader(file)); err != nil {
		return ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("import graph: %v", err), err).
			WithSuggestion("run a full reindex to rebuild the collection")
	}
	return nil
}

// Close checkpoints and releases the collection. Idempotent.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.graph = nil

	if c.db != nil {
		_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return c.db.Close()
	}
	return nil
}

func (c *Collection) invalidateVersion() {
	c.verMu.Lock()
	c.cachedVer = nil
	c.verMu.Unlock()
}

// readCollectionDims reads the dimensions recorded in an existing meta
// sidecar. Zero when none exists yet.
func readCollectionDims(graphPath string) (int, error) {
	file, err := os.Open(graphPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("open meta file: %v", err), err)
	}
	defer func() { _ = file.Close() }()

	var meta collectionMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("decode meta: %v", err), err).
			WithSuggestion("run a full reindex to rebuild the collection")
	}
	return meta.Dims, nil
}

func dimensionErr(expected, got int) error {
	return ragerr.New(ragerr.ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil).
		WithSuggestion("run a full reindex after changing the embedding model")
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
