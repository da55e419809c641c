package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// SQLiteBM25 implements BM25Index on SQLite FTS5. WAL mode lets the
// server keep serving searches while an indexing run writes.
type SQLiteBM25 struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ BM25Index = (*SQLiteBM25)(nil)

// NewSQLiteBM25 opens or creates an FTS5 index at path. An empty path
// makes an in-memory index for tests. A corrupted file is cleared and
// recreated; the caller sees a fresh empty index.
func NewSQLiteBM25(path string) (*SQLiteBM25, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeInternal, fmt.Sprintf("create index dir: %v", err), err)
		}

		if validErr := validateFTSIntegrity(path); validErr != nil {
			slog.Warn("bm25 index corrupted, clearing",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, ragerr.New(ragerr.ErrCodeCorruptIndex,
					fmt.Sprintf("bm25 index corrupted and cannot be removed: %v", removeErr), validErr).
					WithDetail("path", path)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("open bm25 index: %v", err), err)
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

	idx := &SQLiteBM25{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// validateFTSIntegrity checks an existing index before opening it.
func validateFTSIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
	                   WHERE type='table' AND name='fts_chunks'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("fts_chunks table missing")
	}
	return nil
}

func (s *SQLiteBM25) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- doc_id is stored but not searchable. Text goes in raw; FTS5
	-- unicode61 handles tokenization.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		doc_id UNINDEXED,
		body,
		tokenize='unicode61'
	);

	-- FTS5 does not expose a reliable row listing, so IDs are tracked
	-- beside it.
	CREATE TABLE IF NOT EXISTS doc_ids (
		doc_id TEXT PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return ragerr.New(ragerr.ErrCodeCorruptIndex, fmt.Sprintf("init bm25 schema: %v", err), err)
	}
	return nil
}

// Index adds or replaces documents. FTS5 has no REPLACE, so existing
// rows are deleted first.
func (s *SQLiteBM25) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ragerr.InternalError("bm25 index is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("begin bm25 insert: %v", err), err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_chunks WHERE doc_id = ?`)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("prepare delete: %v", err), err)
	}
	defer func() { _ = deleteStmt.Close() }()

	insertStmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_chunks(doc_id, body) VALUES (?, ?)`)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("prepare insert: %v", err), err)
	}
	defer func() { _ = insertStmt.Close() }()

	idStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO doc_ids(doc_id) VALUES (?)`)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("prepare id insert: %v", err), err)
	}
	defer func() { _ = idStmt.Close() }()

	for _, doc := range docs {
		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return ragerr.New(ragerr.ErrCodeIndexFailed,
				fmt.Sprintf("delete existing document %s: %v", doc.ID, err), err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, doc.Text); err != nil {
			return ragerr.New(ragerr.ErrCodeIndexFailed,
				fmt.Sprintf("index document %s: %v", doc.ID, err), err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return ragerr.New(ragerr.ErrCodeIndexFailed,
				fmt.Sprintf("track document %s: %v", doc.ID, err), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("commit bm25 insert: %v", err), err)
	}
	return nil
}

// Search tokenizes the query and matches terms with OR. Natural
// language questions carry many terms; requiring all of them would
// return nothing.
func (s *SQLiteBM25) Search(ctx context.Context, query string, limit int) ([]BM25Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ragerr.InternalError("bm25 index is closed", nil)
	}

	tokens := TokenizeQuery(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	match := strings.Join(tokens, " OR ")

	// bm25() returns negative values, best first when ascending.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE body MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("bm25 search: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	var hits []BM25Hit
	for rows.Next() {
		var (
			id    string
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("scan bm25 hit: %v", err), err)
		}
		hits = append(hits, BM25Hit{ID: id, Score: -score})
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("iterate bm25 hits: %v", err), err)
	}
	return hits, nil
}

// Delete removes documents by ID.
func (s *SQLiteBM25) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ragerr.InternalError("bm25 index is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("begin bm25 delete: %v", err), err)
	}
	defer func() { _ = tx.Rollback() }()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	in := placeholders(len(ids))

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM fts_chunks WHERE doc_id IN (%s)", in), args...); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("delete from fts: %v", err), err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM doc_ids WHERE doc_id IN (%s)", in), args...); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("delete from doc_ids: %v", err), err)
	}
	return tx.Commit()
}

// Reset drops all documents for a full rebuild.
func (s *SQLiteBM25) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ragerr.InternalError("bm25 index is closed", nil)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM fts_chunks`); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("reset fts: %v", err), err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM doc_ids`); err != nil {
		return ragerr.New(ragerr.ErrCodeIndexFailed, fmt.Sprintf("reset doc_ids: %v", err), err)
	}
	return nil
}

// DocCount returns the number of indexed documents.
func (s *SQLiteBM25) DocCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ragerr.InternalError("bm25 index is closed", nil)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&n); err != nil {
		return 0, ragerr.New(ragerr.ErrCodeSearchFailed, fmt.Sprintf("count documents: %v", err), err)
	}
	return n, nil
}

// Close checkpoints and closes the index. Idempotent.
func (s *SQLiteBM25) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
