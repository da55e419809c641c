package store

import (
	"fmt"
	"os"
	"path/filepath"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// BM25Backend selects the keyword index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite is the default: FTS5 with WAL mode, readable
	// while indexing writes.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve v2. BoltDB locks the index to a
	// single process.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25Index creates a keyword index under dir. name is the base
// name without extension; the backend appends .db or .bleve.
func NewBM25Index(dir, name string, backend string) (BM25Index, error) {
	base := filepath.Join(dir, name)
	switch BM25Backend(backend) {
	case BM25BackendSQLite, "":
		return NewSQLiteBM25(base + ".db")
	case BM25BackendBleve:
		return NewBleveBM25(base + ".bleve")
	default:
		return nil, ragerr.ConfigError(
			fmt.Sprintf("unknown bm25 backend %q", backend), nil).
			WithSuggestion("set search.bm25_backend to sqlite or bleve")
	}
}

// DetectBM25Backend reports which backend an existing index uses, or
// empty when none exists.
func DetectBM25Backend(dir, name string) BM25Backend {
	base := filepath.Join(dir, name)
	if fileExists(base + ".db") {
		return BM25BackendSQLite
	}
	if info, err := os.Stat(base + ".bleve"); err == nil && info.IsDir() {
		return BM25BackendBleve
	}
	return ""
}
