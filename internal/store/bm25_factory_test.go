package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

func TestNewBM25Index_SelectsBackend(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewBM25Index(dir, "bm25_index_test", "sqlite")
	require.NoError(t, err)
	_, ok := idx.(*SQLiteBM25)
	assert.True(t, ok)
	require.NoError(t, idx.Close())

	idx, err = NewBM25Index(t.TempDir(), "bm25_index_test", "bleve")
	require.NoError(t, err)
	_, ok = idx.(*BleveBM25)
	assert.True(t, ok)
	require.NoError(t, idx.Close())
}

func TestNewBM25Index_EmptyBackendDefaultsToSQLite(t *testing.T) {
	idx, err := NewBM25Index(t.TempDir(), "bm25_index_test", "")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	_, ok := idx.(*SQLiteBM25)
	assert.True(t, ok)
}

func TestNewBM25Index_UnknownBackend(t *testing.T) {
	_, err := NewBM25Index(t.TempDir(), "bm25_index_test", "tantivy")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeConfigInvalid, ragerr.GetCode(err))
}

func TestDetectBM25Backend(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, BM25Backend(""), DetectBM25Backend(dir, "bm25_index_test"))

	idx, err := NewBM25Index(dir, "bm25_index_test", "sqlite")
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), paperDocs()))
	require.NoError(t, idx.Close())
	assert.Equal(t, BM25BackendSQLite, DetectBM25Backend(dir, "bm25_index_test"))

	bleveDir := t.TempDir()
	idx, err = NewBM25Index(bleveDir, "bm25_index_test", "bleve")
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	assert.Equal(t, BM25BackendBleve, DetectBM25Backend(bleveDir, "bm25_index_test"))
}
