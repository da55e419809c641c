package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpReranker_PreservesInputOrder(t *testing.T) {
	r := &NoOpReranker{}
	passages := []string{"first passage", "second passage", "third passage"}

	results, err := r.Rerank(context.Background(), "any query", passages, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, i, res.Index)
		if i > 0 {
			assert.Less(t, res.Score, results[i-1].Score)
		}
	}
}

func TestNoOpReranker_TopKTruncates(t *testing.T) {
	r := &NoOpReranker{}
	passages := []string{"a", "b", "c", "d"}

	results, err := r.Rerank(context.Background(), "q", passages, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 1, results[1].Index)

	assert.True(t, r.Available(context.Background()))
	assert.NoError(t, r.Close())
}
