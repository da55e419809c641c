package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Dimensions(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "climate adaptation in coastal cities")
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()

	a, err := e.Embed(context.Background(), "social network analysis")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "social network analysis")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStaticEmbedder_DistinctTextsDiffer(t *testing.T) {
	e := NewStaticEmbedder()

	a, err := e.Embed(context.Background(), "protein folding dynamics")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "medieval trade routes")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestStaticEmbedder_UnitNorm(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "reinforcement learning survey")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedder_EmptyTextZeroVector(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "   \n\t  ")
	require.NoError(t, err)
	require.Len(t, vec, StaticDimensions)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_BatchMatchesSingles(t *testing.T) {
	e := NewStaticEmbedder()

	texts := []string{"first passage", "second passage", ""}
	batch, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_AlwaysAvailable(t *testing.T) {
	e := NewStaticEmbedder()
	assert.True(t, e.Available(context.Background()))
	assert.Equal(t, "static-hash", e.ModelName())
	assert.NoError(t, e.Close())
}
