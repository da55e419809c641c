package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

func TestLookupModel_Known(t *testing.T) {
	spec, err := LookupModel("bge-base")
	require.NoError(t, err)
	assert.Equal(t, "bge-base", spec.ID)
	assert.Equal(t, "bge-base-en-v1.5", spec.OllamaModel)
	assert.Equal(t, 768, spec.Dimensions)
}

func TestLookupModel_Unknown(t *testing.T) {
	_, err := LookupModel("word2vec")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeModelUnknown, ragerr.GetCode(err))
}

func TestModelIDs_SortedAndComplete(t *testing.T) {
	ids := ModelIDs()
	assert.IsIncreasing(t, ids)

	for _, id := range ids {
		spec, err := LookupModel(id)
		require.NoError(t, err)
		assert.Equal(t, id, spec.ID)
		assert.NotEmpty(t, spec.OllamaModel)
		assert.Positive(t, spec.Dimensions)
	}
}
