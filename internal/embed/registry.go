package embed

import (
	"fmt"
	"sort"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// ModelSpec describes a supported embedding model.
type ModelSpec struct {
	// ID is the zoterag-facing model id. It names the vector collection
	// and the BM25 index, so it must stay stable across releases.
	ID string

	// OllamaModel is the tag pulled and served by Ollama.
	OllamaModel string

	// Dimensions is the embedding dimension produced by the model.
	Dimensions int
}

// registry maps model ids to their backend specs. Ids are part of
// on-disk index names; renaming one orphans existing indexes.
var registry = map[string]ModelSpec{
	"bge-base": {
		ID:          "bge-base",
		OllamaModel: "bge-base-en-v1.5",
		Dimensions:  768,
	},
	"bge-m3": {
		ID:          "bge-m3",
		OllamaModel: "bge-m3",
		Dimensions:  1024,
	},
	"nomic-embed": {
		ID:          "nomic-embed",
		OllamaModel: "nomic-embed-text",
		Dimensions:  768,
	},
	"mxbai-large": {
		ID:          "mxbai-large",
		OllamaModel: "mxbai-embed-large",
		Dimensions:  1024,
	},
	"all-minilm": {
		ID:          "all-minilm",
		OllamaModel: "all-minilm",
		Dimensions:  384,
	},
}

// LookupModel resolves a model id to its spec.
func LookupModel(id string) (ModelSpec, error) {
	spec, ok := registry[id]
	if !ok {
		return ModelSpec{}, ragerr.New(ragerr.ErrCodeModelUnknown,
			fmt.Sprintf("unknown embedding model %q", id), nil).
			WithSuggestion(fmt.Sprintf("supported models: %v", ModelIDs()))
	}
	return spec, nil
}

// ModelIDs returns the supported model ids, sorted.
func ModelIDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
