package embed

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Options configures New.
type Options struct {
	// ModelID is the registry id of the embedding model.
	ModelID string

	// OllamaHost is the Ollama server address. Empty uses the default.
	OllamaHost string

	// BatchSize per backend call. Zero uses the default.
	BatchSize int

	// CacheSize is the query embedding cache size. Zero uses the
	// default; negative disables caching.
	CacheSize int
}

// New builds the production embedder stack: Ollama wrapped with an LRU
// cache. ZOTERAG_EMBEDDER=static substitutes the hash embedder, which is
// only useful for smoke runs without an Ollama install.
func New(ctx context.Context, opts Options) (Embedder, error) {
	if strings.EqualFold(os.Getenv("ZOTERAG_EMBEDDER"), "static") {
		slog.Warn("using static hash embeddings; retrieval quality will be poor")
		return NewStaticEmbedder(), nil
	}

	inner, err := NewOllamaEmbedder(ctx, OllamaConfig{
		Host:      opts.OllamaHost,
		ModelID:   opts.ModelID,
		BatchSize: opts.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("embedder ready",
		slog.String("model", inner.ModelName()),
		slog.Int("dimensions", inner.Dimensions()))

	if opts.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, opts.CacheSize), nil
}
