// Package embed generates vector embeddings for library text.
//
// The production path talks to an Ollama server. A deterministic static
// embedder exists for tests and offline smoke runs. Query embeddings are
// cached with an LRU so repeated questions skip the backend.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts embedded per backend call.
	DefaultBatchSize = 16

	// MaxBatchSize caps batch size to bound request memory.
	MaxBatchSize = 256

	// MaxInputChars is the truncation limit applied to each text before
	// embedding. Embedding models see a few hundred tokens at most, so
	// longer chunk tails add latency without adding signal.
	MaxInputChars = 2000

	// WarmTimeout applies when the model served a request recently.
	WarmTimeout = 60 * time.Second

	// ColdTimeout applies on first use or after the model likely
	// unloaded. Ollama drops idle models after about five minutes, and
	// reloading a large model can take most of a minute.
	ColdTimeout = 180 * time.Second

	// modelUnloadThreshold is the idle period after which the model is
	// assumed cold.
	modelUnloadThreshold = 5 * time.Minute

	// DefaultCacheSize is the number of query embeddings kept in memory.
	DefaultCacheSize = 1000
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, one vector
	// per input in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the backend model identifier.
	ModelName() string

	// Available reports whether the backend is reachable and the model
	// is present.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// truncate limits text to MaxInputChars runes.
func truncate(text string) string {
	if len(text) <= MaxInputChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= MaxInputChars {
		return text
	}
	return string(runes[:MaxInputChars])
}

// normalizeVector scales v to unit length. Zero vectors pass through.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
