package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

// StaticDimensions is the dimension of hash-based static embeddings.
const StaticDimensions = 256

// StaticEmbedder produces deterministic hash-based embeddings with no
// network or model dependency. Semantic quality is poor; it exists for
// tests and for smoke-running the pipeline without Ollama.
type StaticEmbedder struct{}

var _ Embedder = (*StaticEmbedder)(nil)

// Weights for combining token and trigram features.
const (
	tokenWeight   = 0.7
	trigramWeight = 0.3
)

// englishStopWords are skipped during token hashing. Scholarly prose is
// dominated by these, and hashing them drowns the discriminative terms.
var englishStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "to": true, "for": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"that": true, "this": true, "with": true, "as": true, "by": true,
	"it": true, "its": true, "at": true, "from": true, "which": true,
}

var staticTokenRe = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates a deterministic embedding for text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	vector := make([]float32, StaticDimensions)

	for _, token := range staticTokenRe.FindAllString(strings.ToLower(trimmed), -1) {
		if englishStopWords[token] {
			continue
		}
		vector[hashToIndex(token)] += tokenWeight
	}

	compact := strings.Join(strings.Fields(strings.ToLower(trimmed)), " ")
	for i := 0; i+3 <= len(compact); i++ {
		vector[hashToIndex(compact[i:i+3])] += trigramWeight
	}

	return normalizeVector(vector), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns StaticDimensions.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName identifies the static embedder.
func (e *StaticEmbedder) ModelName() string {
	return "static-hash"
}

// Available always reports true.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	return true
}

// Close is a no-op.
func (e *StaticEmbedder) Close() error {
	return nil
}

func hashToIndex(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % StaticDimensions)
}
