package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps an Embedder with an LRU cache keyed by text and
// model. Repeated queries skip the backend entirely, which matters for
// condensed follow-up questions that often resolve to the same string.
type CachedEmbedder struct {
	backing Embedder
	cache   *lru.Cache[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps backing with a cache of the given size.
// Size <= 0 uses DefaultCacheSize.
func NewCachedEmbedder(backing Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{backing: backing, cache: cache}
}

// key hashes text together with the model name so switching models never
// serves stale vectors.
func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.backing.ModelName()))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector when present, otherwise computes and
// caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if vec, ok := c.cache.Get(k); ok {
		return vec, nil
	}

	vec, err := c.backing.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, vec)
	return vec, nil
}

// EmbedBatch checks the cache per text and embeds only the misses in one
// backend call.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var misses []string
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.key(text)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		misses = append(misses, text)
	}
	if len(misses) == 0 {
		return results, nil
	}

	vecs, err := c.backing.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		results[i] = vecs[j]
		c.cache.Add(c.key(texts[i]), vecs[j])
	}
	return results, nil
}

// Dimensions returns the backing embedder's dimension.
func (c *CachedEmbedder) Dimensions() int {
	return c.backing.Dimensions()
}

// ModelName returns the backing embedder's model identifier.
func (c *CachedEmbedder) ModelName() string {
	return c.backing.ModelName()
}

// Available reports the backing embedder's availability.
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.backing.Available(ctx)
}

// Close closes the backing embedder.
func (c *CachedEmbedder) Close() error {
	return c.backing.Close()
}

// Len returns the number of cached embeddings.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
