package adapter

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
)

// CachedEmbedder memoizes embeddings per input text so repeated facts in a
// session do not re-call the provider. The cache is cost-bounded by vector
// size in bytes.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps an embedder with a ristretto cache
func NewCachedEmbedder(inner Embedder) (*CachedEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// Wait blocks until buffered cache writes are applied
func (e *CachedEmbedder) Wait() { e.cache.Wait() }

// Close releases the cache's internal goroutines
func (e *CachedEmbedder) Close() { e.cache.Close() }
