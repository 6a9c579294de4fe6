package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when EMBED_CACHE_SIZE is unset or invalid.
const DefaultCacheSize = 512

// CachedBackend wraps another Backend with a bounded LRU cache keyed on the
// exact input text, so repeated intelligent_route calls with the same
// request string within a short window skip re-embedding.
type CachedBackend struct {
	inner Backend
	cache *lru.Cache[string, []float32]
}

// NewCachedBackend wraps inner with an LRU cache holding up to size entries.
func NewCachedBackend(inner Backend, size int) (*CachedBackend, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedBackend{inner: inner, cache: cache}, nil
}

func (c *CachedBackend) Dimension() int { return c.inner.Dimension() }

// EmbedBatch serves cache hits directly and delegates the remainder (in a
// single call, preserving the inner backend's atomicity contract) to inner.
func (c *CachedBackend) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := validateInputs(inputs); err != nil {
		return nil, err
	}

	result := make([][]float32, len(inputs))
	missIdx := make([]int, 0, len(inputs))
	missText := make([]string, 0, len(inputs))

	for i, text := range inputs {
		if v, ok := c.cache.Get(text); ok {
			result[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, text)
	}

	if len(missText) > 0 {
		vectors, err := c.inner.EmbedBatch(ctx, missText)
		if err != nil {
			return nil, err
		}
		for j, idx := range missIdx {
			result[idx] = vectors[j]
			c.cache.Add(missText[j], vectors[j])
		}
	}

	return result, nil
}
