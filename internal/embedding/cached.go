package embedding

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 1000

// Cached wraps an Embedder with an LRU cache keyed by the exact text.
type Cached struct {
	inner  Embedder
	cache  *lru.Cache[string, Vector]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps inner. size <= 0 selects the default of 1000 entries.
func NewCached(inner Embedder, size int) (*Cached, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, Vector](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

func (c *Cached) Dims() int { return c.inner.Dims() }

// Stats returns cache hit and miss counts.
func (c *Cached) Stats() (hits, misses int64) { return c.hits.Load(), c.misses.Load() }
