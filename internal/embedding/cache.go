package embedding

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/dgraph-io/ristretto"
)

// cacheEntry pins the producing fingerprint so a config change can
// never leak vectors across spaces.
type cacheEntry struct {
	fingerprint string
	vec         Vector
}

// Cache holds derived vectors keyed by config fingerprint and
// normalized content. A config change flips every key's fingerprint,
// which invalidates the whole cache at once.
type Cache struct {
	c *ristretto.Cache
}

// NewCache creates a vector cache sized for a personal store.
func NewCache() (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 24, // ~16MB of vectors
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{c: c}, nil
}

// CacheKey hashes the config fingerprint together with the normalized
// content.
func CacheKey(fingerprint, normalized string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return h.Sum64()
}

// Get returns a cached vector. Hits produced under a different
// fingerprint are dropped, never trusted.
func (c *Cache) Get(fingerprint, normalized string) (Vector, bool) {
	key := CacheKey(fingerprint, normalized)
	v, ok := c.c.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := v.(cacheEntry)
	if !ok || entry.fingerprint != fingerprint {
		c.c.Del(key)
		return nil, false
	}
	return entry.vec, true
}

// Put stores a vector under the fingerprint and normalized content.
func (c *Cache) Put(fingerprint, normalized string, vec Vector) {
	c.c.Set(CacheKey(fingerprint, normalized), cacheEntry{
		fingerprint: fingerprint,
		vec:         vec,
	}, int64(len(vec)*4))
}

// Wait blocks until pending writes are visible. Ristretto admits
// asynchronously; tests call this before asserting hits.
func (c *Cache) Wait() { c.c.Wait() }

// Close releases the cache.
func (c *Cache) Close() { c.c.Close() }

// Cached wraps an Embedder with the vector cache. Misses fall through
// to the inner embedder; results are copied so callers cannot mutate
// cached state.
type Cached struct {
	inner Embedder
	cache *Cache
}

// NewCached returns a caching wrapper around inner.
func NewCached(inner Embedder, cache *Cache) *Cached {
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	cfg := c.inner.Config()
	norm := Normalize(text, cfg.MaxContentLength)
	fp := cfg.Fingerprint()

	if vec, ok := c.cache.Get(fp, norm); ok {
		return append(Vector(nil), vec...), nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Put(fp, norm, append(Vector(nil), vec...))
	return vec, nil
}

func (c *Cached) Dims() int { return c.inner.Dims() }

func (c *Cached) Config() Config { return c.inner.Config() }
