package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/Basilakis/kai-sub003/pkg/types"
	"go.uber.org/zap"
)

// Tier is a shared second-level store consulted after the in-process LRU misses
type Tier interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, embedding []float32) error
}

// EmbeddingCache caches embeddings per (image content, method, dimensions)
type EmbeddingCache struct {
	local  *LRU[string, []float32]
	tier   Tier
	logger *zap.Logger
}

// NewEmbeddingCache creates a cache with an in-process LRU of the given capacity.
// tier may be nil.
func NewEmbeddingCache(capacity int, tier Tier, logger *zap.Logger) *EmbeddingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingCache{
		local:  NewLRU[string, []float32](capacity),
		tier:   tier,
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
}

// Get looks up an embedding. Tier errors are logged and reported as misses.
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if emb, ok := c.local.Get(key); ok {
		return cloneVector(emb), true
	}
	if c.tier == nil {
		return nil, false
	}

	emb, ok, err := c.tier.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	c.local.Put(key, cloneVector(emb))
	return emb, true
}

// Put stores a copy of the embedding in every tier
func (c *EmbeddingCache) Put(ctx context.Context, key string, embedding []float32) {
	c.local.Put(key, cloneVector(embedding))
	if c.tier == nil {
		return
	}
	if err := c.tier.Put(ctx, key, embedding); err != nil {
		c.logger.Warn("shared cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Stats returns local cache statistics
func (c *EmbeddingCache) Stats() (hits, misses int64, hitRate float64) {
	hits, misses = c.local.Stats()
	return hits, misses, c.local.HitRate()
}

// Key derives the cache key for an image rendered by a method at a dimensionality
func Key(img *types.Image, method types.EmbeddingMethod, dims int) string {
	h := sha256.New()
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(img.Width))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(img.Height))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(img.Channels))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(dims))
	h.Write(hdr[:])
	h.Write([]byte(method))
	h.Write(img.Pix)
	sum := h.Sum(nil)
	return string(method) + ":" + hex.EncodeToString(sum[:16])
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
