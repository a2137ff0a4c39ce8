package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/Basilakis/kai-sub003/internal/cache"
	"github.com/Basilakis/kai-sub003/internal/imageio"
	"github.com/Basilakis/kai-sub003/internal/simd"
	"github.com/Basilakis/kai-sub003/pkg/types"
)

const (
	hybridSeed = 1337

	hybridFeatureWeight = 0.4
	hybridMLWeight      = 0.6

	// weights of the full and half resolution descriptors when no ML backend exists
	hybridFineWeight   = 0.6
	hybridCoarseWeight = 0.4
)

// HybridGenerator fuses the handcrafted descriptor with the ML embedding when one
// is available, and with a half-resolution descriptor otherwise.
type HybridGenerator struct {
	ml    Generator
	dims  int
	cache *cache.EmbeddingCache

	mu    sync.Mutex
	projs map[int]*simd.Projection
}

// NewHybridGenerator creates a hybrid generator. ml and c may be nil.
func NewHybridGenerator(dims int, ml Generator, c *cache.EmbeddingCache) *HybridGenerator {
	return &HybridGenerator{
		ml:    ml,
		dims:  dims,
		cache: c,
		projs: make(map[int]*simd.Projection),
	}
}

// Method returns hybrid
func (g *HybridGenerator) Method() types.EmbeddingMethod {
	return types.MethodHybrid
}

// Generate returns the fused, unit-length embedding of img.
// An ML backend failure is returned as an error.
func (g *HybridGenerator) Generate(ctx context.Context, img *types.Image) ([]float32, error) {
	if !img.Valid() {
		return nil, types.ErrEmptyImage
	}

	var key string
	if g.cache != nil {
		key = cache.Key(img, types.MethodHybrid, g.dims)
		if emb, ok := g.cache.Get(ctx, key); ok {
			return emb, nil
		}
	}

	fine := simd.Normalized(Descriptor(img))

	var combined []float32
	if g.ml != nil {
		mlEmb, err := g.ml.Generate(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("hybrid ml component failed: %w", err)
		}
		combined = concatWeighted(fine, hybridFeatureWeight, simd.Normalized(mlEmb), hybridMLWeight)
	} else {
		coarse := simd.Normalized(Descriptor(imageio.Downsample(img)))
		combined = concatWeighted(fine, hybridFineWeight, coarse, hybridCoarseWeight)
	}

	emb := g.projection(len(combined)).Apply(combined)
	simd.Normalize(emb)

	if g.cache != nil {
		g.cache.Put(ctx, key, emb)
	}
	return emb, nil
}

// Dimensions returns the output dimensions
func (g *HybridGenerator) Dimensions() int {
	return g.dims
}

// Close is a no-op; the ML generator is owned by the caller
func (g *HybridGenerator) Close() error {
	return nil
}

func (g *HybridGenerator) projection(in int) *simd.Projection {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.projs[in]
	if !ok {
		p = simd.NewProjection(in, g.dims, hybridSeed)
		g.projs[in] = p
	}
	return p
}

func concatWeighted(a []float32, wa float32, b []float32, wb float32) []float32 {
	out := make([]float32, 0, len(a)+len(b))
	for _, x := range a {
		out = append(out, x*wa)
	}
	for _, x := range b {
		out = append(out, x*wb)
	}
	return out
}
