// Package embeddings provides image embedding generators
package embeddings

import (
	"context"

	"github.com/Basilakis/kai-sub003/pkg/types"
)

// Generator produces a fixed-size embedding for an image
type Generator interface {
	// Method returns the embedding method this generator implements
	Method() types.EmbeddingMethod

	// Generate computes the embedding of img
	Generate(ctx context.Context, img *types.Image) ([]float32, error)

	// Dimensions returns the embedding vector dimensions
	Dimensions() int

	// Close releases any resources
	Close() error
}

// Backends is the outcome of capability detection at process start
type Backends struct {
	// ML is the neural-network generator, nil when no backend is reachable
	ML Generator
}

// MLAvailable reports whether an ML backend was detected
func (b Backends) MLAvailable() bool {
	return b.ML != nil
}

// AvailableMethods lists the methods that can be served with these backends
func (b Backends) AvailableMethods() []types.EmbeddingMethod {
	methods := make([]types.EmbeddingMethod, 0, 3)
	for _, m := range types.AllMethods() {
		if m == types.MethodMLBased && !b.MLAvailable() {
			continue
		}
		methods = append(methods, m)
	}
	return methods
}
