package simd

import (
	"math"
	"math/rand"
)

// Projection is a fixed Gaussian random projection from In to Out dimensions.
// The same seed always yields the same matrix, so projected descriptors are reproducible.
type Projection struct {
	In, Out int
	weights []float32 // Out rows of In columns
}

// NewProjection builds a projection matrix from a deterministic seed
func NewProjection(in, out int, seed int64) *Projection {
	rng := rand.New(rand.NewSource(seed))
	scale := float32(1 / math.Sqrt(float64(out)))
	w := make([]float32, in*out)
	for i := range w {
		w[i] = float32(rng.NormFloat64()) * scale
	}
	return &Projection{In: in, Out: out, weights: w}
}

// Apply projects v (len In) into a new vector of len Out.
// Shorter inputs are zero-padded, longer inputs truncated.
func (p *Projection) Apply(v []float32) []float32 {
	out := make([]float32, p.Out)
	n := len(v)
	if n > p.In {
		n = p.In
	}
	for r := 0; r < p.Out; r++ {
		out[r] = DotProduct(p.weights[r*p.In:r*p.In+n], v[:n])
	}
	return out
}
