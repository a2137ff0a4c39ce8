// Package simd provides unrolled vector operations used for embedding scoring and search
package simd

import (
	"math"
)

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 0 for mismatched lengths, empty input or a zero vector.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	n := len(a)
	limit := n - (n % 4)

	for i := 0; i < limit; i += 4 {
		dot += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
		normA += a[i]*a[i] + a[i+1]*a[i+1] + a[i+2]*a[i+2] + a[i+3]*a[i+3]
		normB += b[i]*b[i] + b[i+1]*b[i+1] + b[i+2]*b[i+2] + b[i+3]*b[i+3]
	}
	for i := limit; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return clamp(dot/(sqrt32(normA)*sqrt32(normB)), -1, 1)
}

// DotProduct computes the dot product of two equal-length vectors
func DotProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	n := len(a)
	limit := n - (n % 4)
	for i := 0; i < limit; i += 4 {
		sum += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
	}
	for i := limit; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// L2Norm computes the Euclidean norm of a vector
func L2Norm(v []float32) float32 {
	return sqrt32(DotProduct(v, v))
}

// Normalize scales v in place to unit length. Zero vectors are left unchanged.
func Normalize(v []float32) {
	norm := L2Norm(v)
	if norm == 0 {
		return
	}
	inv := 1 / norm
	for i := range v {
		v[i] *= inv
	}
}

// Normalized returns a unit-length copy of v
func Normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	Normalize(out)
	return out
}

// BatchCosineSimilarity scores one query against many targets.
// similarities must have len(targets) elements.
func BatchCosineSimilarity(query []float32, targets [][]float32, similarities []float32) {
	qn := L2Norm(query)
	for i, target := range targets {
		if qn == 0 || len(target) != len(query) {
			similarities[i] = 0
			continue
		}
		tn := L2Norm(target)
		if tn == 0 {
			similarities[i] = 0
			continue
		}
		similarities[i] = clamp(DotProduct(query, target)/(qn*tn), -1, 1)
	}
}

// MaxCosine returns the best similarity between query and any target, or 0 with ok=false
// when there are no comparable targets.
func MaxCosine(query []float32, targets [][]float32) (best float32, ok bool) {
	if len(targets) == 0 {
		return 0, false
	}
	sims := make([]float32, len(targets))
	BatchCosineSimilarity(query, targets, sims)
	best = -1
	for i, s := range sims {
		if len(targets[i]) != len(query) {
			continue
		}
		ok = true
		if s > best {
			best = s
		}
	}
	if !ok {
		return 0, false
	}
	return best, true
}

// Moments returns the mean and population standard deviation of v
func Moments(v []float32) (mean, std float64) {
	if len(v) == 0 {
		return 0, 0
	}
	for _, x := range v {
		mean += float64(x)
	}
	mean /= float64(len(v))
	for _, x := range v {
		d := float64(x) - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(v)))
}

// NonZeroFraction returns the share of components whose magnitude exceeds eps
func NonZeroFraction(v []float32, eps float32) float64 {
	if len(v) == 0 {
		return 0
	}
	var n int
	for _, x := range v {
		if x > eps || x < -eps {
			n++
		}
	}
	return float64(n) / float64(len(v))
}

// Finite reports whether every component is a real number
func Finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}
	return float32(math.Sqrt(float64(x)))
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
