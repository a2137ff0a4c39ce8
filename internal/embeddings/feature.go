package embeddings

import (
	"context"
	"math"

	"github.com/Basilakis/kai-sub003/internal/cache"
	"github.com/Basilakis/kai-sub003/internal/simd"
	"github.com/Basilakis/kai-sub003/pkg/types"
)

const (
	colorBins    = 8 // per RGB channel
	gradientBins = 9 // unsigned orientation over [0, pi)
	lbpBins      = 10
	momentCount  = 6
	gridCells    = 4 // 2x2 mean intensity

	// DescriptorSize is the length of the raw handcrafted descriptor
	DescriptorSize = 3*colorBins + gradientBins + 1 + lbpBins + momentCount + gridCells

	featureSeed = 42
)

// FeatureGenerator computes a deterministic handcrafted descriptor on the CPU:
// colour histograms, gradient orientations, rotation-invariant LBP texture and
// intensity moments, randomly projected to the output dimensionality.
type FeatureGenerator struct {
	dims  int
	proj  *simd.Projection
	cache *cache.EmbeddingCache
}

// NewFeatureGenerator creates a feature-based generator. c may be nil.
func NewFeatureGenerator(dims int, c *cache.EmbeddingCache) *FeatureGenerator {
	return &FeatureGenerator{
		dims:  dims,
		proj:  simd.NewProjection(DescriptorSize, dims, featureSeed),
		cache: c,
	}
}

// Method returns feature-based
func (g *FeatureGenerator) Method() types.EmbeddingMethod {
	return types.MethodFeatureBased
}

// Generate returns the unit-length projected descriptor of img
func (g *FeatureGenerator) Generate(ctx context.Context, img *types.Image) ([]float32, error) {
	if !img.Valid() {
		return nil, types.ErrEmptyImage
	}

	var key string
	if g.cache != nil {
		key = cache.Key(img, types.MethodFeatureBased, g.dims)
		if emb, ok := g.cache.Get(ctx, key); ok {
			return emb, nil
		}
	}

	emb := g.proj.Apply(Descriptor(img))
	simd.Normalize(emb)

	if g.cache != nil {
		g.cache.Put(ctx, key, emb)
	}
	return emb, nil
}

// Dimensions returns the output dimensions
func (g *FeatureGenerator) Dimensions() int {
	return g.dims
}

// Close is a no-op
func (g *FeatureGenerator) Close() error {
	return nil
}

// Descriptor computes the raw DescriptorSize-length descriptor of a valid image.
// Histogram blocks are centred on their uniform value so that projections of
// different materials do not collapse onto one direction.
func Descriptor(img *types.Image) []float32 {
	w, h := img.Width, img.Height
	n := float64(w * h)

	gray := make([]float64, w*h)
	colorHist := make([]float64, 3*colorBins)
	var sumR, sumG, sumB float64
	grid := make([]float64, gridCells)
	gridCount := make([]float64, gridCells)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := img.At(x, y)
			colorHist[int(r)*colorBins/256]++
			colorHist[colorBins+int(g)*colorBins/256]++
			colorHist[2*colorBins+int(b)*colorBins/256]++
			sumR += float64(r)
			sumG += float64(g)
			sumB += float64(b)

			l := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			gray[y*w+x] = l

			cell := 0
			if x >= w/2 && w > 1 {
				cell++
			}
			if y >= h/2 && h > 1 {
				cell += 2
			}
			grid[cell] += l
			gridCount[cell]++
		}
	}

	out := make([]float32, 0, DescriptorSize)
	for _, c := range colorHist {
		out = append(out, float32(c/n-1.0/colorBins))
	}

	out = append(out, gradientFeatures(gray, w, h)...)
	out = append(out, lbpFeatures(gray, w, h)...)

	var mean, m2, m3 float64
	for _, l := range gray {
		mean += l
	}
	mean /= n
	for _, l := range gray {
		d := l - mean
		m2 += d * d
		m3 += d * d * d
	}
	std := math.Sqrt(m2 / n)
	var skew float64
	if std > 0 {
		skew = (m3 / n) / (std * std * std)
	}
	out = append(out,
		float32(mean/255-0.5),
		float32(std/128),
		float32(math.Tanh(skew)),
		float32(sumR/n/255-0.5),
		float32(sumG/n/255-0.5),
		float32(sumB/n/255-0.5),
	)

	for i := range grid {
		v := mean
		if gridCount[i] > 0 {
			v = grid[i] / gridCount[i]
		}
		out = append(out, float32((v-mean)/255))
	}
	return out
}

// gradientFeatures returns a magnitude-weighted orientation histogram plus mean magnitude
func gradientFeatures(gray []float64, w, h int) []float32 {
	hist := make([]float64, gradientBins)
	var total float64
	var count int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := gray[y*w+x+1] - gray[y*w+x-1]
			gy := gray[(y+1)*w+x] - gray[(y-1)*w+x]
			mag := math.Hypot(gx, gy)
			count++
			if mag == 0 {
				continue
			}
			theta := math.Atan2(gy, gx)
			if theta < 0 {
				theta += math.Pi
			}
			bin := int(theta / math.Pi * gradientBins)
			if bin >= gradientBins {
				bin = gradientBins - 1
			}
			hist[bin] += mag
			total += mag
		}
	}

	out := make([]float32, gradientBins+1)
	if total > 0 {
		for i, v := range hist {
			out[i] = float32(v/total - 1.0/gradientBins)
		}
	}
	if count > 0 {
		out[gradientBins] = float32(total / float64(count) / 255)
	}
	return out
}

// lbpFeatures returns a rotation-invariant uniform LBP histogram: bins 0..8 count
// uniform patterns by number of set bits, bin 9 collects non-uniform patterns.
func lbpFeatures(gray []float64, w, h int) []float32 {
	hist := make([]float64, lbpBins)
	var count float64
	dx := [8]int{-1, 0, 1, 1, 1, 0, -1, -1}
	dy := [8]int{-1, -1, -1, 0, 1, 1, 1, 0}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := gray[y*w+x]
			var bits [8]bool
			ones := 0
			for k := 0; k < 8; k++ {
				if gray[(y+dy[k])*w+x+dx[k]] >= c {
					bits[k] = true
					ones++
				}
			}
			transitions := 0
			for k := 0; k < 8; k++ {
				if bits[k] != bits[(k+1)%8] {
					transitions++
				}
			}
			if transitions <= 2 {
				hist[ones]++
			} else {
				hist[lbpBins-1]++
			}
			count++
		}
	}

	out := make([]float32, lbpBins)
	if count == 0 {
		return out
	}
	for i, v := range hist {
		out[i] = float32(v/count - 1.0/lbpBins)
	}
	return out
}
