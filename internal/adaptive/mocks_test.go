package adaptive

import (
	"context"
	"errors"
	"sync"

	"github.com/Basilakis/kai-sub003/pkg/types"
)

var errBackendDown = errors.New("backend down")

// mockEvaluator is a scriptable quality.Evaluator
type mockEvaluator struct {
	EvaluateFunc  func(emb []float32, materialID string, method types.EmbeddingMethod) (types.QualityReport, error)
	RecommendFunc func(materialID string, current types.EmbeddingMethod, q float64, available []types.EmbeddingMethod) types.EmbeddingMethod

	mu             sync.Mutex
	EvaluateCalls  int
	RecommendCalls int
	LoadCalls      int
	SaveCalls      int
	LastAvailable  []types.EmbeddingMethod
}

// scriptedEvaluator scores by method and always recommends recommend
func scriptedEvaluator(scores map[types.EmbeddingMethod]float64, recommend types.EmbeddingMethod) *mockEvaluator {
	return &mockEvaluator{
		EvaluateFunc: func(_ []float32, _ string, method types.EmbeddingMethod) (types.QualityReport, error) {
			return types.QualityReport{Overall: scores[method]}, nil
		},
		RecommendFunc: func(string, types.EmbeddingMethod, float64, []types.EmbeddingMethod) types.EmbeddingMethod {
			return recommend
		},
	}
}

func (m *mockEvaluator) EvaluateQuality(_ context.Context, emb []float32, materialID string, method types.EmbeddingMethod) (types.QualityReport, error) {
	m.mu.Lock()
	m.EvaluateCalls++
	m.mu.Unlock()

	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(emb, materialID, method)
	}
	return types.QualityReport{Overall: 1}, nil
}

func (m *mockEvaluator) RecommendMethod(materialID string, current types.EmbeddingMethod, q float64, available []types.EmbeddingMethod) types.EmbeddingMethod {
	m.mu.Lock()
	m.RecommendCalls++
	m.LastAvailable = append([]types.EmbeddingMethod(nil), available...)
	m.mu.Unlock()

	if m.RecommendFunc != nil {
		return m.RecommendFunc(materialID, current, q, available)
	}
	return current
}

func (m *mockEvaluator) LoadPerformanceData() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadCalls++
	return nil
}

func (m *mockEvaluator) SavePerformanceData() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	return nil
}

// mockGenerator returns a fixed vector for its method, or GenerateFunc's result
type mockGenerator struct {
	method       types.EmbeddingMethod
	GenerateFunc func(img *types.Image) ([]float32, error)

	mu        sync.Mutex
	CallCount int
	Closed    bool
}

func (g *mockGenerator) Method() types.EmbeddingMethod { return g.method }

func (g *mockGenerator) Generate(_ context.Context, img *types.Image) ([]float32, error) {
	g.mu.Lock()
	g.CallCount++
	g.mu.Unlock()

	if g.GenerateFunc != nil {
		return g.GenerateFunc(img)
	}
	v := make([]float32, 8)
	v[len(g.method)%8] = 1
	return v, nil
}

func (g *mockGenerator) Dimensions() int { return 8 }

func (g *mockGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Closed = true
	return nil
}

func failingGenerator(method types.EmbeddingMethod) *mockGenerator {
	return &mockGenerator{
		method:       method,
		GenerateFunc: func(*types.Image) ([]float32, error) { return nil, errBackendDown },
	}
}

// memoryPersistence is a StatsPersistence kept in memory
type memoryPersistence struct {
	mu      sync.Mutex
	stats   *PerformanceStatistics
	methods map[string]types.EmbeddingMethod
	saves   int
	loadErr error
}

func (p *memoryPersistence) Load() (*PerformanceStatistics, map[string]types.EmbeddingMethod, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, nil, p.loadErr
	}
	if p.stats == nil {
		return NewPerformanceStatistics(), map[string]types.EmbeddingMethod{}, nil
	}
	methods := make(map[string]types.EmbeddingMethod, len(p.methods))
	for k, v := range p.methods {
		methods[k] = v
	}
	return p.stats.Clone(), methods, nil
}

func (p *memoryPersistence) Save(stats *PerformanceStatistics, methods map[string]types.EmbeddingMethod) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.stats = stats.Clone()
	p.methods = make(map[string]types.EmbeddingMethod, len(methods))
	for k, v := range methods {
		p.methods[k] = v
	}
	return nil
}

func testImage(seed uint8) *types.Image {
	const size = 16
	img := &types.Image{Width: size, Height: size, Channels: 3, Pix: make([]uint8, size*size*3)}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := (y*size + x) * 3
			img.Pix[i] = uint8(x*16) + seed
			img.Pix[i+1] = uint8(y * 16)
			img.Pix[i+2] = uint8((x ^ y) * 16)
		}
	}
	return img
}
