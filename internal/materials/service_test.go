package materials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Basilakis/kai-sub003/internal/adaptive"
	"github.com/Basilakis/kai-sub003/internal/quality"
	"github.com/Basilakis/kai-sub003/internal/store"
	"github.com/Basilakis/kai-sub003/internal/store/sqlite"
	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 32

// steadyEvaluator scores everything above threshold so the default method always wins
type steadyEvaluator struct{}

func (steadyEvaluator) EvaluateQuality(context.Context, []float32, string, types.EmbeddingMethod) (types.QualityReport, error) {
	return types.QualityReport{Overall: 0.9}, nil
}

func (steadyEvaluator) RecommendMethod(_ string, current types.EmbeddingMethod, _ float64, _ []types.EmbeddingMethod) types.EmbeddingMethod {
	return current
}

func (steadyEvaluator) LoadPerformanceData() error { return nil }
func (steadyEvaluator) SavePerformanceData() error { return nil }

type recordingSink struct {
	mu      sync.Mutex
	refs    map[string]int
	cats    map[string]string
	methods map[string][]types.EmbeddingMethod
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		refs:    make(map[string]int),
		cats:    make(map[string]string),
		methods: make(map[string][]types.EmbeddingMethod),
	}
}

func (r *recordingSink) AddReference(materialID, category string, method types.EmbeddingMethod, _ []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[materialID]++
	r.methods[materialID] = append(r.methods[materialID], method)
	if category != "" {
		r.cats[materialID] = category
	}
}

func writePattern(t *testing.T, dir, name string, c color.NRGBA, stripe int) string {
	t.Helper()
	src := image.NewNRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			if (x/stripe)%2 == 0 {
				src.Set(x, y, c)
			} else {
				src.Set(x, y, color.NRGBA{R: 240, G: 240, B: 240, A: 255})
			}
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, src))
	return path
}

func newTestService(t *testing.T, st store.Store, opts ...Option) Service {
	t.Helper()
	ctrl, err := adaptive.New(adaptive.Config{OutputDimensions: testDims}, adaptive.WithEvaluator(steadyEvaluator{}))
	require.NoError(t, err)

	svc, err := NewService(context.Background(), ctrl, st, DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "kai.db"), Dimensions: testDims})
	require.NoError(t, err)
	return st
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(context.Background(), nil, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	svc := newTestService(t, newStore(t))
	path := writePattern(t, t.TempDir(), "brick.png", color.NRGBA{R: 180, G: 60, B: 40, A: 255}, 3)

	res, err := svc.Embed(context.Background(), types.EmbedRequest{ImagePath: path, MaterialID: "brick"})
	require.NoError(t, err)

	assert.Len(t, res.Vector, testDims)
	assert.Equal(t, testDims, res.Dimensions)
	assert.Equal(t, types.MethodHybrid, res.Method)
	assert.True(t, res.Adaptive)
	assert.Equal(t, 24, res.ImageMetadata.Width)
	assert.Equal(t, "brick", res.MaterialID)

	off := false
	res, err = svc.Embed(context.Background(), types.EmbedRequest{ImagePath: path, Method: types.MethodFeatureBased, Adaptive: &off})
	require.NoError(t, err)
	assert.False(t, res.Adaptive)
	assert.Equal(t, types.MethodFeatureBased, res.Method)
	assert.Empty(t, res.QualityScores)
}

func TestEmbed_Errors(t *testing.T) {
	svc := newTestService(t, newStore(t))

	_, err := svc.Embed(context.Background(), types.EmbedRequest{})
	assert.ErrorContains(t, err, "image_path")

	_, err = svc.Embed(context.Background(), types.EmbedRequest{ImagePath: filepath.Join(t.TempDir(), "missing.png")})
	assert.Error(t, err)
}

func TestRegisterAndRecognize(t *testing.T) {
	sink := newRecordingSink()
	svc := newTestService(t, newStore(t), WithReferenceSink(sink))
	ctx := context.Background()
	dir := t.TempDir()

	brick := writePattern(t, dir, "brick.png", color.NRGBA{R: 180, G: 60, B: 40, A: 255}, 3)
	slate := writePattern(t, dir, "slate.png", color.NRGBA{R: 40, G: 50, B: 70, A: 255}, 8)

	rec, err := svc.Register(ctx, types.RegisterRequest{ImagePath: brick, MaterialID: "brick", Category: "masonry"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, types.MethodHybrid, rec.Method)
	assert.InDelta(t, 0.9, rec.Quality, 1e-9)

	_, err = svc.Register(ctx, types.RegisterRequest{ImagePath: slate, MaterialID: "slate", Category: "stone"})
	require.NoError(t, err)

	assert.Equal(t, 1, sink.refs["brick"])
	assert.Equal(t, "masonry", sink.cats["brick"])
	assert.Equal(t, []types.EmbeddingMethod{types.MethodHybrid}, sink.methods["brick"])

	resp, err := svc.Recognize(ctx, types.RecognizeRequest{ImagePath: brick, Threshold: 0.01})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Matches)
	assert.Equal(t, "brick", resp.Matches[0].Record.MaterialID)
	assert.Greater(t, resp.Matches[0].Similarity, float32(0.99))
	assert.Equal(t, len(resp.Matches), resp.Total)
	assert.Equal(t, types.MethodHybrid, resp.Query.Method)

	filtered, err := svc.Recognize(ctx, types.RecognizeRequest{ImagePath: brick, Category: "stone", Threshold: 0.01})
	require.NoError(t, err)
	for _, m := range filtered.Matches {
		assert.Equal(t, "stone", m.Record.Category)
	}

	stats, err := svc.LibraryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 2, stats.CategoryCount)

	perf := svc.PerformanceStats()
	assert.Equal(t, int64(4), perf.TotalEmbeddings)
}

func TestRecognize_OnlyComparesSameMethod(t *testing.T) {
	svc := newTestService(t, newStore(t))
	ctx := context.Background()
	path := writePattern(t, t.TempDir(), "oak.png", color.NRGBA{R: 120, G: 80, B: 30, A: 255}, 2)

	_, err := svc.Register(ctx, types.RegisterRequest{ImagePath: path, MaterialID: "oak", Method: types.MethodFeatureBased})
	require.NoError(t, err)

	resp, err := svc.Recognize(ctx, types.RecognizeRequest{ImagePath: path, Method: types.MethodHybrid, Threshold: 0.01})
	require.NoError(t, err)
	assert.Empty(t, resp.Matches)
	assert.NotNil(t, resp.Matches)
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestService(t, newStore(t))
	ctx := context.Background()

	_, err := svc.Register(ctx, types.RegisterRequest{MaterialID: "oak"})
	assert.ErrorContains(t, err, "image_path")

	_, err = svc.Register(ctx, types.RegisterRequest{ImagePath: "/tmp/x.png"})
	assert.ErrorContains(t, err, "material_id")
}

func TestNewService_SeedsSink(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	vec := make([]float32, testDims)
	vec[0] = 1
	require.NoError(t, st.AddBatch(ctx, []*types.MaterialRecord{
		{MaterialID: "oak", Category: "wood", Method: types.MethodHybrid, Embedding: vec},
		{MaterialID: "oak", Category: "wood", Method: types.MethodFeatureBased, Embedding: vec},
		{MaterialID: "pine", Method: types.MethodHybrid, Embedding: vec},
	}))

	sink := newRecordingSink()
	newTestService(t, st, WithReferenceSink(sink))

	assert.Equal(t, map[string]int{"oak": 2, "pine": 1}, sink.refs)
	assert.Equal(t, "wood", sink.cats["oak"])
	assert.ElementsMatch(t, []types.EmbeddingMethod{types.MethodHybrid, types.MethodFeatureBased}, sink.methods["oak"])
	assert.Equal(t, []types.EmbeddingMethod{types.MethodHybrid}, sink.methods["pine"])
}

func TestNewService_SeedsSinkAcrossPages(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	vec := make([]float32, testDims)
	vec[1] = 1
	recs := make([]*types.MaterialRecord, seedPageSize+3)
	for i := range recs {
		recs[i] = &types.MaterialRecord{MaterialID: "tile", Method: types.MethodFeatureBased, Embedding: vec}
	}
	require.NoError(t, st.AddBatch(ctx, recs))

	sink := newRecordingSink()
	newTestService(t, st, WithReferenceSink(sink))

	assert.Equal(t, seedPageSize+3, sink.refs["tile"])
}

func TestRegister_FeatureReferenceDoesNotScoreHybrid(t *testing.T) {
	evaluator := quality.NewReferenceEvaluator(quality.Config{}, nil)
	svc := newTestService(t, newStore(t), WithReferenceSink(evaluator))
	ctx := context.Background()
	path := writePattern(t, t.TempDir(), "oak.png", color.NRGBA{R: 120, G: 80, B: 30, A: 255}, 2)

	rec, err := svc.Register(ctx, types.RegisterRequest{ImagePath: path, MaterialID: "oak", Method: types.MethodFeatureBased})
	require.NoError(t, err)
	require.Equal(t, types.MethodFeatureBased, rec.Method)

	res, err := svc.Embed(ctx, types.EmbedRequest{ImagePath: path, Method: types.MethodHybrid})
	require.NoError(t, err)

	report, err := evaluator.EvaluateQuality(ctx, res.Vector, "oak", types.MethodHybrid)
	require.NoError(t, err)
	assert.NotContains(t, report.Scores, "reference_similarity")

	report, err = evaluator.EvaluateQuality(ctx, rec.Embedding, "oak", types.MethodFeatureBased)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.Scores["reference_similarity"], 1e-5)
}

func TestDeleteAndList(t *testing.T) {
	svc := newTestService(t, newStore(t))
	ctx := context.Background()
	dir := t.TempDir()

	a, err := svc.Register(ctx, types.RegisterRequest{ImagePath: writePattern(t, dir, "a.png", color.NRGBA{R: 200, A: 255}, 2), MaterialID: "oak"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, types.RegisterRequest{ImagePath: writePattern(t, dir, "b.png", color.NRGBA{G: 200, A: 255}, 4), MaterialID: "oak"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "oak", got.MaterialID)

	require.NoError(t, svc.Delete(ctx, a.ID))
	_, err = svc.Get(ctx, a.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	n, err := svc.DeleteMaterial(ctx, "oak")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := svc.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = svc.DeleteMaterial(ctx, "")
	assert.Error(t, err)
}

func TestExportReferences(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	vec := make([]float32, testDims)
	vec[3] = 1
	require.NoError(t, st.Add(ctx, &types.MaterialRecord{MaterialID: "oak", Method: types.MethodHybrid, Embedding: vec}))

	svc := newTestService(t, st)

	var buf bytes.Buffer
	n, err := svc.ExportReferences(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var refs map[string][][]float32
	require.NoError(t, json.Unmarshal(buf.Bytes(), &refs))
	require.Len(t, refs["oak"], 1)
	assert.Equal(t, vec, refs["oak"][0])
}

func TestClearStats(t *testing.T) {
	svc := newTestService(t, newStore(t))
	path := writePattern(t, t.TempDir(), "a.png", color.NRGBA{B: 200, A: 255}, 2)

	_, err := svc.Embed(context.Background(), types.EmbedRequest{ImagePath: path})
	require.NoError(t, err)
	require.Equal(t, int64(1), svc.PerformanceStats().TotalEmbeddings)

	svc.ClearStats()
	assert.Zero(t, svc.PerformanceStats().TotalEmbeddings)
}
