package adaptive

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, dir string) string {
	t.Helper()
	src := image.NewNRGBA(image.Rect(0, 0, 20, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 20; x++ {
			src.Set(x, y, color.NRGBA{R: uint8(x * 12), G: uint8(y * 20), B: 90, A: 255})
		}
	}
	path := filepath.Join(dir, "granite.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, src))
	return path
}

func TestGenerateAdaptiveEmbedding(t *testing.T) {
	cacheDir := t.TempDir()
	path := writeTestPNG(t, t.TempDir())
	ev := scriptedEvaluator(map[types.EmbeddingMethod]float64{
		types.MethodHybrid:       0.4,
		types.MethodFeatureBased: 0.9,
	}, types.MethodFeatureBased)

	res, err := GenerateAdaptiveEmbedding(context.Background(), path, Options{
		MaterialID:       "granite",
		CacheDir:         cacheDir,
		OutputDimensions: 64,
	}, WithEvaluator(ev))
	require.NoError(t, err)

	assert.Len(t, res.Vector, 64)
	assert.Equal(t, 64, res.Dimensions)
	assert.Equal(t, types.MethodFeatureBased, res.Method)
	assert.Equal(t, types.MethodHybrid, res.InitialMethod)
	assert.Equal(t, 1, res.MethodSwitches)
	assert.True(t, res.Adaptive)
	assert.Equal(t, "granite", res.MaterialID)
	assert.GreaterOrEqual(t, res.ProcessingTime, 0.0)

	require.Len(t, res.QualityScores, 2)
	assert.InDelta(t, 0.4, res.QualityScores[types.MethodHybrid].Overall, 1e-9)
	assert.InDelta(t, 0.9, res.QualityScores[types.MethodFeatureBased].Overall, 1e-9)

	assert.Equal(t, types.ImageMetadata{Width: 20, Height: 12, Channels: 3, Path: path}, res.ImageMetadata)
	assert.Equal(t, 2, ev.EvaluateCalls)

	// Close flushed the statistics of the single run
	assert.FileExists(t, filepath.Join(cacheDir, StatsFile))
	stats, methods, err := NewFileStatsPersistence(cacheDir).Load()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalEmbeddings)
	assert.Equal(t, types.MethodFeatureBased, methods["granite"])
}

func TestGenerateAdaptiveEmbedding_NonAdaptive(t *testing.T) {
	path := writeTestPNG(t, t.TempDir())
	ev := scriptedEvaluator(nil, types.MethodFeatureBased)

	res, err := GenerateAdaptiveEmbedding(context.Background(), path, Options{
		Method:           types.MethodFeatureBased,
		OutputDimensions: 32,
		NonAdaptive:      true,
	}, WithEvaluator(ev))
	require.NoError(t, err)

	assert.False(t, res.Adaptive)
	assert.Equal(t, types.MethodFeatureBased, res.Method)
	assert.Equal(t, types.MethodFeatureBased, res.InitialMethod)
	assert.Empty(t, res.QualityScores)
	assert.Zero(t, res.MethodSwitches)
	assert.Zero(t, ev.EvaluateCalls)
}

func TestGenerateAdaptiveEmbedding_ZeroOptionsAreAdaptive(t *testing.T) {
	path := writeTestPNG(t, t.TempDir())
	ev := scriptedEvaluator(map[types.EmbeddingMethod]float64{types.MethodHybrid: 0.95}, types.MethodHybrid)

	res, err := GenerateAdaptiveEmbedding(context.Background(), path, Options{}, WithEvaluator(ev))
	require.NoError(t, err)

	assert.True(t, res.Adaptive)
	assert.Equal(t, DefaultDimensions, res.Dimensions)
	assert.Equal(t, types.MethodHybrid, res.Method)
	assert.Equal(t, 1, ev.EvaluateCalls)
}

func TestGenerateAdaptiveEmbedding_MissingImage(t *testing.T) {
	cacheDir := t.TempDir()
	_, err := GenerateAdaptiveEmbedding(context.Background(), filepath.Join(t.TempDir(), "missing.png"), Options{CacheDir: cacheDir})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoFileExists(t, filepath.Join(cacheDir, StatsFile))
}
