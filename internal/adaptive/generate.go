package adaptive

import (
	"context"
	"fmt"

	"github.com/Basilakis/kai-sub003/internal/embeddings"
	"github.com/Basilakis/kai-sub003/internal/imageio"
	"github.com/Basilakis/kai-sub003/pkg/types"
	"go.uber.org/zap"
)

// Options configures a one-shot GenerateAdaptiveEmbedding call. The zero value runs
// adaptively with default dimensions and threshold.
type Options struct {
	MaterialID       string
	Method           types.EmbeddingMethod
	ReferencePath    string
	CacheDir         string
	ModelPath        string
	OutputDimensions int
	QualityThreshold float64
	NonAdaptive      bool // skip evaluation and method switching

	// MLEndpoint enables the ml-based method when its health probe answers
	MLEndpoint string
	Logger     *zap.Logger
}

// DefaultOptions returns adaptive generation with default dimensions and threshold
func DefaultOptions() Options {
	return Options{
		OutputDimensions: DefaultDimensions,
		QualityThreshold: DefaultQualityThreshold,
	}
}

// GenerateAdaptiveEmbedding loads imagePath, builds a controller from opts, runs one
// generation and returns the result object. Extra controller options are applied last.
func GenerateAdaptiveEmbedding(ctx context.Context, imagePath string, opts Options, extra ...Option) (*types.EmbeddingResult, error) {
	img, err := imageio.Load(imagePath)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dims := opts.OutputDimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	backends := embeddings.DetectBackends(ctx, embeddings.MLConfig{
		BaseURL:    opts.MLEndpoint,
		ModelPath:  opts.ModelPath,
		Dimensions: dims,
	}, nil, logger)

	ctrl, err := New(Config{
		ReferencePath:    opts.ReferencePath,
		CacheDir:         opts.CacheDir,
		QualityThreshold: opts.QualityThreshold,
		ModelPath:        opts.ModelPath,
		OutputDimensions: dims,
		Backends:         backends,
	}, append([]Option{WithLogger(logger)}, extra...)...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := ctrl.Close(); cerr != nil {
			logger.Warn("failed to close controller", zap.Error(cerr))
		}
	}()

	adaptive := !opts.NonAdaptive
	vec, info, err := ctrl.GenerateEmbedding(ctx, img, opts.MaterialID, opts.Method, adaptive)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding for %s: %w", imagePath, err)
	}

	return NewResult(vec, info, img, adaptive), nil
}

// NewResult assembles the stable result object from one generation
func NewResult(vec []float32, info *types.GenerationInfo, img *types.Image, adaptive bool) *types.EmbeddingResult {
	return &types.EmbeddingResult{
		Vector:         vec,
		Dimensions:     len(vec),
		Method:         info.FinalMethod,
		InitialMethod:  info.InitialMethod,
		ProcessingTime: info.ProcessingTime,
		QualityScores:  info.QualityScores,
		MethodSwitches: info.MethodSwitches,
		Adaptive:       adaptive,
		ImageMetadata: types.ImageMetadata{
			Width:    img.Width,
			Height:   img.Height,
			Channels: img.Channels,
			Path:     img.Path,
		},
		MaterialID: info.MaterialID,
	}
}
