package materials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Basilakis/kai-sub003/internal/adaptive"
	"github.com/Basilakis/kai-sub003/internal/imageio"
	"github.com/Basilakis/kai-sub003/internal/metrics"
	"github.com/Basilakis/kai-sub003/internal/store"
	"github.com/Basilakis/kai-sub003/pkg/types"
	"go.uber.org/zap"
)

const seedPageSize = 500

// serviceImpl implements the Service interface
type serviceImpl struct {
	ctrl    Controller
	store   store.Store
	sink    ReferenceSink
	logger  *zap.Logger
	metrics *metrics.Collector
	config  Config
}

// Option customizes the service
type Option func(*serviceImpl)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *serviceImpl) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records service errors to m
func WithMetrics(m *metrics.Collector) Option {
	return func(s *serviceImpl) { s.metrics = m }
}

// WithReferenceSink feeds library embeddings to sink at startup and on every registration
func WithReferenceSink(sink ReferenceSink) Option {
	return func(s *serviceImpl) { s.sink = sink }
}

// NewService creates a material service. When a reference sink is set it is seeded
// with every embedding already in the library.
func NewService(ctx context.Context, ctrl Controller, st store.Store, cfg Config, opts ...Option) (Service, error) {
	if ctrl == nil || st == nil {
		return nil, errors.New("controller and store are required")
	}
	if cfg.DefaultSearchLimit <= 0 {
		cfg.DefaultSearchLimit = 10
	}
	if cfg.DefaultSearchThreshold <= 0 {
		cfg.DefaultSearchThreshold = 0.5
	}

	s := &serviceImpl{
		ctrl:   ctrl,
		store:  st,
		logger: zap.NewNop(),
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "materials"))

	if s.sink != nil {
		if err := s.seedSink(ctx); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// seedSink pages through the library so each reference keeps its method and category
func (s *serviceImpl) seedSink(ctx context.Context) error {
	materialIDs := make(map[string]struct{})
	n := 0
	for {
		recs, err := s.store.List(ctx, store.ListOptions{Limit: seedPageSize, Offset: n})
		if err != nil {
			return fmt.Errorf("failed to load library references: %w", err)
		}
		for _, rec := range recs {
			s.sink.AddReference(rec.MaterialID, rec.Category, rec.Method, rec.Embedding)
			materialIDs[rec.MaterialID] = struct{}{}
		}
		n += len(recs)
		if len(recs) < seedPageSize {
			break
		}
	}
	s.logger.Debug("seeded evaluator from library", zap.Int("materials", len(materialIDs)), zap.Int("embeddings", n))
	return nil
}

// Embed generates an embedding for one image
func (s *serviceImpl) Embed(ctx context.Context, req types.EmbedRequest) (*types.EmbeddingResult, error) {
	if req.ImagePath == "" {
		return nil, fmt.Errorf("%w: image_path is required", ErrInvalidRequest)
	}
	adaptiveRun := s.config.AdaptiveByDefault
	if req.Adaptive != nil {
		adaptiveRun = *req.Adaptive
	}

	res, _, err := s.embed(ctx, req.ImagePath, req.MaterialID, req.Method, adaptiveRun)
	if err != nil {
		s.metrics.RecordError("embed")
		return nil, err
	}
	return res, nil
}

func (s *serviceImpl) embed(ctx context.Context, path, materialID string, method types.EmbeddingMethod, adaptiveRun bool) (*types.EmbeddingResult, *types.GenerationInfo, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return nil, nil, err
	}
	vec, info, err := s.ctrl.GenerateEmbedding(ctx, img, materialID, method, adaptiveRun)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate embedding for %s: %w", path, err)
	}
	return adaptive.NewResult(vec, info, img, adaptiveRun), info, nil
}

// Register embeds an image adaptively and stores it as a reference of a material
func (s *serviceImpl) Register(ctx context.Context, req types.RegisterRequest) (*types.MaterialRecord, error) {
	if req.ImagePath == "" {
		return nil, fmt.Errorf("%w: image_path is required", ErrInvalidRequest)
	}
	if req.MaterialID == "" {
		return nil, fmt.Errorf("%w: material_id is required", ErrInvalidRequest)
	}

	res, info, err := s.embed(ctx, req.ImagePath, req.MaterialID, req.Method, true)
	if err != nil {
		s.metrics.RecordError("register")
		return nil, err
	}

	rec := &types.MaterialRecord{
		MaterialID: req.MaterialID,
		Category:   req.Category,
		Method:     info.FinalMethod,
		ImagePath:  req.ImagePath,
		Metadata:   req.Metadata,
		Embedding:  res.Vector,
	}
	if report, ok := info.QualityScores[info.FinalMethod]; ok {
		rec.Quality = report.Overall
	}

	if err := s.store.Add(ctx, rec); err != nil {
		s.metrics.RecordError("register")
		return nil, fmt.Errorf("failed to store record: %w", err)
	}
	if s.sink != nil {
		s.sink.AddReference(rec.MaterialID, rec.Category, rec.Method, rec.Embedding)
	}

	s.logger.Info("material registered",
		zap.String("id", rec.ID),
		zap.String("material_id", rec.MaterialID),
		zap.String("method", string(rec.Method)),
		zap.Float64("quality", rec.Quality))
	return rec, nil
}

// Recognize embeds the query adaptively and searches library records produced by the
// same method as the query's final embedding.
func (s *serviceImpl) Recognize(ctx context.Context, req types.RecognizeRequest) (*types.RecognizeResponse, error) {
	start := time.Now()

	if req.ImagePath == "" {
		return nil, fmt.Errorf("%w: image_path is required", ErrInvalidRequest)
	}

	res, _, err := s.embed(ctx, req.ImagePath, "", req.Method, true)
	if err != nil {
		s.metrics.RecordError("recognize")
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultSearchLimit
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = s.config.DefaultSearchThreshold
	}

	matches, err := s.store.Search(ctx, res.Vector, store.SearchOptions{
		Category:  req.Category,
		Method:    res.Method,
		Limit:     limit,
		Threshold: threshold,
	})
	if err != nil {
		s.metrics.RecordError("recognize")
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if matches == nil {
		matches = []types.MatchResult{}
	}

	return &types.RecognizeResponse{
		Matches: matches,
		Total:   len(matches),
		Query:   *res,
		Timing:  time.Since(start).Milliseconds(),
	}, nil
}

// Get retrieves a library record by ID
func (s *serviceImpl) Get(ctx context.Context, id string) (*types.MaterialRecord, error) {
	return s.store.Get(ctx, id)
}

// Delete removes a library record by ID
func (s *serviceImpl) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// DeleteMaterial removes every record of a material
func (s *serviceImpl) DeleteMaterial(ctx context.Context, materialID string) (int, error) {
	if materialID == "" {
		return 0, fmt.Errorf("%w: material_id is required", ErrInvalidRequest)
	}
	return s.store.DeleteByMaterial(ctx, materialID)
}

// List returns library records with filtering
func (s *serviceImpl) List(ctx context.Context, opts store.ListOptions) ([]*types.MaterialRecord, error) {
	return s.store.List(ctx, opts)
}

// LibraryStats returns material library statistics
func (s *serviceImpl) LibraryStats(ctx context.Context) (*types.LibraryStats, error) {
	return s.store.Stats(ctx)
}

// PerformanceStats returns adaptive generation statistics
func (s *serviceImpl) PerformanceStats() adaptive.StatsSnapshot {
	return s.ctrl.PerformanceStats()
}

// ClearStats resets adaptive generation statistics
func (s *serviceImpl) ClearStats() {
	s.ctrl.ClearPerformanceCache()
}

// ExportReferences writes {"material_id": [[...], ...]}, the format the reference
// evaluator loads, and returns the number of materials written.
func (s *serviceImpl) ExportReferences(ctx context.Context, w io.Writer) (int, error) {
	refs, err := s.store.References(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load references: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(refs); err != nil {
		return 0, fmt.Errorf("failed to write references: %w", err)
	}
	return len(refs), nil
}

// Close closes the controller, then the store
func (s *serviceImpl) Close() error {
	return errors.Join(s.ctrl.Close(), s.store.Close())
}
