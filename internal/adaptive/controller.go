// Package adaptive routes images through embedding methods, scores the output and
// re-routes to a better method when quality falls below a threshold. It keeps
// per-method and per-material performance statistics across calls and restarts.
package adaptive

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Basilakis/kai-sub003/internal/cache"
	"github.com/Basilakis/kai-sub003/internal/embeddings"
	"github.com/Basilakis/kai-sub003/internal/metrics"
	"github.com/Basilakis/kai-sub003/internal/quality"
	"github.com/Basilakis/kai-sub003/pkg/types"
	"go.uber.org/zap"
)

const (
	DefaultQualityThreshold = 0.65
	DefaultDimensions       = 256
	DefaultMethod           = types.MethodHybrid

	// flushEvery is the total_embeddings cadence of periodic persistence
	flushEvery = 10
)

// Config configures a Controller
type Config struct {
	ReferencePath    string
	CacheDir         string
	QualityThreshold float64
	CategoryMap      map[string]string
	ModelPath        string
	OutputDimensions int
	DefaultMethod    types.EmbeddingMethod

	// Backends is the result of capability detection; a zero value means feature-based and hybrid only
	Backends embeddings.Backends
}

func (c *Config) applyDefaults() {
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	if c.OutputDimensions <= 0 {
		c.OutputDimensions = DefaultDimensions
	}
	if c.DefaultMethod == "" {
		c.DefaultMethod = DefaultMethod
	}
}

// Option customizes a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records generation metrics to m
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEvaluator replaces the default ReferenceEvaluator
func WithEvaluator(e quality.Evaluator) Option {
	return func(c *Controller) { c.evaluator = e }
}

// WithGenerator registers g for g.Method(), replacing the built-in generator
func WithGenerator(g embeddings.Generator) Option {
	return func(c *Controller) { c.injected = append(c.injected, g) }
}

// WithPersistence replaces the file persistence normally derived from CacheDir
func WithPersistence(p StatsPersistence) Option {
	return func(c *Controller) { c.persistence = p }
}

// WithCache shares an embedding cache with the built-in generators
func WithCache(ec *cache.EmbeddingCache) Option {
	return func(c *Controller) { c.cache = ec }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the adaptive embedding controller. All state-mutating operations
// run under one mutex, so generation is serialized per Controller.
type Controller struct {
	cfg         Config
	logger      *zap.Logger
	metrics     *metrics.Collector
	evaluator   quality.Evaluator
	persistence StatsPersistence
	cache       *cache.EmbeddingCache
	now         func() time.Time

	injected   []embeddings.Generator
	generators map[types.EmbeddingMethod]embeddings.Generator

	mu              sync.Mutex
	stats           *PerformanceStatistics
	materialMethods map[string]types.EmbeddingMethod
}

// New builds a Controller. Persisted state in cfg.CacheDir is loaded when present;
// load failures are logged and the controller starts fresh.
func New(cfg Config, opts ...Option) (*Controller, error) {
	cfg.applyDefaults()

	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", cfg.CacheDir, err)
		}
	}

	c := &Controller{
		cfg:             cfg,
		logger:          zap.NewNop(),
		now:             time.Now,
		stats:           NewPerformanceStatistics(),
		materialMethods: make(map[string]types.EmbeddingMethod),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "adaptive"))

	c.generators = c.buildGenerators()

	if c.evaluator == nil {
		c.evaluator = quality.NewReferenceEvaluator(quality.Config{
			ReferencePath:    cfg.ReferencePath,
			QualityThreshold: cfg.QualityThreshold,
			CategoryMap:      cfg.CategoryMap,
			CacheDir:         cfg.CacheDir,
		}, c.logger)
	}

	if c.persistence == nil && cfg.CacheDir != "" {
		c.persistence = NewFileStatsPersistence(cfg.CacheDir)
	}
	if cfg.CacheDir != "" {
		if err := c.evaluator.LoadPerformanceData(); err != nil {
			c.logger.Warn("failed to load evaluator data, starting fresh", zap.Error(err))
		}
	}
	if c.persistence != nil {
		stats, methods, err := c.persistence.Load()
		if err != nil {
			c.logger.Warn("failed to load performance statistics, starting fresh", zap.Error(err))
		} else {
			c.stats = stats
			c.materialMethods = methods
		}
	}

	c.logger.Info("adaptive controller ready",
		zap.Any("methods", c.AvailableMethods()),
		zap.String("default_method", string(cfg.DefaultMethod)),
		zap.Float64("quality_threshold", cfg.QualityThreshold),
		zap.Int("dimensions", cfg.OutputDimensions),
		zap.Int64("total_embeddings", c.stats.TotalEmbeddings))

	return c, nil
}

func (c *Controller) buildGenerators() map[types.EmbeddingMethod]embeddings.Generator {
	dims := c.cfg.OutputDimensions
	gens := map[types.EmbeddingMethod]embeddings.Generator{
		types.MethodFeatureBased: embeddings.NewFeatureGenerator(dims, c.cache),
		types.MethodHybrid:       embeddings.NewHybridGenerator(dims, c.cfg.Backends.ML, c.cache),
	}
	if c.cfg.Backends.MLAvailable() {
		gens[types.MethodMLBased] = c.cfg.Backends.ML
	}
	for _, g := range c.injected {
		gens[g.Method()] = g
	}
	return gens
}

// AvailableMethods lists the methods with a registered generator, in canonical order
func (c *Controller) AvailableMethods() []types.EmbeddingMethod {
	out := make([]types.EmbeddingMethod, 0, len(c.generators))
	for _, m := range types.AllMethods() {
		if _, ok := c.generators[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Config returns the effective configuration
func (c *Controller) Config() Config {
	return c.cfg
}

// Evaluator returns the quality evaluator in use
func (c *Controller) Evaluator() quality.Evaluator {
	return c.evaluator
}

// GeneratorForMethod returns the generator for method. It never fails: ml-based without
// a backend resolves to feature-based, and any other unknown method resolves to hybrid.
func (c *Controller) GeneratorForMethod(method types.EmbeddingMethod) embeddings.Generator {
	if g, ok := c.generators[method]; ok {
		return g
	}
	if method == types.MethodMLBased {
		c.logger.Warn("ml-based requested but no ML backend is available, using feature-based")
		return c.generators[types.MethodFeatureBased]
	}
	c.logger.Warn("unknown embedding method, using hybrid", zap.String("method", string(method)))
	return c.generators[types.MethodHybrid]
}

// GenerateEmbedding produces an embedding for img. With adaptive set, the result is scored
// and, below the quality threshold, regenerated with the evaluator's recommended method; the
// alternative is kept only if it scores strictly higher. An empty method resolves to the
// material's remembered method, then to the configured default.
func (c *Controller) GenerateEmbedding(ctx context.Context, img *types.Image, materialID string, method types.EmbeddingMethod, adaptive bool) ([]float32, *types.GenerationInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()

	if method == "" {
		method = c.cfg.DefaultMethod
		if remembered, ok := c.materialMethods[materialID]; ok && materialID != "" {
			method = remembered
		}
	}

	gen := c.GeneratorForMethod(method)
	current := gen.Method()

	info := &types.GenerationInfo{
		MaterialID:    materialID,
		InitialMethod: current,
		QualityScores: make(map[types.EmbeddingMethod]types.QualityReport),
	}
	if current != method {
		info.RequestedMethod = method
	}

	emb, err := gen.Generate(ctx, img)
	if err != nil {
		if current == types.MethodFeatureBased {
			c.metrics.RecordError("generate")
			return nil, nil, fmt.Errorf("feature-based generation failed: %w", err)
		}
		return c.fallbackLocked(ctx, img, info, current, start, adaptive, err)
	}

	if !adaptive {
		c.finalizeLocked(info, current, start, adaptive)
		return emb, info, nil
	}

	report, err := c.evaluator.EvaluateQuality(ctx, emb, materialID, current)
	if err != nil {
		c.metrics.RecordError("evaluate")
		return nil, nil, fmt.Errorf("failed to evaluate %s embedding: %w", current, err)
	}
	info.QualityScores[current] = report
	c.metrics.RecordQuality(string(current), report.Overall)

	if report.Overall >= c.cfg.QualityThreshold {
		c.finalizeLocked(info, current, start, adaptive)
		return emb, info, nil
	}

	recommended := c.evaluator.RecommendMethod(materialID, current, report.Overall, c.AvailableMethods())
	if recommended == current || recommended == "" {
		c.finalizeLocked(info, current, start, adaptive)
		return emb, info, nil
	}

	alt := c.GeneratorForMethod(recommended)
	altMethod := alt.Method()
	if altMethod == current {
		c.finalizeLocked(info, current, start, adaptive)
		return emb, info, nil
	}

	c.logger.Debug("quality below threshold, trying alternative method",
		zap.String("material_id", materialID),
		zap.String("current", string(current)),
		zap.String("recommended", string(altMethod)),
		zap.Float64("quality", report.Overall))

	altEmb, err := alt.Generate(ctx, img)
	if err != nil {
		if altMethod == types.MethodFeatureBased {
			c.metrics.RecordError("generate")
			return nil, nil, fmt.Errorf("feature-based generation failed: %w", err)
		}
		if current != types.MethodFeatureBased {
			return c.fallbackLocked(ctx, img, info, altMethod, start, adaptive, err)
		}
		c.logger.Warn("alternative method failed, keeping feature-based embedding",
			zap.String("method", string(altMethod)), zap.Error(err))
		c.metrics.RecordError("switch")
		c.finalizeLocked(info, current, start, adaptive)
		return emb, info, nil
	}

	altReport, err := c.evaluator.EvaluateQuality(ctx, altEmb, materialID, altMethod)
	if err != nil {
		c.metrics.RecordError("evaluate")
		return nil, nil, fmt.Errorf("failed to evaluate %s embedding: %w", altMethod, err)
	}
	info.QualityScores[altMethod] = altReport
	c.metrics.RecordQuality(string(altMethod), altReport.Overall)

	if altReport.Overall > report.Overall {
		c.recordSwitchLocked(info, current, altMethod)
		emb, current = altEmb, altMethod
	}

	c.finalizeLocked(info, current, start, adaptive)
	return emb, info, nil
}

// fallbackLocked regenerates with feature-based after the failed method errored, recording a forced switch
func (c *Controller) fallbackLocked(ctx context.Context, img *types.Image, info *types.GenerationInfo, failed types.EmbeddingMethod, start time.Time, adaptive bool, cause error) ([]float32, *types.GenerationInfo, error) {
	c.logger.Error("embedding generation failed, falling back to feature-based",
		zap.String("method", string(failed)),
		zap.String("material_id", info.MaterialID),
		zap.Error(cause))
	c.metrics.RecordFallback(string(failed))

	emb, err := c.generators[types.MethodFeatureBased].Generate(ctx, img)
	if err != nil {
		c.metrics.RecordError("generate")
		return nil, nil, fmt.Errorf("feature-based fallback failed after %s error (%v): %w", failed, cause, err)
	}

	from := info.InitialMethod
	c.recordSwitchLocked(info, from, types.MethodFeatureBased)
	info.Fallback = true

	c.finalizeLocked(info, types.MethodFeatureBased, start, adaptive)
	return emb, info, nil
}

func (c *Controller) recordSwitchLocked(info *types.GenerationInfo, from, to types.EmbeddingMethod) {
	info.MethodSwitches++
	c.stats.MethodSwitches++
	if info.MaterialID != "" {
		c.materialMethods[info.MaterialID] = to
	}
	c.metrics.RecordSwitch(string(from), string(to))
	c.logger.Info("switched embedding method",
		zap.String("material_id", info.MaterialID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

// finalizeLocked stamps the final method and elapsed time and folds them into the statistics
func (c *Controller) finalizeLocked(info *types.GenerationInfo, final types.EmbeddingMethod, start time.Time, adaptive bool) {
	info.FinalMethod = final
	info.ProcessingTime = c.now().Sub(start).Seconds()

	var q *float64
	if report, ok := info.QualityScores[final]; ok {
		v := report.Overall
		q = &v
	}
	elapsed := info.ProcessingTime
	c.updatePerformanceStatsLocked(final, info.MaterialID, q, &elapsed)
	c.metrics.RecordGeneration(string(final), adaptive, elapsed)
}

func (c *Controller) updatePerformanceStats(method types.EmbeddingMethod, materialID string, quality, processingTime *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updatePerformanceStatsLocked(method, materialID, quality, processingTime)
}

func (c *Controller) updatePerformanceStatsLocked(method types.EmbeddingMethod, materialID string, quality, processingTime *float64) {
	c.stats.Record(method, materialID, quality, processingTime, c.now())
	if c.stats.TotalEmbeddings%flushEvery == 0 {
		c.flushLocked()
	}
}

// flushLocked persists statistics, the material method map and evaluator data. Failures are logged.
func (c *Controller) flushLocked() {
	if c.persistence != nil {
		if err := c.persistence.Save(c.stats, c.materialMethods); err != nil {
			c.logger.Warn("failed to persist performance statistics", zap.Error(err))
			c.metrics.RecordError("persist")
		}
	}
	if c.cfg.CacheDir != "" {
		if err := c.evaluator.SavePerformanceData(); err != nil {
			c.logger.Warn("failed to persist evaluator data", zap.Error(err))
			c.metrics.RecordError("persist")
		}
	}
}

// PerformanceStats returns a snapshot of the statistics with derived averages. It never mutates state.
func (c *Controller) PerformanceStats() StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return StatsSnapshot{
		PerformanceStatistics: *c.stats.Clone(),
		AverageTime:           c.stats.AverageTimes(),
		BestMethod:            c.stats.BestMethod(c.cfg.DefaultMethod),
		Timestamp:             c.now(),
	}
}

// MaterialMethod returns the method remembered for materialID
func (c *Controller) MaterialMethod(materialID string) (types.EmbeddingMethod, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.materialMethods[materialID]
	return m, ok
}

// ClearPerformanceCache zeroes the statistics, forgets remembered methods and persists
// the cleared state immediately.
func (c *Controller) ClearPerformanceCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats = NewPerformanceStatistics()
	c.materialMethods = make(map[string]types.EmbeddingMethod)
	c.flushLocked()
	c.logger.Info("performance statistics cleared")
}

// Close persists the current state and releases generator resources
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushLocked()

	var firstErr error
	for _, g := range c.generators {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
