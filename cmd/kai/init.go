package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Basilakis/kai-sub003/internal/adaptive"
	"github.com/Basilakis/kai-sub003/internal/cache"
	"github.com/Basilakis/kai-sub003/internal/config"
	"github.com/Basilakis/kai-sub003/internal/embeddings"
	"github.com/Basilakis/kai-sub003/internal/logging"
	"github.com/Basilakis/kai-sub003/internal/materials"
	"github.com/Basilakis/kai-sub003/internal/metrics"
	"github.com/Basilakis/kai-sub003/internal/quality"
	"github.com/Basilakis/kai-sub003/internal/store/sqlite"
	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds everything a command needs
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	svc      materials.Service
	registry *prometheus.Registry
	metrics  *metrics.Collector
	redis    *cache.RedisTier
}

// loadConfig applies defaults, the config file, KAI_* variables and global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().WithConfigPath(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mlEndpoint != "" {
		cfg.ML.Endpoint = mlEndpoint
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initApp wires the library, the controller and the service
func initApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log, verbose)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)
	}

	var tier cache.Tier
	if cfg.Redis.Addr != "" {
		rt, err := cache.NewRedisTier(ctx, cache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			logger.Warn("redis cache tier disabled", zap.Error(err))
		} else {
			a.redis = rt
			tier = rt
		}
	}
	var ec *cache.EmbeddingCache
	if cfg.Cache.Size > 0 {
		ec = cache.NewEmbeddingCache(cfg.Cache.Size, tier, logger)
	}

	backends := embeddings.DetectBackends(ctx, embeddings.MLConfig{
		BaseURL:    cfg.ML.Endpoint,
		ModelPath:  cfg.ML.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.ML.Timeout,
	}, ec, logger)

	evaluator := quality.NewReferenceEvaluator(quality.Config{
		ReferencePath:    cfg.Embedding.ReferencePath,
		QualityThreshold: cfg.Embedding.QualityThreshold,
		CategoryMap:      cfg.Embedding.CategoryMap,
		CacheDir:         cfg.Embedding.CacheDir,
	}, logger)

	ctrl, err := adaptive.New(adaptive.Config{
		ReferencePath:    cfg.Embedding.ReferencePath,
		CacheDir:         cfg.Embedding.CacheDir,
		QualityThreshold: cfg.Embedding.QualityThreshold,
		CategoryMap:      cfg.Embedding.CategoryMap,
		ModelPath:        cfg.ML.ModelPath,
		OutputDimensions: cfg.Embedding.Dimensions,
		DefaultMethod:    types.EmbeddingMethod(cfg.Embedding.DefaultMethod),
		Backends:         backends,
	},
		adaptive.WithLogger(logger),
		adaptive.WithMetrics(a.metrics),
		adaptive.WithEvaluator(evaluator),
		adaptive.WithCache(ec),
	)
	if err != nil {
		a.closeRedis()
		return nil, fmt.Errorf("failed to initialize controller: %w", err)
	}

	st, err := sqlite.New(sqlite.Config{
		Path:       cfg.Library.Path,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		ctrl.Close()
		a.closeRedis()
		return nil, fmt.Errorf("failed to initialize library: %w", err)
	}

	svc, err := materials.NewService(ctx, ctrl, st, materials.Config{
		DefaultSearchLimit:     cfg.Library.SearchLimit,
		DefaultSearchThreshold: float32(cfg.Library.SearchThreshold),
		AdaptiveByDefault:      cfg.Embedding.Adaptive,
	},
		materials.WithLogger(logger),
		materials.WithMetrics(a.metrics),
		materials.WithReferenceSink(evaluator),
	)
	if err != nil {
		ctrl.Close()
		st.Close()
		a.closeRedis()
		return nil, err
	}
	a.svc = svc

	logger.Debug("initialized",
		zap.String("data_dir", cfg.DataDir),
		zap.String("library", cfg.Library.Path),
		zap.String("cache_dir", cfg.Embedding.CacheDir),
		zap.Bool("ml_available", backends.MLAvailable()))

	return a, nil
}

func (a *app) closeRedis() error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

// Close flushes statistics and releases every resource
func (a *app) Close() error {
	err := errors.Join(a.svc.Close(), a.closeRedis())
	a.logger.Sync()
	return err
}
