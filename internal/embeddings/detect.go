package embeddings

import (
	"context"
	"time"

	"github.com/Basilakis/kai-sub003/internal/cache"
	"go.uber.org/zap"
)

const detectTimeout = 3 * time.Second

// DetectBackends probes the optional ML backend once. An unset endpoint or a failed
// health check leaves ml-based unavailable.
func DetectBackends(ctx context.Context, cfg MLConfig, c *cache.EmbeddingCache, logger *zap.Logger) Backends {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		logger.Info("no ML endpoint configured, ml-based embeddings disabled")
		return Backends{}
	}

	client := NewMLClient(cfg, c)

	probeCtx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()
	if err := client.Ping(probeCtx); err != nil {
		logger.Warn("ML backend unavailable, ml-based embeddings disabled",
			zap.String("endpoint", cfg.BaseURL), zap.Error(err))
		client.Close()
		return Backends{}
	}

	logger.Info("ML backend detected", zap.String("endpoint", cfg.BaseURL), zap.String("model", client.Model()))
	return Backends{ML: client}
}
