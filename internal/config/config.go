// Package config loads kai configuration.
//
// Precedence: defaults → YAML file → KAI_* environment variables. Command-line
// flags are applied on top by cmd/kai.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Basilakis/kai-sub003/pkg/types"
)

// Config is the complete kai configuration
type Config struct {
	// DataDir holds the library database and the statistics cache; defaults to ~/.kai
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`

	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`
	ML        MLConfig        `yaml:"ml" env:"ML"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Library   LibraryConfig   `yaml:"library" env:"LIBRARY"`
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
}

// EmbeddingConfig configures the adaptive controller
type EmbeddingConfig struct {
	Dimensions       int     `yaml:"dimensions" env:"DIMENSIONS"`
	QualityThreshold float64 `yaml:"quality_threshold" env:"QUALITY_THRESHOLD"`
	DefaultMethod    string  `yaml:"default_method" env:"DEFAULT_METHOD"`
	Adaptive         bool    `yaml:"adaptive" env:"ADAPTIVE"`
	ReferencePath    string  `yaml:"reference_path" env:"REFERENCE_PATH"`
	// CacheDir holds the statistics and evaluator files; defaults to <data_dir>/cache
	CacheDir string `yaml:"cache_dir" env:"CACHE_DIR"`
	// CategoryMap maps material ids to categories. YAML only.
	CategoryMap map[string]string `yaml:"category_map" env:"-"`
}

// MLConfig points at the optional ML embedding backend. An empty endpoint disables ml-based.
type MLConfig struct {
	Endpoint  string        `yaml:"endpoint" env:"ENDPOINT"`
	ModelPath string        `yaml:"model_path" env:"MODEL_PATH"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CacheConfig sizes the in-process embedding cache
type CacheConfig struct {
	Size int `yaml:"size" env:"SIZE"`
}

// RedisConfig enables the shared embedding cache tier when Addr is set
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

// LibraryConfig configures the material library store
type LibraryConfig struct {
	// Path of the SQLite database; defaults to <data_dir>/kai.db
	Path            string  `yaml:"path" env:"PATH"`
	SearchLimit     int     `yaml:"search_limit" env:"SEARCH_LIMIT"`
	SearchThreshold float64 `yaml:"search_threshold" env:"SEARCH_THRESHOLD"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig configures zap
type LogConfig struct {
	Level       string   `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format      string   `yaml:"format" env:"FORMAT"` // json or console
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Dimensions:       256,
			QualityThreshold: 0.65,
			DefaultMethod:    string(types.MethodHybrid),
			Adaptive:         true,
		},
		ML: MLConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Size: 1000,
		},
		Redis: RedisConfig{
			KeyPrefix: "kai:emb:",
			TTL:       24 * time.Hour,
		},
		Library: LibraryConfig{
			SearchLimit:     10,
			SearchThreshold: 0.5,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            3456,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "kai",
		},
	}
}

// ResolvePaths fills DataDir, Library.Path and Embedding.CacheDir when unset
func (c *Config) ResolvePaths() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".kai")
	}
	if c.Library.Path == "" {
		c.Library.Path = filepath.Join(c.DataDir, "kai.db")
	}
	if c.Embedding.CacheDir == "" {
		c.Embedding.CacheDir = filepath.Join(c.DataDir, "cache")
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []string

	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, "embedding.dimensions must be positive")
	}
	if c.Embedding.QualityThreshold <= 0 || c.Embedding.QualityThreshold > 1 {
		errs = append(errs, "embedding.quality_threshold must be in (0, 1]")
	}
	if c.Embedding.DefaultMethod != "" && !types.EmbeddingMethod(c.Embedding.DefaultMethod).Known() {
		errs = append(errs, fmt.Sprintf("unknown embedding.default_method %q", c.Embedding.DefaultMethod))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, "cache.size must not be negative")
	}
	if c.Library.SearchLimit <= 0 {
		errs = append(errs, "library.search_limit must be positive")
	}
	if c.Library.SearchThreshold < -1 || c.Library.SearchThreshold > 1 {
		errs = append(errs, "library.search_threshold must be in [-1, 1]")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "invalid server.port")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unknown log.format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
