// Package materials provides the material recognition service
package materials

import (
	"context"
	"errors"
	"io"

	"github.com/Basilakis/kai-sub003/internal/adaptive"
	"github.com/Basilakis/kai-sub003/internal/store"
	"github.com/Basilakis/kai-sub003/pkg/types"
)

// ErrInvalidRequest marks requests rejected before any work is done
var ErrInvalidRequest = errors.New("invalid request")

// Service orchestrates embedding, the material library and recognition
type Service interface {
	// Embed generates an embedding for one image
	Embed(ctx context.Context, req types.EmbedRequest) (*types.EmbeddingResult, error)

	// Register embeds an image and stores it as a reference of a material
	Register(ctx context.Context, req types.RegisterRequest) (*types.MaterialRecord, error)

	// Recognize embeds an image and ranks library materials by similarity
	Recognize(ctx context.Context, req types.RecognizeRequest) (*types.RecognizeResponse, error)

	// Get retrieves a library record by ID
	Get(ctx context.Context, id string) (*types.MaterialRecord, error)

	// Delete removes a library record by ID
	Delete(ctx context.Context, id string) error

	// DeleteMaterial removes every record of a material
	DeleteMaterial(ctx context.Context, materialID string) (int, error)

	// List returns library records with filtering
	List(ctx context.Context, opts store.ListOptions) ([]*types.MaterialRecord, error)

	// LibraryStats returns material library statistics
	LibraryStats(ctx context.Context) (*types.LibraryStats, error)

	// PerformanceStats returns adaptive generation statistics
	PerformanceStats() adaptive.StatsSnapshot

	// ClearStats resets adaptive generation statistics
	ClearStats()

	// ExportReferences writes the library as a reference embedding file
	ExportReferences(ctx context.Context, w io.Writer) (int, error)

	// Close releases resources
	Close() error
}

// Controller is the part of the adaptive controller the service drives
type Controller interface {
	GenerateEmbedding(ctx context.Context, img *types.Image, materialID string, method types.EmbeddingMethod, adaptive bool) ([]float32, *types.GenerationInfo, error)
	PerformanceStats() adaptive.StatsSnapshot
	ClearPerformanceCache()
	Close() error
}

// ReferenceSink receives every registered embedding along with the method that produced it
type ReferenceSink interface {
	AddReference(materialID, category string, method types.EmbeddingMethod, embedding []float32)
}

// Config configures the material service
type Config struct {
	DefaultSearchLimit     int
	DefaultSearchThreshold float32
	AdaptiveByDefault      bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DefaultSearchLimit:     10,
		DefaultSearchThreshold: 0.5,
		AdaptiveByDefault:      true,
	}
}
