// Package store defines the material library interface
package store

import (
	"context"

	"github.com/Basilakis/kai-sub003/pkg/types"
)

// Store persists reference embeddings of known materials and ranks them against a query
type Store interface {
	// Add inserts a record; an empty ID is assigned
	Add(ctx context.Context, rec *types.MaterialRecord) error

	// AddBatch inserts records in one transaction
	AddBatch(ctx context.Context, recs []*types.MaterialRecord) error

	// Get retrieves a record by ID
	Get(ctx context.Context, id string) (*types.MaterialRecord, error)

	// Delete removes a record by ID
	Delete(ctx context.Context, id string) error

	// DeleteByMaterial removes every record of a material and returns how many were removed
	DeleteByMaterial(ctx context.Context, materialID string) (int, error)

	// List returns records with filtering and pagination
	List(ctx context.Context, opts ListOptions) ([]*types.MaterialRecord, error)

	// Search ranks records by cosine similarity to embedding
	Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]types.MatchResult, error)

	// References groups every stored embedding by material ID
	References(ctx context.Context) (map[string][][]float32, error)

	// Count returns the number of records, optionally for one material
	Count(ctx context.Context, materialID string) (int, error)

	// Stats returns library statistics
	Stats(ctx context.Context) (*types.LibraryStats, error)

	// Compact optimizes storage (VACUUM)
	Compact(ctx context.Context) error

	// Close releases resources
	Close() error
}

// SearchOptions configures similarity search
type SearchOptions struct {
	Category  string
	Method    types.EmbeddingMethod // only compare embeddings produced by this method
	Limit     int
	Threshold float32 // minimum cosine similarity
}

// ListOptions configures listing queries
type ListOptions struct {
	MaterialID string
	Category   string
	Method     types.EmbeddingMethod
	Limit      int
	Offset     int
	OrderBy    string // "created_at", "quality" or "material_id"
	Descending bool
}
