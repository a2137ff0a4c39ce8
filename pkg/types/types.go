// Package types defines the core data structures for kai material embeddings
package types

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyImage is returned when an image has no pixel data
	ErrEmptyImage = errors.New("image has no pixel data")

	// ErrNotFound is returned when a library record does not exist
	ErrNotFound = errors.New("not found")
)

// EmbeddingMethod names one of the embedding back-ends
type EmbeddingMethod string

const (
	MethodFeatureBased EmbeddingMethod = "feature-based" // Handcrafted CPU descriptor, always available
	MethodMLBased      EmbeddingMethod = "ml-based"      // Neural network backend, optional
	MethodHybrid       EmbeddingMethod = "hybrid"        // Combination of the two
)

// AllMethods returns every known method in canonical order
func AllMethods() []EmbeddingMethod {
	return []EmbeddingMethod{MethodFeatureBased, MethodMLBased, MethodHybrid}
}

// Known reports whether m is one of the closed set of methods
func (m EmbeddingMethod) Known() bool {
	switch m {
	case MethodFeatureBased, MethodMLBased, MethodHybrid:
		return true
	}
	return false
}

// ParseMethod normalizes case, whitespace and underscores. Unrecognized names are
// returned as given so the controller can remap them.
func ParseMethod(s string) EmbeddingMethod {
	norm := EmbeddingMethod(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if norm.Known() {
		return norm
	}
	return EmbeddingMethod(s)
}

func (m EmbeddingMethod) String() string {
	return string(m)
}

// Image is a decoded raster in row-major order, Channels bytes per pixel
type Image struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Channels int     `json:"channels"`
	Pix      []uint8 `json:"-"`
	Path     string  `json:"path,omitempty"`
}

// At returns the RGB value of the pixel at (x, y). Grayscale images repeat the single channel.
func (img *Image) At(x, y int) (r, g, b uint8) {
	i := (y*img.Width + x) * img.Channels
	if img.Channels < 3 {
		v := img.Pix[i]
		return v, v, v
	}
	return img.Pix[i], img.Pix[i+1], img.Pix[i+2]
}

// Valid reports whether the pixel buffer matches the declared geometry
func (img *Image) Valid() bool {
	if img == nil || img.Width <= 0 || img.Height <= 0 || img.Channels <= 0 {
		return false
	}
	return len(img.Pix) >= img.Width*img.Height*img.Channels
}

// QualityReport is the evaluator's verdict on one embedding
type QualityReport struct {
	Overall float64            `json:"overall"`
	Scores  map[string]float64 `json:"scores,omitempty"`
}

// GenerationInfo describes how a single embedding was produced
type GenerationInfo struct {
	MaterialID      string                            `json:"material_id,omitempty"`
	RequestedMethod EmbeddingMethod                   `json:"requested_method,omitempty"` // set only when substituted
	InitialMethod   EmbeddingMethod                   `json:"initial_method"`
	FinalMethod     EmbeddingMethod                   `json:"final_method"`
	QualityScores   map[EmbeddingMethod]QualityReport `json:"quality_scores"`
	MethodSwitches  int                               `json:"method_switches"`
	ProcessingTime  float64                           `json:"processing_time"` // seconds
	Fallback        bool                              `json:"fallback,omitempty"`
}

// ImageMetadata describes the source image of a result
type ImageMetadata struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels"`
	Path     string `json:"path"`
}

// EmbeddingResult is the stable result object of an adaptive embedding request
type EmbeddingResult struct {
	Vector         []float32                         `json:"vector"`
	Dimensions     int                               `json:"dimensions"`
	Method         EmbeddingMethod                   `json:"method"`
	InitialMethod  EmbeddingMethod                   `json:"initial_method"`
	ProcessingTime float64                           `json:"processing_time"`
	QualityScores  map[EmbeddingMethod]QualityReport `json:"quality_scores"`
	MethodSwitches int                               `json:"method_switches"`
	Adaptive       bool                              `json:"adaptive"`
	ImageMetadata  ImageMetadata                     `json:"image_metadata"`
	MaterialID     string                            `json:"material_id,omitempty"`
}

// MaterialRecord is one reference embedding in the material library
type MaterialRecord struct {
	ID         string            `json:"id"`
	MaterialID string            `json:"material_id"`
	Category   string            `json:"category,omitempty"`
	Method     EmbeddingMethod   `json:"method"`
	Quality    float64           `json:"quality"`
	ImagePath  string            `json:"image_path,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
}

// MatchResult is a library record ranked against a query embedding
type MatchResult struct {
	Record     MaterialRecord `json:"record"`
	Similarity float32        `json:"similarity"`
}

// EmbedRequest is the request payload for embedding an image
type EmbedRequest struct {
	ImagePath  string          `json:"image_path"`
	MaterialID string          `json:"material_id,omitempty"`
	Method     EmbeddingMethod `json:"method,omitempty"`
	Adaptive   *bool           `json:"adaptive,omitempty"` // nil means true
}

// IsAdaptive resolves the optional adaptive flag
func (r EmbedRequest) IsAdaptive() bool {
	return r.Adaptive == nil || *r.Adaptive
}

// RegisterRequest adds an image to the material library
type RegisterRequest struct {
	ImagePath  string            `json:"image_path"`
	MaterialID string            `json:"material_id"`
	Category   string            `json:"category,omitempty"`
	Method     EmbeddingMethod   `json:"method,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RecognizeRequest searches the library for materials similar to an image
type RecognizeRequest struct {
	ImagePath string          `json:"image_path"`
	Method    EmbeddingMethod `json:"method,omitempty"`
	Category  string          `json:"category,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Threshold float32         `json:"threshold,omitempty"`
}

// RecognizeResponse is the ranked result of a recognition request
type RecognizeResponse struct {
	Matches []MatchResult   `json:"matches"`
	Total   int             `json:"total"`
	Query   EmbeddingResult `json:"query"`
	Timing  int64           `json:"timing_ms"`
}

// LibraryStats contains statistics about the material library
type LibraryStats struct {
	TotalRecords     int            `json:"total_records"`
	RecordsByMethod  map[string]int `json:"records_by_method"`
	MaterialCount    int            `json:"material_count"`
	CategoryCount    int            `json:"category_count"`
	StorageBytes     int64          `json:"storage_bytes"`
	EmbeddingMethods []string       `json:"embedding_methods,omitempty"`
}
