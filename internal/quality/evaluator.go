// Package quality scores embeddings and recommends alternative embedding methods
package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Basilakis/kai-sub003/internal/simd"
	"github.com/Basilakis/kai-sub003/pkg/types"
	"go.uber.org/zap"
)

// DataFile is the evaluator's persistence file inside the cache directory
const DataFile = "quality_evaluator_data.json"

const (
	historyLimit = 20
	unlabelled   = "_unlabelled"

	// anyMethod keys references whose producing method is unknown (the reference file)
	anyMethod types.EmbeddingMethod = ""

	weightReference       = 0.5
	weightDistinctiveness = 0.2
	weightInformation     = 0.2
	weightStability       = 0.1
)

// ErrEmptyEmbedding is returned when asked to score a zero-length embedding
var ErrEmptyEmbedding = errors.New("empty embedding")

// Evaluator scores embeddings and suggests better methods
type Evaluator interface {
	// EvaluateQuality scores an embedding; Overall is in [0, 1]
	EvaluateQuality(ctx context.Context, embedding []float32, materialID string, method types.EmbeddingMethod) (types.QualityReport, error)

	// RecommendMethod picks a method to try instead of current
	RecommendMethod(materialID string, current types.EmbeddingMethod, currentQuality float64, available []types.EmbeddingMethod) types.EmbeddingMethod

	// LoadPerformanceData restores persisted history
	LoadPerformanceData() error

	// SavePerformanceData persists history
	SavePerformanceData() error
}

// Config configures the reference evaluator
type Config struct {
	ReferencePath    string            // JSON file: {"material_id": [[...], ...]}
	QualityThreshold float64           // informational; the controller applies it
	CategoryMap      map[string]string // material id -> category
	CacheDir         string
}

// ReferenceEvaluator scores embeddings against known reference embeddings and
// intrinsic vector statistics, and keeps per-material quality history.
// An embedding is only compared with references produced by the same method,
// plus references loaded from file, whose method is unknown.
type ReferenceEvaluator struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.RWMutex
	references map[string]map[types.EmbeddingMethod][][]float32
	categories map[string]string
	history    map[string]map[types.EmbeddingMethod][]float64
}

type persistedData struct {
	History   map[string]map[types.EmbeddingMethod][]float64 `json:"history"`
	UpdatedAt time.Time                                       `json:"updated_at"`
}

// NewReferenceEvaluator creates an evaluator. A missing or unreadable reference file is
// logged and the evaluator starts without references.
func NewReferenceEvaluator(cfg Config, logger *zap.Logger) *ReferenceEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &ReferenceEvaluator{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "quality_evaluator")),
		references: make(map[string]map[types.EmbeddingMethod][][]float32),
		categories: make(map[string]string, len(cfg.CategoryMap)),
		history:    make(map[string]map[types.EmbeddingMethod][]float64),
	}
	for id, cat := range cfg.CategoryMap {
		e.categories[id] = cat
	}
	if cfg.ReferencePath != "" {
		if err := e.LoadReferences(cfg.ReferencePath); err != nil {
			e.logger.Warn("failed to load reference embeddings", zap.String("path", cfg.ReferencePath), zap.Error(err))
		}
	}
	return e
}

// LoadReferences merges reference embeddings from a JSON file. The file does not say
// which method produced its vectors, so they are scored against every method.
func (e *ReferenceEvaluator) LoadReferences(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read references: %w", err)
	}
	var refs map[string][][]float32
	if err := json.Unmarshal(data, &refs); err != nil {
		return fmt.Errorf("failed to parse references: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vecs := range refs {
		for _, v := range vecs {
			e.addLocked(id, anyMethod, v)
		}
	}
	return nil
}

// AddReference registers one more reference embedding for a material, produced by method
func (e *ReferenceEvaluator) AddReference(materialID, category string, method types.EmbeddingMethod, embedding []float32) {
	if materialID == "" || len(embedding) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addLocked(materialID, method, embedding)
	if category != "" {
		e.categories[materialID] = category
	}
}

// ReferenceCount returns the number of materials with at least one reference
func (e *ReferenceEvaluator) ReferenceCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.references)
}

// EvaluateQuality computes sub-scores and their weighted overall score, and records
// the overall score in the material's history.
func (e *ReferenceEvaluator) EvaluateQuality(ctx context.Context, embedding []float32, materialID string, method types.EmbeddingMethod) (types.QualityReport, error) {
	if len(embedding) == 0 {
		return types.QualityReport{}, ErrEmptyEmbedding
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	scores := make(map[string]float64, 4)
	weights := make(map[string]float64, 4)

	stability := 0.0
	if simd.Finite(embedding) && simd.L2Norm(embedding) > 0 {
		stability = 1
	}
	scores["stability"], weights["stability"] = stability, weightStability

	if stability == 0 {
		report := types.QualityReport{Overall: 0, Scores: scores}
		e.recordLocked(materialID, method, 0)
		return report, nil
	}

	scores["information"], weights["information"] = informationScore(embedding), weightInformation

	if sim, ok := e.referenceSimilarityLocked(embedding, materialID, method); ok {
		scores["reference_similarity"], weights["reference_similarity"] = sim, weightReference
	}
	if dist, ok := e.distinctivenessLocked(embedding, materialID, method); ok {
		scores["distinctiveness"], weights["distinctiveness"] = dist, weightDistinctiveness
	}

	var sum, total float64
	for k, w := range weights {
		sum += scores[k] * w
		total += w
	}
	overall := clamp01(sum / total)

	e.recordLocked(materialID, method, overall)
	return types.QualityReport{Overall: overall, Scores: scores}, nil
}

// RecommendMethod returns the available method (other than current) with the best
// recorded mean quality for the material, falling back to global history and then to
// the order ml-based, hybrid, feature-based. When history shows no candidate beating
// currentQuality, current is returned.
func (e *ReferenceEvaluator) RecommendMethod(materialID string, current types.EmbeddingMethod, currentQuality float64, available []types.EmbeddingMethod) types.EmbeddingMethod {
	candidates := make([]types.EmbeddingMethod, 0, len(available))
	for _, m := range available {
		if m != current {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return current
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, means := range []map[types.EmbeddingMethod]float64{e.materialMeansLocked(materialID), e.globalMeansLocked()} {
		best, bestMean, found := types.EmbeddingMethod(""), -1.0, false
		for _, m := range candidates {
			if mean, ok := means[m]; ok && mean > bestMean {
				best, bestMean, found = m, mean, true
			}
		}
		if !found {
			continue
		}
		if bestMean <= currentQuality {
			return current
		}
		return best
	}

	for _, m := range []types.EmbeddingMethod{types.MethodMLBased, types.MethodHybrid, types.MethodFeatureBased} {
		for _, c := range candidates {
			if c == m {
				return m
			}
		}
	}
	return candidates[0]
}

// LoadPerformanceData restores quality history from the cache directory.
// A missing file is not an error.
func (e *ReferenceEvaluator) LoadPerformanceData() error {
	if e.cfg.CacheDir == "" {
		return nil
	}
	path := filepath.Join(e.cfg.CacheDir, DataFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read evaluator data %s: %w", path, err)
	}

	var pd persistedData
	if err := json.Unmarshal(data, &pd); err != nil {
		return fmt.Errorf("failed to unmarshal evaluator data %s: %w", path, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = make(map[string]map[types.EmbeddingMethod][]float64, len(pd.History))
	for id, byMethod := range pd.History {
		e.history[id] = make(map[types.EmbeddingMethod][]float64, len(byMethod))
		for m, qs := range byMethod {
			e.history[id][m] = lastN(qs, historyLimit)
		}
	}
	return nil
}

// SavePerformanceData writes quality history to the cache directory
func (e *ReferenceEvaluator) SavePerformanceData() error {
	if e.cfg.CacheDir == "" {
		return nil
	}

	e.mu.RLock()
	data, err := json.MarshalIndent(persistedData{History: e.history, UpdatedAt: time.Now().UTC()}, "", "  ")
	e.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal evaluator data: %w", err)
	}

	path := filepath.Join(e.cfg.CacheDir, DataFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write evaluator data %s: %w", path, err)
	}
	return nil
}

// Reset forgets all quality history
func (e *ReferenceEvaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = make(map[string]map[types.EmbeddingMethod][]float64)
}

func (e *ReferenceEvaluator) recordLocked(materialID string, method types.EmbeddingMethod, q float64) {
	key := materialID
	if key == "" {
		key = unlabelled
	}
	byMethod, ok := e.history[key]
	if !ok {
		byMethod = make(map[types.EmbeddingMethod][]float64)
		e.history[key] = byMethod
	}
	byMethod[method] = lastN(append(byMethod[method], q), historyLimit)
}

func (e *ReferenceEvaluator) addLocked(materialID string, method types.EmbeddingMethod, embedding []float32) {
	byMethod, ok := e.references[materialID]
	if !ok {
		byMethod = make(map[types.EmbeddingMethod][][]float32)
		e.references[materialID] = byMethod
	}
	byMethod[method] = append(byMethod[method], simd.Normalized(embedding))
}

// comparableLocked returns the material's references that embeddings of method can be
// scored against
func (e *ReferenceEvaluator) comparableLocked(materialID string, method types.EmbeddingMethod) [][]float32 {
	byMethod := e.references[materialID]
	if method == anyMethod {
		return byMethod[anyMethod]
	}
	refs := byMethod[method]
	if untyped := byMethod[anyMethod]; len(untyped) > 0 {
		refs = append(refs[:len(refs):len(refs)], untyped...)
	}
	return refs
}

// referenceSimilarityLocked maps the best cosine against the material's references
// (or, failing that, its category's references) from [-1, 1] to [0, 1]
func (e *ReferenceEvaluator) referenceSimilarityLocked(emb []float32, materialID string, method types.EmbeddingMethod) (float64, bool) {
	if materialID == "" {
		return 0, false
	}
	if best, ok := simd.MaxCosine(emb, e.comparableLocked(materialID, method)); ok {
		return (float64(best) + 1) / 2, true
	}

	cat, ok := e.categories[materialID]
	if !ok || cat == "" {
		return 0, false
	}
	var pool [][]float32
	for id := range e.references {
		if id != materialID && e.categories[id] == cat {
			pool = append(pool, e.comparableLocked(id, method)...)
		}
	}
	if best, ok := simd.MaxCosine(emb, pool); ok {
		return (float64(best) + 1) / 2, true
	}
	return 0, false
}

// distinctivenessLocked is 1 minus the mean positive similarity to other materials
func (e *ReferenceEvaluator) distinctivenessLocked(emb []float32, materialID string, method types.EmbeddingMethod) (float64, bool) {
	if materialID == "" {
		return 0, false
	}
	var sum float64
	var n int
	for id := range e.references {
		if id == materialID {
			continue
		}
		if best, ok := simd.MaxCosine(emb, e.comparableLocked(id, method)); ok {
			if best > 0 {
				sum += float64(best)
			}
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return clamp01(1 - sum/float64(n)), true
}

func (e *ReferenceEvaluator) materialMeansLocked(materialID string) map[types.EmbeddingMethod]float64 {
	key := materialID
	if key == "" {
		key = unlabelled
	}
	means := make(map[types.EmbeddingMethod]float64)
	for m, qs := range e.history[key] {
		if len(qs) > 0 {
			means[m] = mean(qs)
		}
	}
	return means
}

func (e *ReferenceEvaluator) globalMeansLocked() map[types.EmbeddingMethod]float64 {
	all := make(map[types.EmbeddingMethod][]float64)
	for _, byMethod := range e.history {
		for m, qs := range byMethod {
			all[m] = append(all[m], qs...)
		}
	}
	means := make(map[types.EmbeddingMethod]float64, len(all))
	for m, qs := range all {
		if len(qs) > 0 {
			means[m] = mean(qs)
		}
	}
	return means
}

// informationScore rewards dense vectors whose spread matches a unit vector with
// energy spread over all dimensions
func informationScore(emb []float32) float64 {
	density := simd.NonZeroFraction(emb, 1e-6)
	_, std := simd.Moments(emb)
	norm := float64(simd.L2Norm(emb))
	spread := 0.0
	if norm > 0 {
		// a unit vector with energy spread evenly has std close to 1/sqrt(n)
		spread = clamp01(std / norm * math.Sqrt(float64(len(emb))))
	}
	return clamp01(0.5*density + 0.5*spread)
}

func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func lastN(v []float64, n int) []float64 {
	if len(v) <= n {
		return v
	}
	out := make([]float64, n)
	copy(out, v[len(v)-n:])
	return out
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
