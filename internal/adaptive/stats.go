package adaptive

import (
	"sort"
	"time"

	"github.com/Basilakis/kai-sub003/pkg/types"
)

const (
	// emaAlpha weights the newest sample in per-material running averages
	emaAlpha = 0.3

	qualityHistoryLimit = 10
	timeWindowLimit     = 100
)

// MethodPerformance is the per-material, per-method running record
type MethodPerformance struct {
	Count          int64    `json:"count"`
	Quality        *float64 `json:"quality"`
	ProcessingTime *float64 `json:"processing_time"`
}

// QualitySample is one entry of a material's recent quality history
type QualitySample struct {
	Method    types.EmbeddingMethod `json:"method"`
	Quality   float64               `json:"quality"`
	Timestamp time.Time             `json:"timestamp"`
}

// MaterialPerformance aggregates everything known about one material
type MaterialPerformance struct {
	Methods         map[types.EmbeddingMethod]*MethodPerformance `json:"methods"`
	PreferredMethod types.EmbeddingMethod                        `json:"preferred_method,omitempty"`
	QualityHistory  []QualitySample                              `json:"quality_history"`
}

// PerformanceStatistics is the controller's persisted bookkeeping.
// TotalEmbeddings always equals the sum of MethodUsage. AverageQuality[m] is the mean
// of the QualitySamples[m] scored generations of m; unscored ones only count as usage.
type PerformanceStatistics struct {
	MethodSwitches      int64                               `json:"method_switches"`
	TotalEmbeddings     int64                               `json:"total_embeddings"`
	MethodUsage         map[types.EmbeddingMethod]int64     `json:"method_usage"`
	AverageQuality      map[types.EmbeddingMethod]float64   `json:"average_quality"`
	QualitySamples      map[types.EmbeddingMethod]int64     `json:"quality_samples"`
	MaterialPerformance map[string]*MaterialPerformance     `json:"material_performance"`
	TimePerformance     map[types.EmbeddingMethod][]float64 `json:"time_performance"`
}

// NewPerformanceStatistics returns zeroed statistics with an entry for every method
func NewPerformanceStatistics() *PerformanceStatistics {
	s := &PerformanceStatistics{}
	s.normalize()
	return s
}

// normalize fills nil maps and missing method entries, e.g. after loading an older file
func (s *PerformanceStatistics) normalize() {
	if s.MethodUsage == nil {
		s.MethodUsage = make(map[types.EmbeddingMethod]int64)
	}
	if s.AverageQuality == nil {
		s.AverageQuality = make(map[types.EmbeddingMethod]float64)
	}
	if s.QualitySamples == nil {
		// files written before the field existed averaged over usage
		s.QualitySamples = make(map[types.EmbeddingMethod]int64, len(s.MethodUsage))
		for m, n := range s.MethodUsage {
			s.QualitySamples[m] = n
		}
	}
	if s.MaterialPerformance == nil {
		s.MaterialPerformance = make(map[string]*MaterialPerformance)
	}
	if s.TimePerformance == nil {
		s.TimePerformance = make(map[types.EmbeddingMethod][]float64)
	}
	for _, m := range types.AllMethods() {
		if _, ok := s.MethodUsage[m]; !ok {
			s.MethodUsage[m] = 0
		}
		if _, ok := s.AverageQuality[m]; !ok {
			s.AverageQuality[m] = 0
		}
		if _, ok := s.QualitySamples[m]; !ok {
			s.QualitySamples[m] = 0
		}
		if s.TimePerformance[m] == nil {
			s.TimePerformance[m] = []float64{}
		}
	}
	for id, mp := range s.MaterialPerformance {
		if mp == nil {
			delete(s.MaterialPerformance, id)
			continue
		}
		if mp.Methods == nil {
			mp.Methods = make(map[types.EmbeddingMethod]*MethodPerformance)
		}
		if mp.QualityHistory == nil {
			mp.QualityHistory = []QualitySample{}
		}
	}
}

// Record folds one generation outcome into the statistics.
// quality and processingTime are optional; nil leaves the corresponding averages untouched.
func (s *PerformanceStatistics) Record(method types.EmbeddingMethod, materialID string, quality, processingTime *float64, now time.Time) {
	s.TotalEmbeddings++
	if !method.Known() {
		return
	}

	s.MethodUsage[method]++

	if quality != nil {
		s.QualitySamples[method]++
		if n := s.QualitySamples[method]; n == 1 {
			s.AverageQuality[method] = *quality
		} else {
			prev := s.AverageQuality[method]
			s.AverageQuality[method] = prev + (*quality-prev)/float64(n)
		}
	}

	if processingTime != nil {
		window := append(s.TimePerformance[method], *processingTime)
		if len(window) > timeWindowLimit {
			window = append([]float64(nil), window[len(window)-timeWindowLimit:]...)
		}
		s.TimePerformance[method] = window
	}

	if materialID == "" {
		return
	}

	mp := s.MaterialPerformance[materialID]
	if mp == nil {
		mp = &MaterialPerformance{
			Methods:        make(map[types.EmbeddingMethod]*MethodPerformance),
			QualityHistory: []QualitySample{},
		}
		s.MaterialPerformance[materialID] = mp
	}

	perf := mp.Methods[method]
	if perf == nil {
		perf = &MethodPerformance{}
		mp.Methods[method] = perf
	}
	perf.Count++
	if quality != nil {
		perf.Quality = ema(perf.Quality, *quality)
		mp.QualityHistory = append(mp.QualityHistory, QualitySample{Method: method, Quality: *quality, Timestamp: now})
		if len(mp.QualityHistory) > qualityHistoryLimit {
			mp.QualityHistory = append([]QualitySample(nil), mp.QualityHistory[len(mp.QualityHistory)-qualityHistoryLimit:]...)
		}
	}
	if processingTime != nil {
		perf.ProcessingTime = ema(perf.ProcessingTime, *processingTime)
	}

	if best, ok := preferredMethod(mp.Methods); ok {
		mp.PreferredMethod = best
	}
}

// preferredMethod returns the method with the highest recorded quality.
// Ties resolve to the lexicographically smallest method name.
func preferredMethod(methods map[types.EmbeddingMethod]*MethodPerformance) (types.EmbeddingMethod, bool) {
	var (
		best  types.EmbeddingMethod
		score float64
		found bool
	)
	for _, m := range sortedMethods(methods) {
		p := methods[m]
		if p == nil || p.Quality == nil {
			continue
		}
		if !found || *p.Quality > score {
			best, score, found = m, *p.Quality, true
		}
	}
	return best, found
}

// BestMethod returns the method with the highest average quality, or fallback when none has data
func (s *PerformanceStatistics) BestMethod(fallback types.EmbeddingMethod) types.EmbeddingMethod {
	best := fallback
	score := 0.0
	for _, m := range sortedMethods(s.AverageQuality) {
		if q := s.AverageQuality[m]; q > score {
			best, score = m, q
		}
	}
	return best
}

// AverageTimes returns the mean of each method's time window; empty windows report 0
func (s *PerformanceStatistics) AverageTimes() map[types.EmbeddingMethod]float64 {
	out := make(map[types.EmbeddingMethod]float64, len(s.TimePerformance))
	for m, samples := range s.TimePerformance {
		if len(samples) == 0 {
			out[m] = 0
			continue
		}
		var sum float64
		for _, v := range samples {
			sum += v
		}
		out[m] = sum / float64(len(samples))
	}
	return out
}

// Clone returns a deep copy that shares no memory with s
func (s *PerformanceStatistics) Clone() *PerformanceStatistics {
	out := &PerformanceStatistics{
		MethodSwitches:      s.MethodSwitches,
		TotalEmbeddings:     s.TotalEmbeddings,
		MethodUsage:         make(map[types.EmbeddingMethod]int64, len(s.MethodUsage)),
		AverageQuality:      make(map[types.EmbeddingMethod]float64, len(s.AverageQuality)),
		QualitySamples:      make(map[types.EmbeddingMethod]int64, len(s.QualitySamples)),
		MaterialPerformance: make(map[string]*MaterialPerformance, len(s.MaterialPerformance)),
		TimePerformance:     make(map[types.EmbeddingMethod][]float64, len(s.TimePerformance)),
	}
	for m, v := range s.MethodUsage {
		out.MethodUsage[m] = v
	}
	for m, v := range s.AverageQuality {
		out.AverageQuality[m] = v
	}
	for m, v := range s.QualitySamples {
		out.QualitySamples[m] = v
	}
	for m, v := range s.TimePerformance {
		out.TimePerformance[m] = append([]float64{}, v...)
	}
	for id, mp := range s.MaterialPerformance {
		cp := &MaterialPerformance{
			Methods:         make(map[types.EmbeddingMethod]*MethodPerformance, len(mp.Methods)),
			PreferredMethod: mp.PreferredMethod,
			QualityHistory:  append([]QualitySample{}, mp.QualityHistory...),
		}
		for m, p := range mp.Methods {
			cp.Methods[m] = &MethodPerformance{
				Count:          p.Count,
				Quality:        cloneFloat(p.Quality),
				ProcessingTime: cloneFloat(p.ProcessingTime),
			}
		}
		out.MaterialPerformance[id] = cp
	}
	return out
}

// StatsSnapshot is a point-in-time copy of the statistics plus derived fields
type StatsSnapshot struct {
	PerformanceStatistics
	AverageTime map[types.EmbeddingMethod]float64 `json:"average_time"`
	BestMethod  types.EmbeddingMethod             `json:"best_method"`
	Timestamp   time.Time                         `json:"timestamp"`
}

func ema(prev *float64, sample float64) *float64 {
	v := sample
	if prev != nil {
		v = emaAlpha*sample + (1-emaAlpha)*(*prev)
	}
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func sortedMethods[V any](m map[types.EmbeddingMethod]V) []types.EmbeddingMethod {
	keys := make([]types.EmbeddingMethod, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
