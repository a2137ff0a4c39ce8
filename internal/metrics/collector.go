// Package metrics exposes Prometheus metrics for embedding generation and the HTTP API
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records embedding and HTTP metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	embeddingsTotal    *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	embeddingQuality   *prometheus.HistogramVec
	methodSwitches     *prometheus.CounterVec
	fallbacks          *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers all metrics under namespace on reg.
// Pass prometheus.DefaultRegisterer to expose them through promhttp.Handler().
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Collector{
		embeddingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_total",
			Help:      "Total number of embeddings generated, by final method",
		}, []string{"method", "adaptive"}),

		generationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock time of one embedding request",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		embeddingQuality: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_quality",
			Help:      "Overall quality score of evaluated embeddings",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"method"}),

		methodSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "method_switches_total",
			Help:      "Accepted switches from one embedding method to another",
		}, []string{"from", "to"}),

		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_fallbacks_total",
			Help:      "Generation failures recovered by falling back to feature-based",
		}, []string{"method"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by stage",
		}, []string{"stage"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		logger: logger.With(zap.String("component", "metrics")),
	}
}

// RecordGeneration counts one completed embedding request
func (c *Collector) RecordGeneration(method string, adaptive bool, seconds float64) {
	if c == nil {
		return
	}
	c.embeddingsTotal.WithLabelValues(method, strconv.FormatBool(adaptive)).Inc()
	c.generationDuration.WithLabelValues(method).Observe(seconds)
}

// RecordQuality observes an evaluator score
func (c *Collector) RecordQuality(method string, quality float64) {
	if c == nil {
		return
	}
	c.embeddingQuality.WithLabelValues(method).Observe(quality)
}

// RecordSwitch counts an accepted or forced method switch
func (c *Collector) RecordSwitch(from, to string) {
	if c == nil {
		return
	}
	c.methodSwitches.WithLabelValues(from, to).Inc()
}

// RecordFallback counts a failed generation recovered by feature-based
func (c *Collector) RecordFallback(failedMethod string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(failedMethod).Inc()
}

// RecordError counts an error at the given stage
func (c *Collector) RecordError(stage string) {
	if c == nil {
		return
	}
	c.errorsTotal.WithLabelValues(stage).Inc()
}

// RecordHTTPRequest records one served HTTP request
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if status >= 500 {
		c.logger.Debug("server error recorded", zap.String("path", path), zap.Int("status", status))
	}
}
