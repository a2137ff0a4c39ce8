// Package server provides the HTTP API server for kai
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Basilakis/kai-sub003/internal/materials"
	"github.com/Basilakis/kai-sub003/internal/metrics"
	"github.com/Basilakis/kai-sub003/internal/store"
	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Version is reported by /health
const Version = "0.1.0"

const maxBodyBytes = 1 << 20

// Server is the HTTP API server
type Server struct {
	svc      materials.Service
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	server   *http.Server
}

// Config configures the server
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Option customizes the server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records request metrics to m and serves g on /metrics
func WithMetrics(m *metrics.Collector, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// New creates a new server
func New(svc materials.Service, cfg Config, opts ...Option) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		svc:    svc,
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "http"))
	return s
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/embed", s.handleEmbed)
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/recognize", s.handleRecognize)
	mux.HandleFunc("/materials", s.handleMaterials)
	mux.HandleFunc("/materials/", s.handleMaterialByID)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return corsMiddleware(s.observe(mux))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  2 * s.config.ReadTimeout,
	}
	s.logger.Info("http server listening", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for browser clients
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe tags each request with an ID, then logs and measures it
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		path := routeLabel(r.URL.Path)
		s.metrics.RecordHTTPRequest(r.Method, path, rec.status, elapsed)
		s.logger.Debug("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed))
	})
}

// routeLabel collapses record IDs so metric labels stay bounded
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/materials/") {
		return "/materials/:id"
	}
	return path
}

// handleEmbed handles POST /embed
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.EmbedRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.svc.Embed(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

// handleRegister handles POST /register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.svc.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, rec, http.StatusCreated)
}

// handleRecognize handles POST /recognize
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.RecognizeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := s.svc.Recognize(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

// handleMaterials handles GET /materials (list) and DELETE /materials?material_id=
func (s *Server) handleMaterials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	switch r.Method {
	case http.MethodGet:
		opts := store.ListOptions{
			MaterialID: q.Get("material_id"),
			Category:   q.Get("category"),
			Method:     types.ParseMethod(q.Get("method")),
			OrderBy:    q.Get("order_by"),
			Descending: q.Get("desc") == "true",
		}
		opts.Limit, _ = strconv.Atoi(q.Get("limit"))
		opts.Offset, _ = strconv.Atoi(q.Get("offset"))

		recs, err := s.svc.List(r.Context(), opts)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if recs == nil {
			recs = []*types.MaterialRecord{}
		}
		writeJSON(w, map[string]any{"records": recs, "total": len(recs)}, http.StatusOK)

	case http.MethodDelete:
		n, err := s.svc.DeleteMaterial(r.Context(), q.Get("material_id"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]int{"deleted": n}, http.StatusOK)

	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMaterialByID handles GET/DELETE /materials/:id
func (s *Server) handleMaterialByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/materials/")
	if id == "" {
		writeError(w, "Record ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.svc.Get(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, rec, http.StatusOK)

	case http.MethodDelete:
		if err := s.svc.Delete(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"deleted": true}, http.StatusOK)

	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStats handles GET /stats and DELETE /stats (reset performance statistics)
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		lib, err := s.svc.LibraryStats(r.Context())
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"library":     lib,
			"performance": s.svc.PerformanceStats(),
		}, http.StatusOK)

	case http.MethodDelete:
		s.svc.ClearStats()
		writeJSON(w, map[string]bool{"cleared": true}, http.StatusOK)

	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "version": Version}, http.StatusOK)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, materials.ErrInvalidRequest),
		errors.Is(err, types.ErrEmptyImage),
		errors.Is(err, fs.ErrNotExist):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, err.Error(), status)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, map[string]string{"error": message}, status)
}
