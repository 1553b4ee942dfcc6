// Package api provides the HTTP API server for retail pricing
// Serves published recommendations and prices analytical rows on demand
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"retail-pricing/db/sqlstore"
	"retail-pricing/decision/recommendation"
	records "retail-pricing/pkg/api"
	perrors "retail-pricing/pkg/errors"
	"retail-pricing/pkg/metrics"
	"retail-pricing/pkg/platform"
)

var version = "0.1.0"

// Server is the HTTP API server
type Server struct {
	httpServer  *http.Server
	source      RecommendationSource
	runs        RunLister
	recommender *recommendation.Engine
	metrics     *metrics.Registry
	logger      zerolog.Logger
	config      *Config
	startTime   time.Time
}

// Config holds server configuration
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
	CORSOrigins    []string
	APIKey         string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxRequestSize: 10 * 1024 * 1024, // 10MB
		CORSOrigins:    []string{"*"},
	}
}

// NewServer creates a new API server. runs and reg may be nil.
func NewServer(source RecommendationSource, rules platform.RulesConfig, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		source:      source,
		recommender: recommendation.NewEngine(rules),
		logger:      zerolog.Nop(),
		config:      config,
		startTime:   time.Now(),
	}
}

// WithRuns enables the run listing endpoint
func (s *Server) WithRuns(runs RunLister) *Server {
	s.runs = runs
	return s
}

// WithMetrics exposes reg on /metrics
func (s *Server) WithMetrics(reg *metrics.Registry) *Server {
	s.metrics = reg
	return s
}

// WithLogger sets the request logger
func (s *Server) WithLogger(logger zerolog.Logger) *Server {
	s.logger = logger
	return s
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/version", s.handleVersion)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(platform.APIKeyMiddleware(s.config.APIKey))
		r.Get("/recommendations", s.handleRecommendations)
		r.Post("/recommend", s.handleRecommend)
		r.Get("/rules", s.handleRules)
		r.Get("/runs", s.handleRuns)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Int("port", s.config.Port).Str("version", version).Msg("Starting retail pricing API server")
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown starts server with graceful shutdown handling
func (s *Server) StartWithGracefulShutdown() error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
		s.logger.Info().Msg("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("elapsed", time.Since(start)).
			Msg("Request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, o := range s.config.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "retailprice-api",
		"version": version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if p, ok := s.source.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			s.jsonError(w, http.StatusServiceUnavailable, "database unreachable: "+err.Error())
			return
		}
	}
	if _, err := s.source.Recommendations(ctx, sqlstore.Filter{}); err != nil {
		s.jsonError(w, http.StatusServiceUnavailable, "recommendations not ready: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"version": version,
		"service": "retailprice-api",
	})
}

// =============================================================================
// RECOMMENDATION ENDPOINTS
// =============================================================================

// RecommendationsResponse lists recommendations
type RecommendationsResponse struct {
	Count           int                            `json:"count"`
	Recommendations []records.RecommendationRecord `json:"recommendations"`
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	f := sqlstore.Filter{SKU: r.URL.Query().Get("sku")}
	if store := r.URL.Query().Get("store"); store != "" {
		id, err := strconv.Atoi(store)
		if err != nil {
			s.jsonError(w, http.StatusBadRequest, "store must be an integer")
			return
		}
		f.StoreID = id
	}

	recs, err := s.source.Recommendations(r.Context(), f)
	if err != nil {
		if perrors.IsMissingInput(err) {
			s.jsonError(w, http.StatusNotFound, "no recommendations published yet")
			return
		}
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load recommendations: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, RecommendationsResponse{Count: len(recs), Recommendations: recs})
}

// RecommendRequest carries analytical rows to price
type RecommendRequest struct {
	Records []records.AnalyticalRecord `json:"records"`
}

// RecommendResponse is the on-demand pricing result
type RecommendResponse struct {
	Recommendations []records.RecommendationRecord `json:"recommendations"`
	ByJustification map[records.Justification]int  `json:"by_justification"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var req RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	result, err := s.recommender.Recommend(req.Records)
	if err != nil {
		var invalid *perrors.InvalidInputError
		if errors.As(err, &invalid) {
			s.jsonError(w, http.StatusBadRequest, invalid.Reason)
			return
		}
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.metrics != nil {
		for reason, n := range result.ByJustification {
			s.metrics.Recommendations.WithLabelValues(string(reason)).Add(float64(n))
		}
	}
	s.jsonResponse(w, http.StatusOK, RecommendResponse{
		Recommendations: result.Records,
		ByJustification: result.ByJustification,
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"evaluation": "in order; the last matching rule wins",
		"rules":      s.recommender.Rules(),
	})
}

// =============================================================================
// RUN ENDPOINT
// =============================================================================

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, runs)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{
		"error": message,
	})
}
