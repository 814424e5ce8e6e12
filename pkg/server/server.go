// Package server exposes the inference engines and graph builders over HTTP.
//
// Endpoints:
//
//	POST /forward_inference_advanced   forward chaining with optimal trace
//	POST /backward_inference_advanced  backward chaining with optimal trace
//	POST /backward_inference_trace     goal-set display of the backward walk
//	POST /generate_fpg                 fact precedence graph
//	POST /generate_rpg                 rule precedence graph
//	POST /analyze                      all of the above in one call
//	GET  /health, /status, /metrics
//	GET|POST /rulebooks, GET|DELETE /rulebooks/{name}
//
// Every call builds its own rules.Store from the request (or from a stored
// rulebook), so concurrent requests share nothing but the response cache and
// the counters.
//
// Example Usage:
//
//	books := storage.NewMemoryEngine()
//	srv, err := server.New(books, config.Default(), logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Stop(context.Background())
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orneryd/rulechain/pkg/audit"
	"github.com/orneryd/rulechain/pkg/cache"
	"github.com/orneryd/rulechain/pkg/config"
	"github.com/orneryd/rulechain/pkg/storage"
)

// Errors for HTTP operations.
var (
	ErrServerClosed = errors.New("server closed")
	ErrNoStorage    = errors.New("rulebook storage required")
)

// RequestIDHeader carries the per-request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Server is the HTTP API server.
type Server struct {
	config *config.Config
	books  storage.Engine
	logger *zap.Logger
	cache  *cache.ResultCache
	audit  *audit.Logger

	registry *prometheus.Registry
	metrics  *metrics

	httpServer *http.Server
	listener   net.Listener

	closed  atomic.Bool
	started time.Time

	requestCount   atomic.Int64
	errorCount     atomic.Int64
	activeRequests atomic.Int64
}

// New creates a server over books. A nil cfg uses config.Default(); a nil
// logger discards logs.
func New(books storage.Engine, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if books == nil {
		return nil, ErrNoStorage
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rc := cache.New(cfg.Cache.MaxSize, cfg.Cache.TTL)
	rc.SetEnabled(cfg.Cache.Enabled)

	return &Server{
		config:   cfg,
		books:    books,
		logger:   logger.Named("server"),
		cache:    rc,
		registry: registry,
		metrics:  newMetrics(registry),
		started:  time.Now(),
	}, nil
}

// Start begins listening for HTTP connections.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// SetAuditLogger journals rulebook changes to logger. Call before Start.
func (s *Server) SetAuditLogger(logger *audit.Logger) {
	s.audit = logger
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stats returns server statistics.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Uptime:         time.Since(s.started),
		RequestCount:   s.requestCount.Load(),
		ErrorCount:     s.errorCount.Load(),
		ActiveRequests: s.activeRequests.Load(),
	}
}

// ServerStats holds server metrics.
type ServerStats struct {
	Uptime         time.Duration `json:"uptime"`
	RequestCount   int64         `json:"request_count"`
	ErrorCount     int64         `json:"error_count"`
	ActiveRequests int64         `json:"active_requests"`
}

// =============================================================================
// Router Setup
// =============================================================================

// endpoints lists the routes reported by /health.
var endpoints = []string{
	"/forward_inference_advanced",
	"/backward_inference_advanced",
	"/backward_inference_trace",
	"/generate_fpg",
	"/generate_rpg",
	"/analyze",
	"/rulebooks",
	"/status",
	"/health",
}

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	// Inference
	mux.HandleFunc("/forward_inference_advanced", s.handleForward)
	mux.HandleFunc("/backward_inference_advanced", s.handleBackward)
	mux.HandleFunc("/backward_inference_trace", s.handleTrace)
	mux.HandleFunc("/analyze", s.handleAnalyze)

	// Graphs
	mux.HandleFunc("/generate_fpg", s.handleFPG)
	mux.HandleFunc("/generate_rpg", s.handleRPG)

	// Rulebooks
	mux.HandleFunc("/rulebooks", s.handleRulebooks)
	mux.HandleFunc("/rulebooks/{name}", s.handleRulebook)

	// Operations
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	if s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}

	// Wrap with middleware (outermost first)
	var handler http.Handler = mux
	handler = s.metricsMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	handler = s.corsMiddleware(handler)

	return handler
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Server.EnableCORS {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}

			allowed := false
			for _, o := range s.config.Server.CORSOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, "+RequestIDHeader)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// requestIDMiddleware reuses the caller's X-Request-ID or mints one.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip health checks for noise reduction
		if r.URL.Path != "/health" {
			s.logRequest(r, wrapped.status, time.Since(start))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic in handler",
					zap.Any("panic", err),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID(r)),
					zap.Stack("stack"))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.metrics.observeRequest(routeLabel(r), wrapped.status)
	})
}

// routeLabel keeps metric cardinality bounded: rulebook names collapse into
// one label and unknown paths into another.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "other"
}

// =============================================================================
// Health & Status
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"time":      time.Now().Format(time.RFC3339),
		"endpoints": endpoints,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.Stats()

	books, err := s.books.List()
	if err != nil {
		s.logger.Warn("list rulebooks", zap.Error(err))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "running",
		"server": map[string]any{
			"uptime_seconds": stats.Uptime.Seconds(),
			"requests":       stats.RequestCount,
			"errors":         stats.ErrorCount,
			"active":         stats.ActiveRequests,
		},
		"cache": s.cache.Stats(),
		"storage": map[string]any{
			"backend":   s.config.Storage.Backend,
			"rulebooks": len(books),
		},
	})
}

// =============================================================================
// Helpers
// =============================================================================

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) readJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, s.config.Server.MaxRequestSize)
	dec := json.NewDecoder(body)
	return dec.Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Success  bool     `json:"success"`
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, problems ...string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, errorResponse{Error: message, Problems: problems})
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	return false
}

func (s *Server) logRequest(r *http.Request, status int, duration time.Duration) {
	s.logger.Info("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("request_id", requestID(r)))
}
