// Package api exposes the analysis engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatlens/internal/api/gateway"
	"github.com/lvonguyen/threatlens/internal/engine"
	"github.com/lvonguyen/threatlens/internal/mitre"
	"github.com/lvonguyen/threatlens/internal/observability"
	"github.com/lvonguyen/threatlens/internal/sources"
)

const maxBodyBytes = 4 << 10

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, product string) (*engine.Report, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// ErrorRecorder attaches an error to the active span and logs it.
type ErrorRecorder interface {
	RecordError(ctx context.Context, msg string, err error, fields ...zap.Field)
}

// Options configures a Server. TrustProxy enables chi's RealIP middleware,
// which takes the client address from forwarding headers; leave it off
// unless a proxy that sets them sits in front.
type Options struct {
	Analyzer       Analyzer
	Connectors     []sources.Connector
	Attack         *mitre.AttackFramework
	Limiter        *gateway.RateLimiter
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Tracer         trace.Tracer
	Errors         ErrorRecorder
	Checks         map[string]Check
	AnalyzeTimeout time.Duration
	TrustProxy     bool
	Version        string
}

// Server holds the HTTP handlers. It keeps no per-request state.
type Server struct {
	opts Options
}

// AnalyzeRequest is the body of POST /api/v1/threats/analyze.
type AnalyzeRequest struct {
	Product string `json:"product"`
}

// SourceInfo describes one configured connector.
type SourceInfo struct {
	Name      string `json:"name"`
	Authority string `json:"authority"`
}

// NewServer creates a server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AnalyzeTimeout <= 0 {
		opts.AnalyzeTimeout = 60 * time.Second
	}
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = http.NotFoundHandler()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/lvonguyen/threatlens/internal/api")
	}
	return &Server{opts: opts}
}

// Router builds the chi router with all middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestLogger(s.opts.Logger, s.opts.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if s.opts.Limiter != nil {
			r.Use(s.opts.Limiter.Middleware)
		}
		r.Get("/sources", s.handleSources)
		r.Get("/attack/techniques", s.handleTechniques)
		r.Post("/threats/analyze", s.handleAnalyze)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.opts.Version,
	})
}

// handleReady answers 200 in both states; a failed check reports "degraded".
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ready"
	checks := make(map[string]string, len(s.opts.Checks))
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			status = "degraded"
			checks[name] = "unavailable: " + err.Error()
			s.opts.Metrics.SetHealth(name, false)
			continue
		}
		checks[name] = "ok"
		s.opts.Metrics.SetHealth(name, true)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	out := make([]SourceInfo, 0, len(s.opts.Connectors))
	for _, c := range s.opts.Connectors {
		out = append(out, SourceInfo{Name: c.Name(), Authority: string(c.Authority())})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": out,
		"count":   len(out),
	})
}

// handleTechniques lists the ATT&CK techniques of one tactic, given by id
// (TA0001) or short name (initial-access).
func (s *Server) handleTechniques(w http.ResponseWriter, r *http.Request) {
	if s.opts.Attack == nil {
		writeError(w, http.StatusServiceUnavailable, "attack catalog not initialized")
		return
	}

	name := r.URL.Query().Get("tactic")
	if name == "" {
		writeError(w, http.StatusBadRequest, "tactic query parameter is required")
		return
	}
	tactic, ok := s.opts.Attack.GetTactic(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown tactic: "+name)
		return
	}

	techniques := s.opts.Attack.GetTechniquesByTactic(tactic.ShortName)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tactic":     tactic,
		"techniques": techniques,
		"count":      len(techniques),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.opts.Analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not initialized")
		return
	}

	var req AnalyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is required")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, span := s.opts.Tracer.Start(r.Context(), "api.Analyze",
		trace.WithAttributes(attribute.String("request_id", middleware.GetReqID(r.Context()))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.AnalyzeTimeout)
	defer cancel()

	report, err := s.opts.Analyzer.Analyze(ctx, req.Product)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.recordError(ctx, "Analysis failed", err,
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) recordError(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if s.opts.Errors != nil {
		s.opts.Errors.RecordError(ctx, msg, err, fields...)
		return
	}
	s.opts.Logger.Error(msg, append(fields, zap.Error(err))...)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
