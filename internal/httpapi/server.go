// Package httpapi exposes message ingestion, decision history, health and metrics over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/engine"
	"github.com/Veraticus/the-mail-must-flow/internal/inbound"
	"github.com/Veraticus/the-mail-must-flow/internal/metrics"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

const (
	defaultMaxBodyBytes = 25 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// MessageProcessor runs a user's rules over one raw message.
type MessageProcessor interface {
	Process(ctx context.Context, userID string, raw []byte, opts inbound.Options) (engine.RunRulesResult, error)
}

// HistoryStore lists stored decisions.
type HistoryStore interface {
	ListExecutedRules(ctx context.Context, userID string, filter service.ExecutedRuleFilter) ([]model.ExecutedRule, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker func(ctx context.Context) error

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Health       map[string]HealthChecker
	Addr         string
	APIKey       string
	MaxBodyBytes int64
}

// Server serves the HTTP surface.
type Server struct {
	processor MessageProcessor
	history   HistoryStore
	server    *http.Server
	logger    *slog.Logger
	opts      ServerOptions
}

// New creates a server.
func New(processor MessageProcessor, history HistoryStore, opts ServerOptions) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Server{
		processor: processor,
		history:   history,
		opts:      opts,
		logger:    slog.Default().With("component", "httpapi"),
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down HTTP server", "error", err)
		}
	}()

	s.logger.Info("Starting HTTP server", "addr", s.opts.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.metricsMiddleware)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/users/{userID}/messages", s.handleProcessMessage).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/executed-rules", s.handleListExecutedRules).Methods(http.MethodGet)

	return router
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		metrics.RecordHTTPRequestDuration(r.Method, path, strconv.Itoa(rec.status), time.Since(start))
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.APIKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.opts.Health))
	for name, check := range s.opts.Health {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	s.writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func (s *Server) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Message too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	if len(raw) == 0 {
		s.writeError(w, http.StatusBadRequest, "Message body is required")
		return
	}

	isTest, _ := strconv.ParseBool(r.URL.Query().Get("test"))
	rerun, _ := strconv.ParseBool(r.URL.Query().Get("rerun"))

	result, err := s.processor.Process(r.Context(), userID, raw, inbound.Options{
		Source: "http",
		IsTest: isTest,
		Rerun:  rerun,
	})
	if err != nil {
		s.writeProcessError(w, userID, err)
		return
	}

	status := http.StatusOK
	if result.ExecutedRule != nil && !result.Existing {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, newDecisionResponse(result))
}

func (s *Server) writeProcessError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, common.ErrUnknownUser):
		s.writeError(w, http.StatusNotFound, "Unknown user")
	case errors.Is(err, common.ErrInvalidMsg):
		s.writeError(w, http.StatusUnprocessableEntity, "Invalid message")
	case common.IsRetryable(err):
		s.logger.Warn("Transient failure processing message", "user_id", userID, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "Temporarily unavailable, retry later")
	default:
		s.logger.Error("Failed to process message", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to process message")
	}
}

func (s *Server) handleListExecutedRules(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	q := r.URL.Query()

	filter := service.ExecutedRuleFilter{
		ThreadID: q.Get("thread_id"),
		Limit:    defaultHistoryLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxHistoryLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}

	records, err := s.history.ListExecutedRules(r.Context(), userID, filter)
	if err != nil {
		s.logger.Error("Failed to list executed rules", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list executed rules")
		return
	}

	out := make([]executedRuleResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, newExecutedRuleResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"executed_rules": out,
		"count":          len(out),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
