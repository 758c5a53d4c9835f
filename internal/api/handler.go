// Package api provides HTTP handlers for the video-agent API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/config"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/session"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/store"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// History lists what learners produced in past sessions.
type History interface {
	ListReflections(ctx context.Context, filter store.ReflectionFilter) ([]domain.ReflectionRecord, error)
	ListQuizResults(ctx context.Context, userID string, limit int) ([]domain.QuizResult, error)
}

// Options configures a Handler.
type Options struct {
	Sessions    *session.Registry
	History     History
	Limiter     *RateLimiter
	MaxBodySize int64
	SSE         config.SSEConfig
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
}

// Handler serves the session, action, stream and history endpoints.
type Handler struct {
	sessions    *session.Registry
	history     History
	limiter     *RateLimiter
	maxBodySize int64
	sse         config.SSEConfig
	metrics     http.Handler
}

// NewHandler creates a new Handler.
func NewHandler(opts Options) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxRequestBodySize
	}
	if opts.SSE.KeepaliveInterval <= 0 {
		opts.SSE.KeepaliveInterval = 10 * time.Second
	}
	if opts.SSE.RetryDelay <= 0 {
		opts.SSE.RetryDelay = 5 * time.Second
	}
	return &Handler{
		sessions:    opts.Sessions,
		history:     opts.History,
		limiter:     opts.Limiter,
		maxBodySize: opts.MaxBodySize,
		sse:         opts.SSE,
		metrics:     opts.Metrics,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Get("/context", h.GetContext)
			r.Post("/actions", h.PostAction)
			r.Get("/stream", h.StreamContext)
		})
		if h.history != nil {
			r.Get("/reflections", h.ListReflections)
			r.Get("/quiz-results", h.ListQuizResults)
		}
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// readBody reads a size-limited request body.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}
