// Package api exposes the dispatcher over HTTP with a chi router: job
// creation and inspection, manual runs and sweeps, counts, health, and a
// websocket feed of lifecycle events.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/engine"
	"github.com/xraph/delayed/stream"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng    *engine.Engine
	broker *stream.Broker
	logger *slog.Logger

	streams atomic.Int64
}

// Option configures an API.
type Option func(*API)

// WithBroker enables GET /v1/stream. The broker must also be registered
// on the engine as an extension.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes into r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", a.createJob)
		r.Get("/jobs", a.listJobs)
		r.Get("/jobs/{jobId}", a.getJob)
		r.Post("/jobs/{jobId}/run", a.runJob)
		r.Post("/sweep", a.sweep)
		r.Get("/stats", a.stats)
		r.Get("/stream", a.streamEvents)
	})
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, delayed.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, delayed.ErrInvalidActor),
		errors.Is(err, delayed.ErrInvalidQueue),
		errors.Is(err, delayed.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, delayed.ErrJobAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, delayed.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if s := a.eng.Dispatcher().Store(); s != nil {
		if err := s.Ping(r.Context()); err != nil {
			writeErr(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
