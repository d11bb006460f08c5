// Package api serves the REST and SSE surface of the ingestion service.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/api/handlers"
	"github.com/romstack/romstack/pkg/broadcast"
	"github.com/romstack/romstack/pkg/catalog/store"
	"github.com/romstack/romstack/pkg/upload"
)

// RequestMetrics observes completed API requests. Satisfied by the prometheus
// metrics bundle; nil disables observation.
type RequestMetrics interface {
	RequestObserved(method, route string, status int, seconds float64)
}

// Deps carries everything the router wires into handlers.
type Deps struct {
	Coordinator *upload.Coordinator
	Store       *store.GORMStore
	Bus         *broadcast.Broadcaster
	Metrics     RequestMetrics
	// MetricsHandler serves GET /metrics; nil disables the endpoint.
	MetricsHandler http.Handler
}

// NewRouter builds the chi router with the full middleware stack and routes.
//
// Middleware order matters: request ID and client IP first so the logger can
// pick them up, recovery before the timeout so panics in timed-out handlers
// still produce a 500.
func NewRouter(cfg Config, deps Deps) http.Handler {
	cfg.applyDefaults()
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(routeTimeout(60 * time.Second))

	uploadHandler := handlers.NewUploadHandler(deps.Coordinator, cfg.MaxChunkBytes)
	catalogHandler := handlers.NewCatalogHandler(deps.Store)
	eventsHandler := handlers.NewEventsHandler(deps.Bus)
	healthHandler := handlers.NewHealthHandler(deps.Store)

	r.Route("/upload", func(r chi.Router) {
		r.Post("/initiate", uploadHandler.Initiate)
		r.Post("/chunk/{id}/{index}", uploadHandler.Chunk)
		r.Get("/status/{id}", uploadHandler.Status)
		r.Delete("/cancel/{id}", uploadHandler.Cancel)
		r.Get("/events/{id}", eventsHandler.Stream)
	})

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/", catalogHandler.List)
		r.Get("/stats", catalogHandler.Stats)
		r.Get("/platforms", catalogHandler.Platforms)
		r.Get("/{id}", catalogHandler.Get)
		r.Delete("/{id}", catalogHandler.Delete)
	})

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// NewMetricsHandler exposes the default prometheus gatherer.
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// routeTimeout applies the request timeout to everything except SSE streams,
// which stay open for the lifetime of an upload.
func routeTimeout(d time.Duration) func(http.Handler) http.Handler {
	timeout := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		timed := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/upload/events/") {
				next.ServeHTTP(w, r)
				return
			}
			timed.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs request completion through the internal logger and feeds
// the request histogram.
func requestLogger(metrics RequestMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())

			logger.Debug("API request started",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", r.RemoteAddr,
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			logger.Info("API request completed",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", duration.Milliseconds(),
			)

			if metrics != nil {
				route := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				metrics.RequestObserved(r.Method, route, ww.Status(), duration.Seconds())
			}
		})
	}
}
