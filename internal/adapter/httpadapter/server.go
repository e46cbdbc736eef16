package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/crisis-data-service/internal/adapter/databricks"
	"github.com/couchcryptid/crisis-data-service/internal/config"
	"github.com/couchcryptid/crisis-data-service/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConfigProvider exposes the active configuration and reloads it on demand.
type ConfigProvider interface {
	Current() *config.Config
	Reload() (*config.Config, error)
}

// MapSource serves the latest merged crisis map.
type MapSource interface {
	Snapshot() *pipeline.Snapshot
}

// Deps are the collaborators behind the API routes.
type Deps struct {
	Config   ConfigProvider
	Executor databricks.Executor
	Genie    databricks.Asker
	// Map is nil when the map refresh pipeline is not running.
	Map   MapSource
	Ready sharedobs.ReadinessChecker
}

// Server exposes the dashboard API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server. CORS and rate limits are read from the
// configuration active at construction.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	cfg := deps.Config.Current()
	r := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:        cfg.HTTPAddr,
			Handler:     r,
			ReadTimeout: 10 * time.Second,
			// Genie answers can take up to two minutes of polling.
			WriteTimeout: 3 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			ExposedHeaders: []string{"Content-Disposition", headerMapRunID},
			MaxAge:         300,
		}))
		r.Use(rateLimit(newLimiterStore(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Now)))

		r.Get("/health", s.handleHealth)
		r.Get("/top_crises", s.handleTopCrises)
		r.Get("/mismatch", s.handleMismatch)
		r.Get("/decision-metrics", s.handleDecisionMetrics)
		r.Get("/crisis-alert", s.handleCrisisAlert)
		r.Post("/chat", s.handleChat)
		r.Get("/genie/status", s.handleGenieStatus)
		r.Post("/genie/ask", s.handleGenieAsk)
		r.Get("/crisis-map", s.handleCrisisMap)
		r.Post("/admin/reload", s.handleReload)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
