// Package api exposes scoring, projection and triage over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/observability"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/triage"
)

// Dependencies are the components the handlers call into.
// Cache and Bus may be nil.
type Dependencies struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Scorer    *scoring.Engine
	Rules     *rules.Engine
	Assessor  *triage.Assessor
	Namespace string
	Logger    *zap.Logger
	Version   string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg *domain.Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Namespace == "" {
		deps.Namespace = domain.DefaultNamespace
	}

	handler := NewHandler(deps, cfg.Projection, cfg.Server.MaxUploadMB)
	limiter := NewRateLimiter(cfg.RateLimit)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware(deps.Logger))
	router.Use(middleware.RealIP)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(deps.Logger))
	router.Use(observability.Middleware)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", observability.Handler())

	router.Route("/datasets", func(r chi.Router) {
		r.Post("/", handler.UploadDataset)
		r.Get("/", handler.ListDatasets)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetDataset)
			r.Get("/summary", handler.Summary)
			r.Get("/actors", handler.ListActors)
			r.Get("/scores", handler.Scores)
			r.Get("/actors/{actor}/score", handler.ActorScore)
			r.With(limiter.Middleware).Post("/manual", handler.ManualScore)
			r.Get("/projection", handler.Projection)
			r.Post("/assessments", handler.CreateAssessment)
			r.Get("/assessments", handler.ListAssessments)
		})
	})

	router.Get("/assessments/{id}", handler.GetAssessment)

	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg.Server,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
