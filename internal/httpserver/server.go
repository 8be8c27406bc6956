package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/config"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/handlers"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	requesttracking "github.com/florian-lahitte-uvi/Test-stripe/internal/middleware"
)

// BackgroundWorker is started alongside the HTTP listener and stopped before it.
type BackgroundWorker interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

// Deps groups the handlers the router mounts. Nil entries leave their routes unregistered.
type Deps struct {
	DB           handlers.Pinger
	Subscription *handlers.SubscriptionHandler
	Webhook      *handlers.StripeHandler
	Jobs         *handlers.JobHandler
	Worker       BackgroundWorker
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     BackgroundWorker
	log        *logger.Logger
}

// New constructs an HTTP server using the provided configuration and handlers.
func New(cfg config.Config, deps Deps, log *logger.Logger) *Server {
	log = log.Named("httpserver")

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requesttracking.NewRequestTracker(log).Middleware())
	router.Use(middleware.Recoverer)

	router.Get("/healthz", handlers.Health(deps.DB, log))

	if deps.Subscription != nil {
		deps.Subscription.RegisterRoutes(router)
	}
	if deps.Webhook != nil {
		deps.Webhook.RegisterRoutes(router)
	}
	if deps.Jobs != nil {
		deps.Jobs.RegisterRoutes(router)
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker, log: log}
}

// Start begins serving HTTP traffic and starts the worker.
func (s *Server) Start() error {
	if s.worker != nil {
		s.log.Infow("starting job worker")
		s.worker.Start(context.Background())
	}
	s.log.Infow("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.worker != nil {
		s.log.Infow("shutting down job worker")
		if err := s.worker.Stop(ctx); err != nil {
			s.log.Warnw("worker shutdown error", "error", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
