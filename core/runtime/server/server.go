// Package server exposes the question-to-SQL pipeline over HTTP: query
// execution, data source listing, run history, health, metrics and API
// documentation.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/history"
	"github.com/querymend/querymend/core/logger"
	"github.com/querymend/querymend/core/pipeline"
	"github.com/querymend/querymend/core/runtime/server/middleware"
)

// Server is the querymend HTTP server.
type Server struct {
	cfg      *config.Config
	catalog  catalog.Catalog
	pipeline *pipeline.Pipeline
	history  *history.Store
	version  string
	limiter  middleware.RateLimiter

	router   *chi.Mux
	server   *http.Server
	port     string
	validate *validator.Validate
	log      *logger.Logger
}

// New assembles the router with the full middleware chain and all routes.
// The history store may be nil, in which case runs are not archived and the
// history endpoint reports the store unavailable.
func New(cfg *config.Config, cat catalog.Catalog, pipe *pipeline.Pipeline, store *history.Store, port string, opts ...Option) *Server {
	if port == "" {
		port = "8080"
	}

	s := &Server{
		cfg:      cfg,
		catalog:  cat,
		pipeline: pipe,
		history:  store,
		version:  "dev",
		port:     port,
		validate: validator.New(),
		log:      logger.New("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter()
	s.registerRoutes()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(120 * time.Second))

	origins := s.cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(middleware.Tracing)
	r.Use(middleware.Metrics)

	if limit := s.cfg.Server.RateLimit; limit > 0 {
		limiter := s.limiter
		if limiter == nil {
			limiter = middleware.NewMemoryRateLimiter()
		}
		r.Use(middleware.RateLimitByIP(limiter, limit, time.Minute))
	}

	return r
}

// Router returns the chi router, used by tests to drive the server without
// binding a port.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	if err := s.StartAsync(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return s.Stop()
}

// StartAsync starts listening without blocking.
func (s *Server) StartAsync() error {
	s.server = &http.Server{
		Addr:         ":" + s.port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.log.Successf("Listening on http://127.0.0.1:%s", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.log.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Errorf("Error shutting down HTTP server: %v", err)
		if closeErr := s.server.Close(); closeErr != nil {
			s.log.Errorf("Error force closing HTTP server: %v", closeErr)
		}
		return err
	}

	s.log.Info("HTTP server stopped")
	return nil
}
