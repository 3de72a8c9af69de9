package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/michaelbrown/jsbox/internal/config"
	"github.com/michaelbrown/jsbox/internal/sandbox"
	"github.com/michaelbrown/jsbox/internal/storage"
)

// Server is the HTTP front end for the sandbox.
type Server struct {
	cfg     *config.Config
	sandbox sandbox.Sandbox
	store   storage.Store // nil when history is disabled
	log     *zap.Logger
	metrics *Metrics // nil when metrics are disabled
	router  chi.Router
	http    *http.Server
}

// New creates a new Server. store may be nil.
func New(cfg *config.Config, sb sandbox.Sandbox, store storage.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		sandbox: sb,
		store:   store,
		log:     logger,
		router:  chi.NewRouter(),
	}
	if cfg.Server.MetricsEnabled {
		s.metrics = NewMetrics()
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.log))
	if s.metrics != nil {
		r.Use(s.metrics.instrument)
	}
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		if rl := s.cfg.Server.RateLimit; rl.RPS > 0 {
			r.Use(newRateLimiter(rl.RPS, rl.Burst).middleware)
		}
		r.Post("/run_js", s.handleRunJS)
		if s.cfg.Server.WebSocketEnabled {
			r.Get("/run_js/ws", s.handleWebSocket)
		}
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	if s.store != nil {
		r.Route("/api/executions", func(r chi.Router) {
			r.Get("/", s.handleListExecutions)
			r.Get("/{id}", s.handleGetExecution)
			r.Delete("/{id}", s.handleDeleteExecution)
		})
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listening on %d: %w", port, err)
	}
	s.log.Info(fmt.Sprintf("JS sandbox listening on %d", port))
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
