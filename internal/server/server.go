// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/geowarp/geowarp/internal/config"
	"github.com/geowarp/geowarp/internal/engine"
	"github.com/geowarp/geowarp/internal/metrics"
)

// Server wraps the chi router and its http.Server.
type Server struct {
	router *chi.Mux
	server *http.Server
	logger *zap.Logger
	cfg    config.ServerConfig
}

// New builds the router and registers routes.
func New(cfg config.ServerConfig, svc *engine.Service, logger *zap.Logger, metricsEnabled bool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{
		router: r,
		logger: logger,
		cfg:    cfg,
	}

	h := &handlers{svc: svc, logger: logger}

	r.Get("/healthz", h.health)
	if metricsEnabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/resolve", h.resolve)
		r.Get("/cooldown/{actor}", h.cooldown)
		r.Post("/teleport", h.teleport)
	})

	return s
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
