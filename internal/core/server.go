// Package core provides the HTTP chassis for the engagement pipeline API.
// It owns the chi router, the global middleware chain (recovery, request IDs,
// structured logging), the response envelope, and the health endpoint.
// Domain handlers are mounted through route registrars so core never imports
// handler packages.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"podflow/internal/config"
)

// RouteRegistrar mounts a group of domain routes onto the v1 router. The
// application entry point populates these; the indirection keeps core free of
// handler imports.
type RouteRegistrar func(r chi.Router)

// Server bundles the router with its cross-cutting dependencies.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	HealthProbes      []HealthProbe
	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer builds a Server with an empty router. Routes are mounted
// separately via MountRoutes so tests can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + s.Config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.Config.Server.ReadTimeout,
		WriteTimeout: s.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("api server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.Logger.Info("api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Config.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
