package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podflow/internal/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	_, err = NewServer(&config.Config{}, nil)
	assert.Error(t, err)
}

func TestMountRoutes_RegistersHealthAndV1(t *testing.T) {
	s := testServer(t)
	s.V1RouteRegistrars = []RouteRegistrar{
		func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
				JSON(w, r, http.StatusOK, APIResponse{Data: "pong"})
			})
		},
	}
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestRecoverer_Returns500Envelope(t *testing.T) {
	s := testServer(t)
	s.V1RouteRegistrars = []RouteRegistrar{
		func(r chi.Router) {
			r.Get("/boom", func(http.ResponseWriter, *http.Request) {
				panic("unexpected state")
			})
		},
	}
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_unexpected_error")
	assert.Contains(t, w.Body.String(), "request_id")
}

func TestRequestIDMiddleware(t *testing.T) {
	s := testServer(t)
	s.MountRoutes()

	// Generated when absent.
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	// Propagated when present.
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Request-Id", "req_upstream_42")
	s.Handler().ServeHTTP(w, r)
	assert.Equal(t, "req_upstream_42", w.Header().Get("X-Request-Id"))
}

func TestHandleHealth(t *testing.T) {
	t.Run("no probes reports healthy", func(t *testing.T) {
		s := testServer(t)
		s.MountRoutes()

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "healthy")
	})

	t.Run("all probes passing", func(t *testing.T) {
		s := testServer(t)
		s.HealthProbes = []HealthProbe{
			ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { return nil }},
			ProbeFunc{ProbeName: "engagement_queue", Fn: func(context.Context) error { return nil }},
		}
		s.MountRoutes()

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "database")
		assert.Contains(t, w.Body.String(), "engagement_queue")
	})

	t.Run("failing probe returns 503", func(t *testing.T) {
		s := testServer(t)
		s.HealthProbes = []HealthProbe{
			ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { return nil }},
			ProbeFunc{ProbeName: "engagement_queue", Fn: func(context.Context) error {
				return errors.New("queue unreachable")
			}},
		}
		s.MountRoutes()

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "queue unreachable")
	})

	t.Run("panicking probe reported unhealthy", func(t *testing.T) {
		s := testServer(t)
		s.HealthProbes = []HealthProbe{
			ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { panic("nil pool") }},
		}
		s.MountRoutes()

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "probe panicked")
	})
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Port = "0"
	cfg.Server.ShutdownTimeout = time.Second
	s, err := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	s.MountRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after cancellation")
	}
}
