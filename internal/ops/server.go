// Package ops serves the operational endpoints: Prometheus metrics and a
// health check.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventsub-relay/internal/logging"
	"eventsub-relay/internal/runstatus"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	Addr     string
	Registry *prometheus.Registry
	Status   func() runstatus.Snapshot
	Logger   *logging.Logger
}

func (s Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	if s.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", s.health)
	return r
}

// health answers 200 while streaming and 503 otherwise, with the current
// status as JSON either way.
func (s Server) health(w http.ResponseWriter, _ *http.Request) {
	snap := runstatus.Snapshot{Status: runstatus.Starting, Key: runstatus.KeyStarting}
	if s.Status != nil {
		snap = s.Status()
	}
	code := http.StatusOK
	if !snap.Healthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(snap)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.Logger.Info("ops server listening", logging.Field("addr", listener.Addr().String()))

	errs := make(chan error, 1)
	go func() { errs <- srv.Serve(listener) }()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.Logger.Warn("ops server shutdown failed", logging.Field("error", err))
		return err
	}
	s.Logger.Debug("ops server stopped")
	return nil
}
