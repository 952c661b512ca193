package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/fogmap-area/internal/core/config"
	"github.com/mohammed-shakir/fogmap-area/internal/core/health"
	middleware "github.com/mohammed-shakir/fogmap-area/internal/core/middleware"
	"github.com/mohammed-shakir/fogmap-area/internal/core/router"
)

// Deps are the pieces the HTTP surface is built from. Redis and Kafka may be
// nil; Metrics defaults to the global Prometheus handler.
type Deps struct {
	Handlers *router.Handlers
	Metrics  http.Handler
	Redis    health.Pinger
	Kafka    health.ReadinessReporter
}

// NewHandler assembles the middleware chain and every route.
func NewHandler(logger *slog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(deps.Redis, deps.Kafka, time.Second))
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	if deps.Handlers != nil {
		deps.Handlers.Mount(r)
	}
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most cfg.ShutdownTimeout.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, cfg, logger, deps)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, cfg config.Config, logger *slog.Logger, deps Deps) error {
	srv := &http.Server{
		Handler:           NewHandler(logger, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second, // archive uploads
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
