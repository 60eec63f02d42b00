package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/api"
	"github.com/hackgods/clinic-queue-scheduling/internal/app"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.Init("api-server", "dev")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.Init("api-server", cfg.Env)
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("timezone", cfg.ClinicTimezone).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	srv := newServer(cfg, a, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
		a.Close()
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("api-server stopped")
}

func newServer(cfg config.Config, a *app.App, log zerolog.Logger) *http.Server {
	return &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:   a.Service,
			Allocator: a.Allocator,
			Queue:     a.Queue,
			Doctors:   a.Doctors,
			Metrics:   a.Metrics,
			Log:       log,
			PgPool:    a.PgPool,
			Redis:     a.Redis,
			Env:       cfg.Env,
			Version:   version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
