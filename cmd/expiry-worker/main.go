package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/app"
	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.Init("expiry-worker", "dev")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.Init("expiry-worker", cfg.Env)
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("pending_payment_ttl", cfg.Booking.PendingPaymentTTL).
		Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, a.Service, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Service, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	res, err := svc.ExpireStale(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("expiry run error")
		return
	}
	log.Info().
		Int64("holds_released", res.HoldsReleased).
		Int("unpaid_cancelled", res.UnpaidCancelled).
		Dur("took", time.Since(start)).
		Msg("expiry run complete")
}
