package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue-scheduling/internal/app"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
)

func TestRunOnceAgainstMemoryStore(t *testing.T) {
	cfg := config.Config{
		StoreDriver:    config.StoreDriverMemory,
		RedisAddr:      "127.0.0.1:1",
		ClinicTimezone: "Asia/Kolkata",
		Booking: config.BookingConfig{
			InitialStatus:     "pending",
			HoldTTL:           time.Minute,
			PendingPaymentTTL: 15 * time.Minute,
			MaxSkips:          3,
		},
	}

	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotPanics(t, func() {
		runOnce(context.Background(), a.Service, zerolog.Nop())
	})
}
