package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue-scheduling/internal/app"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
)

func TestNewServerServesRouter(t *testing.T) {
	cfg := config.Config{
		Env:            "test",
		HTTPPort:       "18080",
		StoreDriver:    config.StoreDriverMemory,
		RedisAddr:      "127.0.0.1:1",
		ClinicTimezone: "Asia/Kolkata",
		Booking: config.BookingConfig{
			InitialStatus: "pending",
			HoldTTL:       time.Minute,
			MaxSkips:      3,
		},
	}

	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	srv := newServer(cfg, a, zerolog.Nop())
	assert.Equal(t, ":18080", srv.Addr)

	for _, path := range []string{"/health/live", "/refund-policy"} {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
