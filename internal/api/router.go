package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

type RouterConfig struct {
	Service   *appointment.Service
	Allocator *slots.Allocator
	Queue     *queue.Manager
	Doctors   availability.Store
	Metrics   *metrics.Metrics
	Log       zerolog.Logger

	// PgPool and Redis are optional; readiness only checks what is set.
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware(cfg.Log))
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(MetricsMiddleware(cfg.Metrics))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	h := &handlers{
		svc:     cfg.Service,
		alloc:   cfg.Allocator,
		queue:   cfg.Queue,
		doctors: cfg.Doctors,
	}

	r.Get("/refund-policy", h.refundPolicy)

	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Get("/slots", h.listSlots)
		r.Post("/walk-ins", h.addWalkIn)

		r.Get("/queue", h.getQueue)
		r.Post("/queue/call-next", h.callNext)
		r.Get("/queue/stream", h.streamQueue)
		r.Get("/queue/history", h.queueHistory)

		r.Put("/schedule/{weekday}", h.putWeeklyDay)
		r.Put("/special-dates/{date}", h.putSpecialDate)
		r.Delete("/special-dates/{date}", h.deleteSpecialDate)
		r.Put("/settings", h.putSettings)
	})

	r.Post("/slots/{slotID}/hold", h.holdSlot)
	r.Put("/slots/{slotID}/block", h.blockSlot)
	r.Post("/bookings", h.bookSlot)

	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", h.getAppointment)
		r.Post("/transition", h.transition)
		r.Post("/payment", h.capturePayment)
		r.Get("/refund-preview", h.refundPreview)
		r.Post("/cancel", h.cancel)
		r.Post("/skip", h.skip)
		r.Get("/queue-status", h.queueStatus)
	})

	return r
}
