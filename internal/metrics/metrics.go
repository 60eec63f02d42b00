package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	bookings     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	refunds      *prometheus.CounterVec
	refundAmount prometheus.Counter
	expired      *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bookings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_bookings_total",
				Help: "Booking attempts by consultation type and outcome",
			},
			[]string{"consultation_type", "outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_appointment_transitions_total",
				Help: "Appointment status transitions",
			},
			[]string{"from", "to"},
		),
		refunds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_refund_decisions_total",
				Help: "Committed refund decisions by policy",
			},
			[]string{"policy"},
		),
		refundAmount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clinic_refund_amount_paise_total",
				Help: "Sum of committed refund amounts in paise",
			},
		),
		expired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_expired_total",
				Help: "Holds released and unpaid appointments cancelled by the expiry worker",
			},
			[]string{"kind"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.bookings,
		m.transitions,
		m.refunds,
		m.refundAmount,
		m.expired,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// All recorders accept a nil receiver so metrics stay optional.

func (m *Metrics) RecordBooking(consultationType, outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(consultationType, outcome).Inc()
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordRefund(policy string, amount int64) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(policy).Inc()
	m.refundAmount.Add(float64(amount))
}

func (m *Metrics) RecordExpired(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) RecordHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
