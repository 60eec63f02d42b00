package api

import (
	"errors"
	"net/http"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/logging"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: wrapped sentinels come before the errors they wrap.
var errorMappings = []errorMapping{
	{appointment.ErrInvalidCommand, http.StatusBadRequest, "invalid_request"},
	{slots.ErrInvalidType, http.StatusBadRequest, "invalid_consultation_type"},
	{appointment.ErrSlotTypeMismatch, http.StatusUnprocessableEntity, "slot_type_mismatch"},
	{appointment.ErrNotPermitted, http.StatusForbidden, "forbidden"},
	{appointment.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
	{appointment.ErrSlotNotBlocked, http.StatusConflict, "slot_not_blocked"},
	{slots.ErrDoctorUnavailable, http.StatusConflict, "doctor_unavailable"},
	{appointment.ErrConsultationInProgress, http.StatusConflict, "consultation_in_progress"},
	{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{appointment.ErrSkipLimitReached, http.StatusConflict, "skip_limit_reached"},
	{appointment.ErrAlreadyPaid, http.StatusConflict, "already_paid"},
	{appointment.ErrPaymentFailed, http.StatusPaymentRequired, "payment_failed"},
	{queue.ErrQueueEmpty, http.StatusConflict, "queue_empty"},
	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{slots.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{availability.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
	{availability.ErrNotFound, http.StatusNotFound, "not_found"},
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}

	l := logging.FromContext(r.Context())
	l.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
