package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	"github.com/hackgods/clinic-queue-scheduling/internal/refund"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

type handlers struct {
	svc     *appointment.Service
	alloc   *slots.Allocator
	queue   *queue.Manager
	doctors availability.Store
}

func parseSource(raw string) (appointment.BookingSource, error) {
	switch src := appointment.BookingSource(raw); src {
	case "":
		return "", nil
	case appointment.SourceOnline, appointment.SourceClinic, appointment.SourceReceptionist, appointment.SourceWalkIn:
		return src, nil
	}
	return "", fmt.Errorf("unknown booking_source %q", raw)
}

// GET /doctors/{doctorID}/slots?date=&type=&available_only=
func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}

	q := r.URL.Query()
	if q.Get("date") == "" {
		writeError(w, http.StatusBadRequest, "invalid_date", "date is required")
		return
	}
	date, err := availability.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	typ, err := availability.ParseConsultationType(q.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_consultation_type", err.Error())
		return
	}

	availableOnly := false
	if raw := q.Get("available_only"); raw != "" {
		availableOnly, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "available_only must be a boolean")
			return
		}
	}

	list, err := h.alloc.Generate(r.Context(), doctorID, date, typ, availableOnly)
	if err != nil {
		handleError(w, r, err)
		return
	}

	resp := SlotsResponse{
		DoctorID:         doctorID,
		Date:             date,
		ConsultationType: typ,
		Slots:            make([]SlotResponse, 0, len(list)),
	}
	for _, s := range list {
		resp.Slots = append(resp.Slots, SlotResponse{Slot: s, DurationMinutes: s.DurationMinutes()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /slots/{slotID}/hold
func (h *handlers) holdSlot(w http.ResponseWriter, r *http.Request) {
	var req HoldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}

	claim, err := h.svc.HoldSlot(r.Context(), appointment.HoldCommand{
		SlotID:    chi.URLParam(r, "slotID"),
		SlotType:  req.SlotType,
		PatientID: patientID,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HoldResponse{
		SlotID:    claim.SlotID,
		PatientID: patientID,
		Status:    string(slots.StatusHeld),
		HeldUntil: claim.HeldUntil,
	})
}

// PUT /slots/{slotID}/block
func (h *handlers) blockSlot(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	actor, err := refund.ParseParty(req.BlockedBy)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
		return
	}

	cmd := appointment.BlockCommand{
		SlotID: chi.URLParam(r, "slotID"),
		Actor:  actor,
		Reason: req.Reason,
	}

	var slot *slots.Slot
	if req.Blocked == nil || *req.Blocked {
		slot, err = h.svc.BlockSlot(r.Context(), cmd)
	} else {
		slot, err = h.svc.UnblockSlot(r.Context(), cmd)
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotResponse{Slot: *slot, DurationMinutes: slot.DurationMinutes()})
}

// POST /bookings
func (h *handlers) bookSlot(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.SlotID == "" {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id is required")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}

	source, err := parseSource(req.BookingSource)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	appt, err := h.svc.BookSlot(r.Context(), appointment.BookCommand{
		SlotID:    req.SlotID,
		SlotType:  req.SlotType,
		PatientID: patientID,
		Draft:     appointment.Draft{Reason: req.Reason, Source: source},
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, appt)
}

// POST /doctors/{doctorID}/walk-ins
func (h *handlers) addWalkIn(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}

	var req WalkInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	cmd := appointment.WalkInCommand{
		DoctorID: doctorID,
		Patient:  req.Patient,
		Reason:   req.Reason,
	}
	if req.PatientID != "" {
		pid, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		cmd.PatientID = &pid
	}
	if req.ConsultationType != "" {
		cmd.ConsultationType, err = availability.ParseConsultationType(req.ConsultationType)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_consultation_type", err.Error())
			return
		}
	}
	if cmd.Source, err = parseSource(req.BookingSource); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	appt, err := h.svc.AddWalkIn(r.Context(), cmd)
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, appt)
}

// GET /appointments/{id}
func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// POST /appointments/{id}/transition
func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	var req TransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	target, err := appointment.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}

	var actor refund.Party
	if req.Actor != "" {
		if actor, err = refund.ParseParty(req.Actor); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}
	}

	appt, err := h.svc.Transition(r.Context(), appointment.TransitionCommand{
		AppointmentID: id,
		Target:        target,
		Actor:         actor,
		Reason:        req.Reason,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// POST /appointments/{id}/payment
func (h *handlers) capturePayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	appt, err := h.svc.CapturePayment(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// GET /appointments/{id}/refund-preview?cancelled_by=
func (h *handlers) refundPreview(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	by := refund.PartyPatient
	if raw := r.URL.Query().Get("cancelled_by"); raw != "" {
		if by, err = refund.ParseParty(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_cancelled_by", err.Error())
			return
		}
	}

	decision, err := h.svc.PreviewRefund(r.Context(), id, by)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// POST /appointments/{id}/cancel
func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	var req CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	by, err := refund.ParseParty(req.CancelledBy)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cancelled_by", err.Error())
		return
	}

	res, err := h.svc.Cancel(r.Context(), appointment.CancelCommand{
		AppointmentID: id,
		CancelledBy:   by,
		Reason:        req.Reason,
		NotifyOther:   true,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /refund-policy
func (h *handlers) refundPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Policy().Describe())
}
