package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hackgods/clinic-queue-scheduling/internal/logging"
	"github.com/hackgods/clinic-queue-scheduling/internal/refund"
)

const heartbeatInterval = 30 * time.Second

// GET /doctors/{doctorID}/queue?date=
func (h *handlers) getQueue(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	date, err := dateQuery(r, h.alloc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	view, err := h.queue.Build(r.Context(), doctorID, date)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /doctors/{doctorID}/queue/call-next?date=&actor=
func (h *handlers) callNext(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	date, err := dateQuery(r, h.alloc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	actor := refund.PartyDoctor
	if raw := r.URL.Query().Get("actor"); raw != "" {
		if actor, err = refund.ParseParty(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}
	}

	started, err := h.queue.CallNext(r.Context(), doctorID, date, actor)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, started)
}

// GET /doctors/{doctorID}/queue/history?date=
func (h *handlers) queueHistory(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	date, err := dateQuery(r, h.alloc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	hist, err := h.queue.History(r.Context(), doctorID, date)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// GET /appointments/{id}/queue-status
func (h *handlers) queueStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	st, err := h.queue.Status(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /appointments/{id}/skip
func (h *handlers) skip(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	skipped, err := h.queue.Skip(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, skipped)
}

// GET /doctors/{doctorID}/queue/stream?date=
// Sends the full queue on connect and again after every change.
func (h *handlers) streamQueue(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	date, err := dateQuery(r, h.alloc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	ctx := r.Context()
	l := logging.FromContext(ctx)

	view, err := h.queue.Build(ctx, doctorID, date)
	if err != nil {
		handleError(w, r, err)
		return
	}

	updates, err := h.queue.Subscribe(ctx, doctorID, date)
	if err != nil {
		handleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sendEvent(w, "queue", view)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendEvent(w, "heartbeat", map[string]any{"timestamp": time.Now()})
			flusher.Flush()
		case _, ok := <-updates:
			if !ok {
				return
			}
			view, err := h.queue.Build(ctx, doctorID, date)
			if err != nil {
				l.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("queue rebuild failed")
				continue
			}
			sendEvent(w, "queue", view)
			flusher.Flush()
		}
	}
}

func sendEvent(w http.ResponseWriter, name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
}
