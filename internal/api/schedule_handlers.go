package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// parseWeekday accepts 0-6 (Sunday first) or an English day name.
func parseWeekday(raw string) (time.Weekday, bool) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 || n > 6 {
			return 0, false
		}
		return time.Weekday(n), true
	}
	d, ok := weekdays[strings.ToLower(raw)]
	return d, ok
}

// PUT /doctors/{doctorID}/schedule/{weekday}
func (h *handlers) putWeeklyDay(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	weekday, ok := parseWeekday(chi.URLParam(r, "weekday"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be 0-6 or a day name")
		return
	}

	var req WeeklyDayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if err := availability.ValidateWindows(req.Windows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
		return
	}

	if _, err := h.doctors.GetDoctor(r.Context(), doctorID); err != nil {
		handleError(w, r, err)
		return
	}

	day := availability.WeeklyScheduleDay{
		Weekday:     weekday,
		IsAvailable: req.IsAvailable,
		Windows:     req.Windows,
	}
	if err := h.doctors.SaveWeeklyDay(r.Context(), doctorID, day); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// PUT /doctors/{doctorID}/special-dates/{date}
func (h *handlers) putSpecialDate(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	date, err := availability.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	var req SpecialDateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if !req.Unavailable && len(req.Windows) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_schedule", "an available special date needs windows")
		return
	}
	if err := availability.ValidateWindows(req.Windows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
		return
	}

	if _, err := h.doctors.GetDoctor(r.Context(), doctorID); err != nil {
		handleError(w, r, err)
		return
	}

	sd := availability.SpecialDate{
		DoctorID:    doctorID,
		Date:        date,
		Unavailable: req.Unavailable,
		Reason:      req.Reason,
	}
	if !req.Unavailable {
		sd.Windows = req.Windows
	}
	if err := h.doctors.SaveSpecialDate(r.Context(), sd); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sd)
}

// DELETE /doctors/{doctorID}/special-dates/{date}
func (h *handlers) deleteSpecialDate(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	date, err := availability.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	if err := h.doctors.DeleteSpecialDate(r.Context(), doctorID, date); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PUT /doctors/{doctorID}/settings
func (h *handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}

	var req SettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if req.OnlineDurationMinutes < 0 || req.ClinicDurationMinutes < 0 || req.MaxOnlinePerDay < 0 || req.MaxClinicPerDay < 0 {
		writeError(w, http.StatusBadRequest, "invalid_settings", "settings cannot be negative")
		return
	}

	st := availability.Settings{
		OnlineDuration:  time.Duration(req.OnlineDurationMinutes) * time.Minute,
		ClinicDuration:  time.Duration(req.ClinicDurationMinutes) * time.Minute,
		MaxOnlinePerDay: req.MaxOnlinePerDay,
		MaxClinicPerDay: req.MaxClinicPerDay,
	}
	if err := h.doctors.SaveSettings(r.Context(), doctorID, st); err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		DoctorID:              doctorID,
		OnlineDurationMinutes: int(st.Duration(availability.Online) / time.Minute),
		ClinicDurationMinutes: int(st.Duration(availability.InClinic) / time.Minute),
		MaxOnlinePerDay:       st.MaxOnlinePerDay,
		MaxClinicPerDay:       st.MaxClinicPerDay,
	})
}
