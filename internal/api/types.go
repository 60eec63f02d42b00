package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type SlotResponse struct {
	slots.Slot
	DurationMinutes int `json:"duration_minutes"`
}

type SlotsResponse struct {
	DoctorID         uuid.UUID                     `json:"doctor_id"`
	Date             availability.Date             `json:"date"`
	ConsultationType availability.ConsultationType `json:"consultation_type"`
	Slots            []SlotResponse                `json:"slots"`
}

type HoldRequest struct {
	PatientID string `json:"patient_id"`
	SlotType  string `json:"slot_type"`
}

type HoldResponse struct {
	SlotID    string     `json:"slot_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Status    string     `json:"status"`
	HeldUntil *time.Time `json:"held_until,omitempty"`
}

type BookingRequest struct {
	SlotID        string `json:"slot_id"`
	SlotType      string `json:"slot_type"`
	PatientID     string `json:"patient_id"`
	Reason        string `json:"reason,omitempty"`
	BookingSource string `json:"booking_source,omitempty"`
}

type WalkInRequest struct {
	PatientID        string                       `json:"patient_id,omitempty"`
	Patient          *appointment.PatientSnapshot `json:"patient,omitempty"`
	ConsultationType string                       `json:"consultation_type,omitempty"`
	Reason           string                       `json:"reason,omitempty"`
	BookingSource    string                       `json:"booking_source,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// BlockRequest blocks a slot, or unblocks it when Blocked is false.
type BlockRequest struct {
	Blocked   *bool  `json:"blocked,omitempty"`
	BlockedBy string `json:"blocked_by"`
	Reason    string `json:"reason,omitempty"`
}

type CancelRequest struct {
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason,omitempty"`
}

type WeeklyDayRequest struct {
	IsAvailable bool                      `json:"is_available"`
	Windows     []availability.TimeWindow `json:"windows"`
}

type SpecialDateRequest struct {
	Unavailable bool                      `json:"unavailable"`
	Reason      string                    `json:"reason,omitempty"`
	Windows     []availability.TimeWindow `json:"windows,omitempty"`
}

// SettingsRequest carries durations in minutes.
type SettingsRequest struct {
	OnlineDurationMinutes int `json:"online_duration_minutes"`
	ClinicDurationMinutes int `json:"clinic_duration_minutes"`
	MaxOnlinePerDay       int `json:"max_online_per_day"`
	MaxClinicPerDay       int `json:"max_clinic_per_day"`
}

type SettingsResponse struct {
	DoctorID              uuid.UUID `json:"doctor_id"`
	OnlineDurationMinutes int       `json:"online_duration_minutes"`
	ClinicDurationMinutes int       `json:"clinic_duration_minutes"`
	MaxOnlinePerDay       int       `json:"max_online_per_day"`
	MaxClinicPerDay       int       `json:"max_clinic_per_day"`
}
