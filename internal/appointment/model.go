package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/refund"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type BookingSource string

const (
	SourceOnline       BookingSource = "online"
	SourceClinic       BookingSource = "clinic"
	SourceWalkIn       BookingSource = "walk_in"
	SourceReceptionist BookingSource = "receptionist"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentFailed    PaymentStatus = "failed"
)

const (
	ReasonNoShow         = "no_show"
	ReasonPaymentTimeout = "payment_timeout"
)

// PatientSnapshot identifies a walk-in patient who has no account.
type PatientSnapshot struct {
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// Cancellation is kept on the appointment for audit and refund history.
type Cancellation struct {
	By     refund.Party    `json:"by"`
	Reason string          `json:"reason"`
	At     time.Time       `json:"at"`
	Refund refund.Decision `json:"refund"`
}

func (c *Cancellation) NoShow() bool {
	return c != nil && c.Reason == ReasonNoShow
}

type Appointment struct {
	ID                    uuid.UUID                     `json:"id"`
	DoctorID              uuid.UUID                     `json:"doctor_id"`
	PatientID             *uuid.UUID                    `json:"patient_id,omitempty"`
	WalkIn                *PatientSnapshot              `json:"walk_in,omitempty"`
	SlotID                *string                       `json:"slot_id,omitempty"`
	Date                  availability.Date             `json:"date"`
	StartsAt              time.Time                     `json:"starts_at"`
	EndsAt                time.Time                     `json:"ends_at"`
	ConsultationType      availability.ConsultationType `json:"consultation_type"`
	Status                Status                        `json:"status"`
	TokenNumber           int                           `json:"token_number"`
	BookingSource         BookingSource                 `json:"booking_source"`
	PaymentStatus         PaymentStatus                 `json:"payment_status"`
	Amount                int64                         `json:"amount"`
	Reason                string                        `json:"reason,omitempty"`
	ConsultationStartedAt *time.Time                    `json:"consultation_started_at,omitempty"`
	ConsultationEndedAt   *time.Time                    `json:"consultation_ended_at,omitempty"`
	SkipCount             int                           `json:"skip_count"`
	Cancellation          *Cancellation                 `json:"cancellation,omitempty"`
	CreatedAt             time.Time                     `json:"created_at"`
	UpdatedAt             time.Time                     `json:"updated_at"`
}

// RefundInput is what the refund policy needs to price a cancellation.
func (a *Appointment) RefundInput(noShow bool) refund.Input {
	return refund.Input{
		Amount:           a.Amount,
		PaymentCompleted: a.PaymentStatus == PaymentCompleted,
		Completed:        a.Status == StatusCompleted,
		NoShow:           noShow || a.Cancellation.NoShow(),
		StartsAt:         a.StartsAt,
	}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
