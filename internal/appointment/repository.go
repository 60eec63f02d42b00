package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

var (
	ErrAppointmentNotFound    = fmt.Errorf("appointment %w", availability.ErrNotFound)
	ErrSlotUnavailable        = errors.New("slot is no longer available, please choose another")
	ErrSlotTypeMismatch       = errors.New("slot type does not match the requested consultation type")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConsultationInProgress = fmt.Errorf("%w: another consultation is already in progress", ErrInvalidTransition)
	ErrSkipLimitReached       = errors.New("skip limit reached for this appointment")
	ErrSlotNotBlocked         = errors.New("slot is not blocked")
	ErrNotPermitted           = errors.New("not permitted for this party")
)

// ClaimParams describes one atomic claim of a slot.
type ClaimParams struct {
	Slot      slots.Slot
	PatientID *uuid.UUID
	Now       time.Time
}

// Repository contains all DB interactions needed by the service. Every status
// write is a conditional update on the expected current status.
type Repository interface {
	slots.ClaimLister

	// HoldSlot reserves the slot until holdUntil. ErrSlotUnavailable when
	// another patient holds or booked it.
	HoldSlot(ctx context.Context, p ClaimParams, holdUntil time.Time) (*slots.Claim, error)

	// BlockSlot takes a slot out of circulation. Only a free slot, an elapsed
	// hold or an already blocked slot can be blocked.
	BlockSlot(ctx context.Context, p ClaimParams, reason string) (*slots.Claim, error)

	// UnblockSlot removes a block. ErrSlotNotBlocked when there is none.
	UnblockSlot(ctx context.Context, slotID string) error

	// BookSlot claims the slot, draws the next token of the doctor day and
	// inserts appt in one transaction. appt.TokenNumber is filled in.
	BookSlot(ctx context.Context, p ClaimParams, appt *Appointment) (*Appointment, error)

	// CreateWalkIn draws a token and inserts appt without a slot.
	CreateWalkIn(ctx context.Context, appt *Appointment) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus moves id from one status to another. It stamps the
	// consultation start or end time for in_progress and completed, and
	// returns ErrConsultationInProgress when the doctor day already has one.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error)

	// Cancel records c and drops the slot claim owned by the appointment.
	Cancel(ctx context.Context, id uuid.UUID, from Status, c Cancellation) (*Appointment, error)

	SetPaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error)

	// IncrementSkip bumps the skip count of a waiting appointment whose count
	// is below max.
	IncrementSkip(ctx context.Context, id uuid.UUID, max int) (*Appointment, error)

	ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, date availability.Date, statuses []Status) ([]Appointment, error)

	// Expiry worker
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error)
	FindUnpaidPending(ctx context.Context, createdBefore time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
