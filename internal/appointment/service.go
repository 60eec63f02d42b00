package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
	"github.com/hackgods/clinic-queue-scheduling/internal/notify"
	"github.com/hackgods/clinic-queue-scheduling/internal/payment"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
	"github.com/hackgods/clinic-queue-scheduling/internal/refund"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

const (
	EventSlotHeld              = "SLOT_HELD"
	EventSlotBlocked           = "SLOT_BLOCKED"
	EventSlotUnblocked         = "SLOT_UNBLOCKED"
	EventAppointmentBooked     = "APPOINTMENT_BOOKED"
	EventWalkInAdded           = "WALK_IN_ADDED"
	EventPaymentCaptured       = "PAYMENT_CAPTURED"
	EventAppointmentConfirmed  = "APPOINTMENT_CONFIRMED"
	EventConsultationStarted   = "CONSULTATION_STARTED"
	EventAppointmentCompleted  = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled  = "APPOINTMENT_CANCELLED"
	EventAppointmentSkipped    = "APPOINTMENT_SKIPPED"
	EventRefundIssued          = "REFUND_ISSUED"
	EventUnpaidAppointmentLost = "UNPAID_APPOINTMENT_CANCELLED"
)

var (
	ErrInvalidCommand = errors.New("invalid command")
	ErrPaymentFailed  = errors.New("payment capture failed")
	ErrAlreadyPaid    = errors.New("appointment is already paid")
)

// Deps wires the collaborators of a Service.
type Deps struct {
	Repo      Repository
	Doctors   availability.Store
	Allocator *slots.Allocator
	Locker    redisclient.Locker
	Notifier  notify.Dispatcher
	Gateway   payment.Gateway
	Wallet    payment.Wallet
	Policy    refund.Policy
	Config    config.BookingConfig
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
	Now       func() time.Time
}

type Service struct {
	repo      Repository
	doctors   availability.Store
	allocator *slots.Allocator
	locker    redisclient.Locker
	notifier  notify.Dispatcher
	gateway   payment.Gateway
	wallet    payment.Wallet
	policy    refund.Policy
	cfg       config.BookingConfig
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Config.MaxSkips <= 0 {
		d.Config.MaxSkips = 3
	}
	if d.Config.InitialStatus == "" {
		d.Config.InitialStatus = string(StatusPending)
	}
	return &Service{
		repo:      d.Repo,
		doctors:   d.Doctors,
		allocator: d.Allocator,
		locker:    d.Locker,
		notifier:  d.Notifier,
		gateway:   d.Gateway,
		wallet:    d.Wallet,
		policy:    d.Policy,
		cfg:       d.Config,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       d.Now,
	}
}

func (s *Service) Policy() refund.Policy {
	return s.policy
}

func (s *Service) MaxSkips() int {
	return s.cfg.MaxSkips
}

// Draft carries the caller supplied parts of a new appointment.
type Draft struct {
	Reason string
	Source BookingSource
}

type BookCommand struct {
	SlotID    string
	SlotType  string // online or clinic
	PatientID uuid.UUID
	Draft     Draft
}

type HoldCommand struct {
	SlotID    string
	SlotType  string
	PatientID uuid.UUID
}

// resolveForClaim checks the requested pool against the slot id before
// touching storage, then regenerates the slot to learn its status.
func (s *Service) resolveForClaim(ctx context.Context, slotID, slotType string, patientID uuid.UUID) (*slots.Slot, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidCommand)
	}

	want, err := availability.ParseConsultationType(slotType)
	if err != nil || want == availability.Both {
		return nil, fmt.Errorf("%w: slot_type must be online or clinic", ErrInvalidCommand)
	}

	id, err := slots.ParseID(slotID)
	if err != nil {
		return nil, err
	}
	if id.Type != want {
		return nil, fmt.Errorf("%w: requested %s, slot is %s", ErrSlotTypeMismatch, want, id.Type)
	}

	slot, err := s.allocator.Resolve(ctx, slotID)
	if err != nil {
		return nil, err
	}

	switch slot.Status {
	case slots.StatusExpired:
		return nil, fmt.Errorf("%w: slot already started", ErrSlotUnavailable)
	case slots.StatusBooked, slots.StatusBlocked:
		return nil, ErrSlotUnavailable
	}
	return slot, nil
}

type BlockCommand struct {
	SlotID string
	Actor  refund.Party
	Reason string
}

func canManageSlots(p refund.Party) bool {
	switch p {
	case refund.PartyDoctor, refund.PartyClinic, refund.PartyAdmin:
		return true
	}
	return false
}

// BlockSlot takes an unbooked slot out of circulation. Booked and actively
// held slots cannot be blocked.
func (s *Service) BlockSlot(ctx context.Context, cmd BlockCommand) (*slots.Slot, error) {
	if !canManageSlots(cmd.Actor) {
		return nil, fmt.Errorf("%w: only a doctor, clinic or admin can block slots", ErrNotPermitted)
	}

	slot, err := s.allocator.Resolve(ctx, cmd.SlotID)
	if err != nil {
		return nil, err
	}
	switch slot.Status {
	case slots.StatusBooked:
		return nil, fmt.Errorf("%w: cannot block a booked slot", ErrSlotUnavailable)
	case slots.StatusExpired:
		return nil, fmt.Errorf("%w: slot already started", ErrSlotUnavailable)
	}

	reason := strings.TrimSpace(cmd.Reason)
	err = s.locker.WithLock(ctx, redisclient.SlotKey(slot.ID), func(lockCtx context.Context) error {
		_, err := s.repo.BlockSlot(lockCtx, ClaimParams{Slot: *slot, Now: s.now()}, reason)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	s.logEvent(ctx, nil, EventSlotBlocked, map[string]any{
		"slot_id": slot.ID,
		"actor":   cmd.Actor,
		"reason":  reason,
	})
	return s.allocator.Resolve(ctx, slot.ID)
}

// UnblockSlot puts a blocked slot back into circulation.
func (s *Service) UnblockSlot(ctx context.Context, cmd BlockCommand) (*slots.Slot, error) {
	if !canManageSlots(cmd.Actor) {
		return nil, fmt.Errorf("%w: only a doctor, clinic or admin can unblock slots", ErrNotPermitted)
	}

	slot, err := s.allocator.Resolve(ctx, cmd.SlotID)
	if err != nil {
		return nil, err
	}

	err = s.locker.WithLock(ctx, redisclient.SlotKey(slot.ID), func(lockCtx context.Context) error {
		return s.repo.UnblockSlot(lockCtx, slot.ID)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	s.logEvent(ctx, nil, EventSlotUnblocked, map[string]any{
		"slot_id": slot.ID,
		"actor":   cmd.Actor,
	})
	return s.allocator.Resolve(ctx, slot.ID)
}

// HoldSlot reserves a slot for a patient during checkout. The hold lapses
// after the configured TTL unless BookSlot converts it.
func (s *Service) HoldSlot(ctx context.Context, cmd HoldCommand) (*slots.Claim, error) {
	slot, err := s.resolveForClaim(ctx, cmd.SlotID, cmd.SlotType, cmd.PatientID)
	if err != nil {
		return nil, err
	}

	var held *slots.Claim
	err = s.locker.WithLock(ctx, redisclient.SlotKey(slot.ID), func(lockCtx context.Context) error {
		now := s.now()
		patientID := cmd.PatientID
		c, err := s.repo.HoldSlot(lockCtx, ClaimParams{Slot: *slot, PatientID: &patientID, Now: now}, now.Add(s.cfg.HoldTTL))
		held = c
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	s.logEvent(ctx, nil, EventSlotHeld, map[string]any{
		"slot_id":    slot.ID,
		"patient_id": cmd.PatientID.String(),
		"held_until": held.HeldUntil,
	})
	return held, nil
}

// BookSlot claims a slot for a patient and creates the appointment. Of any
// number of concurrent callers for one slot exactly one succeeds; the others
// get ErrSlotUnavailable.
func (s *Service) BookSlot(ctx context.Context, cmd BookCommand) (*Appointment, error) {
	slot, err := s.resolveForClaim(ctx, cmd.SlotID, cmd.SlotType, cmd.PatientID)
	if err != nil {
		s.metrics.RecordBooking(bookingLabel(cmd.SlotType), outcome(err))
		return nil, err
	}

	doctor, err := s.doctors.GetDoctor(ctx, slot.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	source := cmd.Draft.Source
	if source == "" {
		source = SourceOnline
		if slot.Type == availability.InClinic {
			source = SourceClinic
		}
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, redisclient.SlotKey(slot.ID), func(lockCtx context.Context) error {
		now := s.now()
		patientID := cmd.PatientID
		slotID := slot.ID

		draft := &Appointment{
			ID:               uuid.New(),
			DoctorID:         slot.DoctorID,
			PatientID:        &patientID,
			SlotID:           &slotID,
			Date:             slot.Date,
			StartsAt:         slot.StartsAt,
			EndsAt:           slot.EndsAt,
			ConsultationType: slot.Type,
			Status:           Status(s.cfg.InitialStatus),
			BookingSource:    source,
			PaymentStatus:    PaymentPending,
			Amount:           doctor.Fee(slot.Type),
			Reason:           strings.TrimSpace(cmd.Draft.Reason),
			CreatedAt:        now,
		}

		appt, err := s.repo.BookSlot(lockCtx, ClaimParams{Slot: *slot, PatientID: &patientID, Now: now}, draft)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotUnavailable
		}
		s.metrics.RecordBooking(bookingLabel(cmd.SlotType), outcome(err))
		return nil, err
	}

	s.metrics.RecordBooking(bookingLabel(cmd.SlotType), "booked")
	s.logEvent(ctx, &created.ID, EventAppointmentBooked, map[string]any{
		"slot_id":      slot.ID,
		"patient_id":   cmd.PatientID.String(),
		"token_number": created.TokenNumber,
		"status":       created.Status,
	})
	s.notify(ctx, notify.BookingConfirmed, created, map[string]any{
		"slot_id":      slot.ID,
		"starts_at":    created.StartsAt,
		"token_number": created.TokenNumber,
	})

	return created, nil
}

// bookingLabel maps the caller's slot_type onto a known pool so the series
// stay bounded.
func bookingLabel(slotType string) string {
	t, err := availability.ParseConsultationType(slotType)
	if err != nil || t == availability.Both {
		return "invalid"
	}
	return string(t)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrSlotTypeMismatch):
		return "slot_type_mismatch"
	case errors.Is(err, slots.ErrDoctorUnavailable):
		return "doctor_unavailable"
	case errors.Is(err, availability.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	}
	return "error"
}

type WalkInCommand struct {
	DoctorID         uuid.UUID
	PatientID        *uuid.UUID
	Patient          *PatientSnapshot
	ConsultationType availability.ConsultationType
	Reason           string
	Source           BookingSource
}

// AddWalkIn puts a patient straight into today's queue without a slot. The
// appointment is confirmed and takes the next token of the doctor day.
func (s *Service) AddWalkIn(ctx context.Context, cmd WalkInCommand) (*Appointment, error) {
	if cmd.PatientID == nil && (cmd.Patient == nil || strings.TrimSpace(cmd.Patient.Name) == "") {
		return nil, fmt.Errorf("%w: walk-in needs a patient_id or a patient name", ErrInvalidCommand)
	}
	if cmd.ConsultationType == "" {
		cmd.ConsultationType = availability.InClinic
	}
	if cmd.ConsultationType != availability.Online && cmd.ConsultationType != availability.InClinic {
		return nil, fmt.Errorf("%w: consultation_type must be online or in_clinic", ErrInvalidCommand)
	}
	switch cmd.Source {
	case "":
		cmd.Source = SourceWalkIn
	case SourceWalkIn, SourceReceptionist:
	default:
		return nil, fmt.Errorf("%w: source must be walk_in or receptionist", ErrInvalidCommand)
	}

	now := s.now()
	today := availability.DateOf(now, s.allocator.Location())

	plan, err := availability.Plan(ctx, s.doctors, cmd.DoctorID, today)
	if err != nil {
		return nil, err
	}
	if !plan.Available {
		return nil, fmt.Errorf("%w: %s (%s)", slots.ErrDoctorUnavailable, today, plan.Reason)
	}

	duration := plan.Doctor.Settings.Duration(cmd.ConsultationType)
	draft := &Appointment{
		ID:               uuid.New(),
		DoctorID:         cmd.DoctorID,
		PatientID:        cmd.PatientID,
		WalkIn:           cmd.Patient,
		Date:             today,
		StartsAt:         now,
		EndsAt:           now.Add(duration),
		ConsultationType: cmd.ConsultationType,
		Status:           StatusConfirmed,
		BookingSource:    cmd.Source,
		PaymentStatus:    PaymentPending,
		Amount:           plan.Doctor.Fee(cmd.ConsultationType),
		Reason:           strings.TrimSpace(cmd.Reason),
		CreatedAt:        now,
	}

	created, err := s.repo.CreateWalkIn(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("create walk-in: %w", err)
	}

	s.logEvent(ctx, &created.ID, EventWalkInAdded, map[string]any{
		"doctor_id":    cmd.DoctorID.String(),
		"token_number": created.TokenNumber,
		"source":       cmd.Source,
	})
	s.notify(ctx, notify.BookingConfirmed, created, map[string]any{
		"token_number": created.TokenNumber,
		"walk_in":      true,
	})
	return created, nil
}

// CapturePayment collects the consultation fee and, when configured,
// confirms a pending appointment.
func (s *Service) CapturePayment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot pay for a %s appointment", ErrInvalidTransition, appt.Status)
	}
	if appt.PaymentStatus == PaymentCompleted || appt.PaymentStatus == PaymentRefunded {
		return nil, ErrAlreadyPaid
	}

	ref, err := s.gateway.Capture(ctx, appt.ID, appt.Amount)
	if err != nil {
		if _, updErr := s.repo.SetPaymentStatus(ctx, appt.ID, appt.PaymentStatus, PaymentFailed); updErr != nil {
			s.log.Error().Err(updErr).Str("appointment_id", appt.ID.String()).Msg("failed to mark payment failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	updated, err := s.repo.SetPaymentStatus(ctx, appt.ID, appt.PaymentStatus, PaymentCompleted)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrAlreadyPaid
		}
		return nil, fmt.Errorf("mark paid: %w", err)
	}

	s.logEvent(ctx, &updated.ID, EventPaymentCaptured, map[string]any{
		"amount":    updated.Amount,
		"reference": ref,
	})

	if s.cfg.AutoConfirmOnPayment && updated.Status == StatusPending {
		confirmed, err := s.Transition(ctx, TransitionCommand{
			AppointmentID: updated.ID,
			Target:        StatusConfirmed,
			Actor:         refund.PartySystem,
			Reason:        "payment_captured",
		})
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		if confirmed != nil {
			updated = confirmed
		}
	}

	return updated, nil
}

type TransitionCommand struct {
	AppointmentID uuid.UUID
	Target        Status
	Actor         refund.Party
	Reason        string
}

// Transition moves an appointment along the state machine. Cancellation is
// routed through Cancel so it is always priced.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Appointment, error) {
	if cmd.Target == StatusCancelled {
		by := cmd.Actor
		if by == "" {
			by = refund.PartyPatient
		}
		res, err := s.Cancel(ctx, CancelCommand{
			AppointmentID: cmd.AppointmentID,
			CancelledBy:   by,
			Reason:        cmd.Reason,
			NotifyOther:   true,
		})
		if err != nil {
			return nil, err
		}
		return res.Appointment, nil
	}

	appt, err := s.repo.GetAppointmentByID(ctx, cmd.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := checkTransition(appt.Status, cmd.Target); err != nil {
		return nil, err
	}

	var updated *Appointment
	if cmd.Target == StatusInProgress {
		updated, err = s.startConsultation(ctx, appt)
	} else {
		updated, err = s.move(ctx, appt, cmd.Target)
	}
	if err != nil {
		return nil, err
	}

	event := EventAppointmentConfirmed
	switch cmd.Target {
	case StatusInProgress:
		event = EventConsultationStarted
	case StatusCompleted:
		event = EventAppointmentCompleted
	}
	s.logEvent(ctx, &updated.ID, event, map[string]any{
		"from":   appt.Status,
		"to":     updated.Status,
		"actor":  cmd.Actor,
		"reason": cmd.Reason,
	})
	return updated, nil
}

// move is the conditional write behind every non cancelling transition. A
// miss means the appointment changed under us.
func (s *Service) move(ctx context.Context, appt *Appointment, to Status) (*Appointment, error) {
	updated, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Status, to, s.now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment %s is no longer %s", ErrInvalidTransition, appt.ID, appt.Status)
		}
		return nil, err
	}
	s.metrics.RecordTransition(string(appt.Status), string(to))
	return updated, nil
}

// startConsultation serialises starts per doctor day so at most one
// appointment is ever in progress.
func (s *Service) startConsultation(ctx context.Context, appt *Appointment) (*Appointment, error) {
	var started *Appointment

	key := redisclient.DoctorDayKey(appt.DoctorID, string(appt.Date))
	err := s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		current, err := s.repo.ListByDoctorDay(lockCtx, appt.DoctorID, appt.Date, []Status{StatusInProgress})
		if err != nil {
			return fmt.Errorf("load current consultation: %w", err)
		}

		for i := range current {
			prev := &current[i]
			if prev.ID == appt.ID {
				continue
			}
			if !s.cfg.AutoCompletePrevious {
				return ErrConsultationInProgress
			}
			done, err := s.move(lockCtx, prev, StatusCompleted)
			if err != nil {
				return fmt.Errorf("complete previous consultation: %w", err)
			}
			s.logEvent(lockCtx, &done.ID, EventAppointmentCompleted, map[string]any{
				"reason": "auto_completed_by_next",
				"next":   appt.ID.String(),
			})
		}

		started, err = s.move(lockCtx, appt, StatusInProgress)
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrConsultationInProgress
		}
		return nil, err
	}
	return started, nil
}

type CancelCommand struct {
	AppointmentID uuid.UUID
	CancelledBy   refund.Party
	Reason        string
	NotifyOther   bool
}

type CancelResult struct {
	Appointment *Appointment    `json:"appointment"`
	Refund      refund.Decision `json:"refund"`
}

// Cancel prices the cancellation, records it with the refund audit and drops
// the slot claim. A slot that has not started yet is open again; one that
// has started reads as expired. Money movement and notifications happen
// afterwards and never undo the cancellation.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*CancelResult, error) {
	if cmd.CancelledBy == "" {
		return nil, fmt.Errorf("%w: cancelled_by is required", ErrInvalidCommand)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, cmd.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := checkTransition(appt.Status, StatusCancelled); err != nil {
		return nil, err
	}

	now := s.now()
	noShow := cmd.Reason == ReasonNoShow
	if noShow {
		if !cmd.CancelledBy.ClinicSide() {
			return nil, fmt.Errorf("%w: only the doctor or clinic can record a no-show", ErrInvalidCommand)
		}
		if !appt.Status.Waiting() {
			return nil, fmt.Errorf("%w: only pending or confirmed appointments can be marked no-show", ErrInvalidTransition)
		}
		if now.Before(appt.StartsAt) {
			return nil, fmt.Errorf("%w: no-show can only be recorded after %s", ErrInvalidTransition, appt.StartsAt.Format(time.RFC3339))
		}
	}

	decision := s.policy.Compute(appt.RefundInput(noShow), cmd.CancelledBy, now)
	reopened := appt.SlotID != nil && now.Before(appt.StartsAt)

	cancelled, err := s.repo.Cancel(ctx, appt.ID, appt.Status, Cancellation{
		By:     cmd.CancelledBy,
		Reason: cmd.Reason,
		At:     now,
		Refund: decision,
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment %s is no longer %s", ErrInvalidTransition, appt.ID, appt.Status)
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.metrics.RecordTransition(string(appt.Status), string(StatusCancelled))
	s.metrics.RecordRefund(decision.PolicyApplied, decision.RefundAmount)
	s.logEvent(ctx, &cancelled.ID, EventAppointmentCancelled, map[string]any{
		"cancelled_by":  cmd.CancelledBy,
		"reason":        cmd.Reason,
		"policy":        decision.PolicyApplied,
		"refund_amount": decision.RefundAmount,
		"slot_reopened": reopened,
	})

	cancelled = s.settleRefund(ctx, cancelled, decision)

	if cmd.NotifyOther {
		s.notify(ctx, notify.AppointmentCancelled, cancelled, map[string]any{
			"cancelled_by":  cmd.CancelledBy,
			"reason":        cmd.Reason,
			"refund_amount": decision.RefundAmount,
			"wallet_credit": decision.WalletCredit,
		})
	}

	return &CancelResult{Appointment: cancelled, Refund: decision}, nil
}

// settleRefund asks the gateway and wallet to move money. Failures are
// logged for manual follow up.
func (s *Service) settleRefund(ctx context.Context, appt *Appointment, d refund.Decision) *Appointment {
	l := s.log.With().Str("appointment_id", appt.ID.String()).Logger()

	if d.ShouldRefund(s.policy.MinimumRefund) {
		ref, err := s.gateway.Refund(ctx, appt.ID, d.RefundAmount)
		if err != nil {
			l.Error().Err(err).Int64("amount", d.RefundAmount).Msg("refund failed")
		} else {
			if updated, err := s.repo.SetPaymentStatus(ctx, appt.ID, PaymentCompleted, PaymentRefunded); err != nil {
				l.Error().Err(err).Msg("failed to mark payment refunded")
			} else {
				appt = updated
			}
			s.logEvent(ctx, &appt.ID, EventRefundIssued, map[string]any{
				"amount":    d.RefundAmount,
				"reference": ref,
			})
		}
	}

	if d.WalletCredit > 0 && appt.PatientID != nil {
		if err := s.wallet.Credit(ctx, *appt.PatientID, d.WalletCredit, "cancellation:"+appt.ID.String()); err != nil {
			l.Error().Err(err).Int64("amount", d.WalletCredit).Msg("wallet credit failed")
		}
	}

	return appt
}

// PreviewRefund prices a cancellation without committing it. It runs the
// same computation Cancel does; a cancelled appointment returns its audit.
func (s *Service) PreviewRefund(ctx context.Context, id uuid.UUID, by refund.Party) (refund.Decision, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return refund.Decision{}, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Cancellation != nil {
		return appt.Cancellation.Refund, nil
	}
	return s.policy.Compute(appt.RefundInput(false), by, s.now()), nil
}

// Skip moves a waiting patient behind the others without changing status.
func (s *Service) Skip(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !appt.Status.Waiting() {
		return nil, fmt.Errorf("%w: cannot skip a %s appointment", ErrInvalidTransition, appt.Status)
	}
	if appt.SkipCount >= s.cfg.MaxSkips {
		return nil, ErrSkipLimitReached
	}

	updated, err := s.repo.IncrementSkip(ctx, id, s.cfg.MaxSkips)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrSkipLimitReached
		}
		return nil, fmt.Errorf("skip appointment: %w", err)
	}

	s.logEvent(ctx, &updated.ID, EventAppointmentSkipped, map[string]any{
		"skip_count": updated.SkipCount,
	})
	return updated, nil
}

type ExpireResult struct {
	HoldsReleased   int64
	UnpaidCancelled int
}

// ExpireStale is called by the worker periodically. It frees lapsed holds
// and cancels pending appointments that were never paid.
func (s *Service) ExpireStale(ctx context.Context) (ExpireResult, error) {
	var res ExpireResult
	now := s.now()

	released, err := s.repo.ReleaseExpiredHolds(ctx, now)
	if err != nil {
		return res, err
	}
	res.HoldsReleased = released
	s.metrics.RecordExpired("hold", int(released))

	if s.cfg.PendingPaymentTTL <= 0 {
		return res, nil
	}

	candidates, err := s.repo.FindUnpaidPending(ctx, now.Add(-s.cfg.PendingPaymentTTL))
	if err != nil {
		return res, fmt.Errorf("find unpaid pending appointments: %w", err)
	}

	for _, appt := range candidates {
		_, err := s.Cancel(ctx, CancelCommand{
			AppointmentID: appt.ID,
			CancelledBy:   refund.PartySystem,
			Reason:        ReasonPaymentTimeout,
			NotifyOther:   true,
		})
		if err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to cancel unpaid appointment")
			}
			continue
		}
		res.UnpaidCancelled++
		s.logEvent(ctx, &appt.ID, EventUnpaidAppointmentLost, map[string]any{
			"created_at": appt.CreatedAt,
		})
	}
	s.metrics.RecordExpired("unpaid", res.UnpaidCancelled)

	return res, nil
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) notify(ctx context.Context, t notify.EventType, appt *Appointment, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	ev := notify.Event{
		Type:          t,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Date:          string(appt.Date),
		Payload:       payload,
		At:            s.now(),
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(t)).Str("appointment_id", appt.ID.String()).Msg("notification failed")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to insert event log")
	}
}
