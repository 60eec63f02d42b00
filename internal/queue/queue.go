package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/notify"
	"github.com/hackgods/clinic-queue-scheduling/internal/refund"
)

var ErrQueueEmpty = errors.New("no patient is waiting")

// queued are the statuses that still occupy a place in the day's line.
var queued = []appointment.Status{
	appointment.StatusPending,
	appointment.StatusConfirmed,
	appointment.StatusInProgress,
}

type Entry struct {
	Appointment          appointment.Appointment `json:"appointment"`
	Position             int                     `json:"position"`
	EstimatedWait        time.Duration           `json:"-"`
	EstimatedWaitMinutes int                     `json:"estimated_wait_minutes"`
}

// View is a read time projection; nothing about it is stored.
type View struct {
	DoctorID       uuid.UUID         `json:"doctor_id"`
	Date           availability.Date `json:"date"`
	CurrentPatient *Entry            `json:"current_patient"`
	Waiting        []Entry           `json:"waiting"`
}

// Reader lists a doctor's appointments for one day.
type Reader interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, date availability.Date, statuses []appointment.Status) ([]appointment.Appointment, error)
}

// Mover is the part of the appointment service the queue drives. All
// status changes go through it.
type Mover interface {
	Transition(ctx context.Context, cmd appointment.TransitionCommand) (*appointment.Appointment, error)
	Skip(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Manager struct {
	appts     Reader
	doctors   availability.Store
	mover     Mover
	publisher notify.Dispatcher
	subs      notify.Subscriber
	log       zerolog.Logger
}

func NewManager(appts Reader, doctors availability.Store, mover Mover, publisher notify.Dispatcher, subs notify.Subscriber, log zerolog.Logger) *Manager {
	return &Manager{
		appts:     appts,
		doctors:   doctors,
		mover:     mover,
		publisher: publisher,
		subs:      subs,
		log:       log,
	}
}

// Order picks the current patient and sorts everyone else into the line.
// Fewer skips go first; then token order when both have a token, else the
// scheduled start.
func Order(appts []appointment.Appointment) (*appointment.Appointment, []appointment.Appointment) {
	var current *appointment.Appointment
	waiting := make([]appointment.Appointment, 0, len(appts))

	for i := range appts {
		a := appts[i]
		if a.Status == appointment.StatusInProgress && (current == nil || startedAfter(a, *current)) {
			if current != nil {
				waiting = append(waiting, *current)
			}
			current = &a
			continue
		}
		waiting = append(waiting, a)
	}

	sort.SliceStable(waiting, func(i, j int) bool {
		a, b := waiting[i], waiting[j]
		if a.SkipCount != b.SkipCount {
			return a.SkipCount < b.SkipCount
		}
		if a.TokenNumber > 0 && b.TokenNumber > 0 {
			return a.TokenNumber < b.TokenNumber
		}
		return a.StartsAt.Before(b.StartsAt)
	})

	return current, waiting
}

func startedAfter(a, b appointment.Appointment) bool {
	if a.ConsultationStartedAt == nil {
		return false
	}
	if b.ConsultationStartedAt == nil {
		return true
	}
	return a.ConsultationStartedAt.After(*b.ConsultationStartedAt)
}

// Build returns the live queue for a doctor day.
func (m *Manager) Build(ctx context.Context, doctorID uuid.UUID, date availability.Date) (*View, error) {
	doc, err := m.doctors.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	appts, err := m.appts.ListByDoctorDay(ctx, doctorID, date, queued)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	current, waiting := Order(appts)

	view := &View{
		DoctorID: doctorID,
		Date:     date,
		Waiting:  make([]Entry, 0, len(waiting)),
	}
	if current != nil {
		view.CurrentPatient = &Entry{Appointment: *current}
	}
	for i, a := range waiting {
		wait := time.Duration(i) * doc.Settings.Duration(a.ConsultationType)
		view.Waiting = append(view.Waiting, Entry{
			Appointment:          a,
			Position:             i + 1,
			EstimatedWait:        wait,
			EstimatedWaitMinutes: int(wait / time.Minute),
		})
	}
	return view, nil
}

// PatientStatus is one appointment's place in its doctor day.
type PatientStatus struct {
	AppointmentID        uuid.UUID          `json:"appointment_id"`
	Status               appointment.Status `json:"status"`
	InQueue              bool               `json:"in_queue"`
	InConsultation       bool               `json:"in_consultation"`
	Position             int                `json:"position,omitempty"`
	EstimatedWaitMinutes int                `json:"estimated_wait_minutes"`
	TotalInQueue         int                `json:"total_in_queue"`
	IsYourTurn           bool               `json:"is_your_turn"`
}

// Status reports where an appointment stands in its doctor's line. It is
// the head of the line's turn once nobody is in consultation.
func (m *Manager) Status(ctx context.Context, appointmentID uuid.UUID) (*PatientStatus, error) {
	appt, err := m.appts.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	view, err := m.Build(ctx, appt.DoctorID, appt.Date)
	if err != nil {
		return nil, err
	}

	st := &PatientStatus{
		AppointmentID: appt.ID,
		Status:        appt.Status,
		TotalInQueue:  len(view.Waiting),
	}
	if view.CurrentPatient != nil && view.CurrentPatient.Appointment.ID == appt.ID {
		st.InConsultation = true
		return st, nil
	}
	for _, e := range view.Waiting {
		if e.Appointment.ID != appt.ID {
			continue
		}
		st.InQueue = true
		st.Position = e.Position
		st.EstimatedWaitMinutes = e.EstimatedWaitMinutes
		st.IsYourTurn = e.Position == 1 && view.CurrentPatient == nil
		break
	}
	return st, nil
}

// DayStats summarises the finished appointments of a doctor day.
type DayStats struct {
	Completed              int     `json:"completed"`
	NoShow                 int     `json:"no_show"`
	Cancelled              int     `json:"cancelled"`
	AvgConsultationMinutes float64 `json:"avg_consultation_minutes"`
}

type History struct {
	DoctorID     uuid.UUID                 `json:"doctor_id"`
	Date         availability.Date         `json:"date"`
	Appointments []appointment.Appointment `json:"appointments"`
	Stats        DayStats                  `json:"stats"`
}

var finished = []appointment.Status{
	appointment.StatusCompleted,
	appointment.StatusCancelled,
}

// Summarize counts outcomes and averages the consultations that have both
// a start and an end stamp. No-shows are not counted as cancellations.
func Summarize(appts []appointment.Appointment) DayStats {
	var st DayStats
	var total time.Duration
	var timed int

	for _, a := range appts {
		switch a.Status {
		case appointment.StatusCompleted:
			st.Completed++
			if a.ConsultationStartedAt != nil && a.ConsultationEndedAt != nil {
				total += a.ConsultationEndedAt.Sub(*a.ConsultationStartedAt)
				timed++
			}
		case appointment.StatusCancelled:
			if a.Cancellation.NoShow() {
				st.NoShow++
			} else {
				st.Cancelled++
			}
		}
	}

	if timed > 0 {
		avg := total / time.Duration(timed)
		st.AvgConsultationMinutes = math.Round(avg.Minutes()*10) / 10
	}
	return st
}

// History lists the day's finished appointments with their stats.
func (m *Manager) History(ctx context.Context, doctorID uuid.UUID, date availability.Date) (*History, error) {
	if _, err := m.doctors.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	appts, err := m.appts.ListByDoctorDay(ctx, doctorID, date, finished)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if appts == nil {
		appts = []appointment.Appointment{}
	}

	return &History{
		DoctorID:     doctorID,
		Date:         date,
		Appointments: appts,
		Stats:        Summarize(appts),
	}, nil
}

// CallNext starts the consultation of the head of the line. The previous
// patient is completed or the call rejected, per clinic policy.
func (m *Manager) CallNext(ctx context.Context, doctorID uuid.UUID, date availability.Date, actor refund.Party) (*appointment.Appointment, error) {
	view, err := m.Build(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if len(view.Waiting) == 0 {
		return nil, ErrQueueEmpty
	}

	head := view.Waiting[0].Appointment
	started, err := m.mover.Transition(ctx, appointment.TransitionCommand{
		AppointmentID: head.ID,
		Target:        appointment.StatusInProgress,
		Actor:         actor,
		Reason:        "call_next",
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, doctorID, date, "call_next", started.ID)
	return started, nil
}

// Skip sends a waiting patient behind the others.
func (m *Manager) Skip(ctx context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	skipped, err := m.mover.Skip(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, skipped.DoctorID, skipped.Date, "skip", skipped.ID)
	return skipped, nil
}

// Subscribe streams queue change notifications for one doctor day. Pulling
// Build stays the primary contract; this only says when to pull again.
func (m *Manager) Subscribe(ctx context.Context, doctorID uuid.UUID, date availability.Date) (<-chan notify.Event, error) {
	if m.subs == nil {
		return nil, errors.New("queue updates are not available")
	}
	return m.subs.Subscribe(ctx, notify.QueueChannel(doctorID, string(date)))
}

func (m *Manager) publish(ctx context.Context, doctorID uuid.UUID, date availability.Date, reason string, appointmentID uuid.UUID) {
	if m.publisher == nil {
		return
	}
	ev := notify.Event{
		Type:          notify.QueuePositionUpdate,
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		Date:          string(date),
		Payload:       map[string]any{"reason": reason},
		At:            time.Now(),
	}
	if err := m.publisher.Notify(ctx, ev); err != nil {
		m.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("queue update not published")
	}
}
