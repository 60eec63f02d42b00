package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/memstore"
	"github.com/hackgods/clinic-queue-scheduling/internal/notify"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
	"github.com/hackgods/clinic-queue-scheduling/internal/refund"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

const day = availability.Date("2026-03-10")

type harness struct {
	mgr      *queue.Manager
	svc      *appointment.Service
	bus      *notify.MemoryBus
	doctorID uuid.UUID
	ist      *time.Location

	mu  sync.Mutex
	now time.Time
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) setClock(hour, min int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = time.Date(2026, 3, 10, hour, min, 0, 0, h.ist)
}

func newHarness(t *testing.T, autoComplete bool) *harness {
	t.Helper()
	ctx := context.Background()

	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	store := memstore.New()
	doc := &availability.Doctor{
		Name:      "Dr. Iyer",
		OnlineFee: 40000,
		ClinicFee: 40000,
		Settings: availability.Settings{
			OnlineDuration: 15 * time.Minute,
			ClinicDuration: 20 * time.Minute,
		},
	}
	require.NoError(t, store.SaveDoctor(ctx, doc))
	require.NoError(t, store.SaveWeeklyDay(ctx, doc.ID, availability.WeeklyScheduleDay{
		Weekday:     time.Tuesday,
		IsAvailable: true,
		Windows: []availability.TimeWindow{
			{Start: 10 * 60, End: 12 * 60, Type: availability.Both, MaxConcurrent: 1},
		},
	}))

	h := &harness{doctorID: doc.ID, ist: ist}
	h.setClock(8, 0)
	now := h.clock

	bus := notify.NewMemoryBus()
	svc := appointment.NewService(appointment.Deps{
		Repo:      store,
		Doctors:   store,
		Allocator: slots.NewAllocator(store, store, ist, now),
		Locker:    redisclient.NewLocalLocker(),
		Notifier:  bus,
		Policy:    refund.DefaultPolicy(),
		Config: config.BookingConfig{
			InitialStatus:        "confirmed",
			AutoCompletePrevious: autoComplete,
			MaxSkips:             2,
		},
		Log: zerolog.Nop(),
		Now: now,
	})

	h.mgr = queue.NewManager(store, store, svc, bus, bus, zerolog.Nop())
	h.svc = svc
	h.bus = bus
	return h
}

func (h *harness) book(t *testing.T, hour, min int, typ availability.ConsultationType) *appointment.Appointment {
	t.Helper()
	slotType := "online"
	if typ == availability.InClinic {
		slotType = "clinic"
	}
	appt, err := h.svc.BookSlot(context.Background(), appointment.BookCommand{
		SlotID: slots.ID{
			DoctorID: h.doctorID,
			Date:     day,
			Start:    availability.ClockTime(hour*60 + min),
			Type:     typ,
			Seat:     1,
		}.String(),
		SlotType:  slotType,
		PatientID: uuid.New(),
	})
	require.NoError(t, err)
	return appt
}

func ids(entries []queue.Entry) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Appointment.ID)
	}
	return out
}

func TestBuildOrdersByTokenWithEstimatedWaits(t *testing.T) {
	h := newHarness(t, true)
	a := h.book(t, 10, 0, availability.Online)
	b := h.book(t, 10, 40, availability.InClinic)
	c := h.book(t, 11, 0, availability.Online)

	view, err := h.mgr.Build(context.Background(), h.doctorID, day)
	require.NoError(t, err)

	assert.Nil(t, view.CurrentPatient)
	require.Len(t, view.Waiting, 3)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, ids(view.Waiting))

	assert.Equal(t, 1, view.Waiting[0].Position)
	assert.Equal(t, 0, view.Waiting[0].EstimatedWaitMinutes)
	assert.Equal(t, 20, view.Waiting[1].EstimatedWaitMinutes)
	assert.Equal(t, 30, view.Waiting[2].EstimatedWaitMinutes)
}

func TestBuildExcludesFinishedAppointments(t *testing.T) {
	h := newHarness(t, true)
	a := h.book(t, 10, 0, availability.Online)
	b := h.book(t, 10, 30, availability.Online)

	_, err := h.svc.Cancel(context.Background(), appointment.CancelCommand{
		AppointmentID: a.ID,
		CancelledBy:   refund.PartyPatient,
	})
	require.NoError(t, err)

	view, err := h.mgr.Build(context.Background(), h.doctorID, day)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, ids(view.Waiting))
}

func TestSkipMovesPatientBehindOthers(t *testing.T) {
	h := newHarness(t, true)
	a := h.book(t, 10, 0, availability.Online)
	b := h.book(t, 10, 30, availability.Online)
	c := h.book(t, 11, 0, availability.Online)

	skipped, err := h.mgr.Skip(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped.SkipCount)

	view, err := h.mgr.Build(context.Background(), h.doctorID, day)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, c.ID, a.ID}, ids(view.Waiting))
}

func TestSkipLimit(t *testing.T) {
	h := newHarness(t, true)
	a := h.book(t, 10, 0, availability.Online)

	for i := 0; i < 2; i++ {
		_, err := h.mgr.Skip(context.Background(), a.ID)
		require.NoError(t, err)
	}
	_, err := h.mgr.Skip(context.Background(), a.ID)
	assert.ErrorIs(t, err, appointment.ErrSkipLimitReached)
}

func TestCallNextStartsHeadAndCompletesPrevious(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	a := h.book(t, 10, 0, availability.Online)
	b := h.book(t, 10, 30, availability.Online)

	started, err := h.mgr.CallNext(ctx, h.doctorID, day, refund.PartyDoctor)
	require.NoError(t, err)
	assert.Equal(t, a.ID, started.ID)
	assert.Equal(t, appointment.StatusInProgress, started.Status)

	view, err := h.mgr.Build(ctx, h.doctorID, day)
	require.NoError(t, err)
	require.NotNil(t, view.CurrentPatient)
	assert.Equal(t, a.ID, view.CurrentPatient.Appointment.ID)
	assert.Equal(t, []uuid.UUID{b.ID}, ids(view.Waiting))

	started, err = h.mgr.CallNext(ctx, h.doctorID, day, refund.PartyDoctor)
	require.NoError(t, err)
	assert.Equal(t, b.ID, started.ID)

	prev, err := h.svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, prev.Status)

	_, err = h.mgr.CallNext(ctx, h.doctorID, day, refund.PartyDoctor)
	assert.ErrorIs(t, err, queue.ErrQueueEmpty)
}

func TestCallNextRejectedWhileConsultationRuns(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.book(t, 10, 0, availability.Online)
	h.book(t, 10, 30, availability.Online)

	_, err := h.mgr.CallNext(ctx, h.doctorID, day, refund.PartyDoctor)
	require.NoError(t, err)

	_, err = h.mgr.CallNext(ctx, h.doctorID, day, refund.PartyDoctor)
	assert.ErrorIs(t, err, appointment.ErrConsultationInProgress)
}

func TestSubscribeReceivesQueueUpdates(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.book(t, 10, 0, availability.Online)

	updates, err := h.mgr.Subscribe(ctx, h.doctorID, day)
	require.NoError(t, err)

	started, err := h.mgr.CallNext(ctx, h.doctorID, day, refund.PartyDoctor)
	require.NoError(t, err)

	select {
	case ev := <-updates:
		assert.Equal(t, notify.QueuePositionUpdate, ev.Type)
		assert.Equal(t, started.ID, ev.AppointmentID)
		assert.Equal(t, "call_next", ev.Payload["reason"])
	case <-time.After(time.Second):
		t.Fatal("no queue update received")
	}
}

func TestOrderPrefersLatestConsultationAsCurrent(t *testing.T) {
	earlier := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(10 * time.Minute)

	appts := []appointment.Appointment{
		{ID: uuid.New(), Status: appointment.StatusInProgress, TokenNumber: 1, ConsultationStartedAt: &earlier},
		{ID: uuid.New(), Status: appointment.StatusInProgress, TokenNumber: 2, ConsultationStartedAt: &later},
		{ID: uuid.New(), Status: appointment.StatusConfirmed, TokenNumber: 3},
	}

	current, waiting := queue.Order(appts)
	require.NotNil(t, current)
	assert.Equal(t, appts[1].ID, current.ID)
	require.Len(t, waiting, 2)
	assert.Equal(t, appts[0].ID, waiting[0].ID)
}

func TestOrderFallsBackToScheduledTime(t *testing.T) {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	appts := []appointment.Appointment{
		{ID: uuid.New(), Status: appointment.StatusConfirmed, StartsAt: base.Add(time.Hour)},
		{ID: uuid.New(), Status: appointment.StatusConfirmed, StartsAt: base},
	}

	_, waiting := queue.Order(appts)
	assert.Equal(t, appts[1].ID, waiting[0].ID)
}

func TestStatusReportsPlaceInLine(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	a := h.book(t, 10, 0, availability.Online)
	b := h.book(t, 10, 30, availability.Online)
	c := h.book(t, 11, 0, availability.Online)

	st, err := h.mgr.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, st.InQueue)
	assert.Equal(t, 1, st.Position)
	assert.True(t, st.IsYourTurn)
	assert.Equal(t, 3, st.TotalInQueue)

	st, err = h.mgr.Status(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Position)
	assert.Equal(t, 15, st.EstimatedWaitMinutes)
	assert.False(t, st.IsYourTurn)

	_, err = h.mgr.CallNext(ctx, h.doctorID, day, refund.PartyDoctor)
	require.NoError(t, err)

	st, err = h.mgr.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, st.InConsultation)
	assert.False(t, st.InQueue)
	assert.Equal(t, 2, st.TotalInQueue)

	st, err = h.mgr.Status(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Position)
	assert.False(t, st.IsYourTurn, "doctor is still with the current patient")

	_, err = h.svc.Cancel(ctx, appointment.CancelCommand{AppointmentID: c.ID, CancelledBy: refund.PartyPatient})
	require.NoError(t, err)
	st, err = h.mgr.Status(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, st.Status)
	assert.False(t, st.InQueue)
	assert.Zero(t, st.Position)
}

func TestStatusUnknownAppointment(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.mgr.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestHistorySummarizesDay(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	a := h.book(t, 10, 0, availability.Online)
	b := h.book(t, 10, 30, availability.Online)
	c := h.book(t, 11, 0, availability.Online)
	d := h.book(t, 11, 30, availability.Online)

	h.setClock(10, 0)
	_, err := h.mgr.CallNext(ctx, h.doctorID, day, refund.PartyDoctor)
	require.NoError(t, err)

	h.setClock(10, 12)
	next, err := h.mgr.CallNext(ctx, h.doctorID, day, refund.PartyDoctor)
	require.NoError(t, err)
	require.Equal(t, b.ID, next.ID)

	h.setClock(10, 30)
	_, err = h.svc.Transition(ctx, appointment.TransitionCommand{AppointmentID: b.ID, Target: appointment.StatusCompleted})
	require.NoError(t, err)

	h.setClock(11, 10)
	_, err = h.svc.Cancel(ctx, appointment.CancelCommand{AppointmentID: c.ID, CancelledBy: refund.PartyDoctor, Reason: appointment.ReasonNoShow})
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, appointment.CancelCommand{AppointmentID: d.ID, CancelledBy: refund.PartyPatient})
	require.NoError(t, err)

	hist, err := h.mgr.History(ctx, h.doctorID, day)
	require.NoError(t, err)
	assert.Len(t, hist.Appointments, 4)
	assert.Equal(t, queue.DayStats{
		Completed:              2,
		NoShow:                 1,
		Cancelled:              1,
		AvgConsultationMinutes: 15,
	}, hist.Stats)
	assert.Equal(t, a.ID, hist.Appointments[0].ID)
}

func TestHistoryEmptyDay(t *testing.T) {
	h := newHarness(t, true)

	hist, err := h.mgr.History(context.Background(), h.doctorID, day)
	require.NoError(t, err)
	assert.Empty(t, hist.Appointments)
	assert.Equal(t, queue.DayStats{}, hist.Stats)

	_, err = h.mgr.History(context.Background(), uuid.New(), day)
	assert.ErrorIs(t, err, availability.ErrDoctorNotFound)
}
