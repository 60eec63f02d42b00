package appointment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/memstore"
	"github.com/hackgods/clinic-queue-scheduling/internal/metrics"
	"github.com/hackgods/clinic-queue-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
	"github.com/hackgods/clinic-queue-scheduling/internal/refund"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

var ist = mustLoad("Asia/Kolkata")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

const day = availability.Date("2026-03-10")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, ist)
}

type fakeGateway struct {
	mu       sync.Mutex
	captures []int64
	refunds  []int64
	fail     error
}

func (g *fakeGateway) Capture(_ context.Context, _ uuid.UUID, amount int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return "", g.fail
	}
	g.captures = append(g.captures, amount)
	return "cap_1", nil
}

func (g *fakeGateway) Refund(_ context.Context, _ uuid.UUID, amount int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, amount)
	return "rfnd_1", nil
}

type fakeWallet struct {
	mu      sync.Mutex
	credits map[uuid.UUID]int64
}

func (w *fakeWallet) Credit(_ context.Context, patientID uuid.UUID, amount int64, _ string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.credits == nil {
		w.credits = make(map[uuid.UUID]int64)
	}
	w.credits[patientID] += amount
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.EventType
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc      *appointment.Service
	store    *memstore.Store
	alloc    *slots.Allocator
	clock    *clock
	gateway  *fakeGateway
	wallet   *fakeWallet
	notes    *recorder
	metrics  *metrics.Metrics
	doctorID uuid.UUID
}

func newFixture(t *testing.T, mutate ...func(*config.BookingConfig)) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memstore.New()
	doc := &availability.Doctor{
		Name:      "Dr. Rao",
		OnlineFee: 50000,
		ClinicFee: 60000,
		Settings: availability.Settings{
			OnlineDuration: 30 * time.Minute,
			ClinicDuration: 30 * time.Minute,
		},
	}
	require.NoError(t, store.SaveDoctor(ctx, doc))
	require.NoError(t, store.SaveWeeklyDay(ctx, doc.ID, availability.WeeklyScheduleDay{
		Weekday:     time.Tuesday,
		IsAvailable: true,
		Windows: []availability.TimeWindow{
			{Start: 9 * 60, End: 13 * 60, Type: availability.Both, MaxConcurrent: 1},
			{Start: 14 * 60, End: 17 * 60, Type: availability.Online, MaxConcurrent: 1},
		},
	}))

	clk := &clock{t: at(8, 0)}
	cfg := config.BookingConfig{
		InitialStatus:        "pending",
		HoldTTL:              3 * time.Minute,
		PendingPaymentTTL:    15 * time.Minute,
		AutoConfirmOnPayment: true,
		AutoCompletePrevious: true,
		MaxSkips:             2,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{
		store:    store,
		clock:    clk,
		gateway:  &fakeGateway{},
		wallet:   &fakeWallet{},
		notes:    &recorder{},
		metrics:  metrics.New(),
		doctorID: doc.ID,
	}
	f.alloc = slots.NewAllocator(store, store, ist, clk.Now)
	f.svc = appointment.NewService(appointment.Deps{
		Repo:      store,
		Doctors:   store,
		Allocator: f.alloc,
		Locker:    redisclient.NewLocalLocker(),
		Notifier:  f.notes,
		Gateway:   f.gateway,
		Wallet:    f.wallet,
		Policy:    refund.DefaultPolicy(),
		Config:    cfg,
		Metrics:   f.metrics,
		Log:       zerolog.Nop(),
		Now:       clk.Now,
	})
	return f
}

func (f *fixture) slotID(hour, min int, t availability.ConsultationType) string {
	return slots.ID{
		DoctorID: f.doctorID,
		Date:     day,
		Start:    availability.ClockTime(hour*60 + min),
		Type:     t,
		Seat:     1,
	}.String()
}

func (f *fixture) book(t *testing.T, hour, min int) *appointment.Appointment {
	t.Helper()
	appt, err := f.svc.BookSlot(context.Background(), appointment.BookCommand{
		SlotID:    f.slotID(hour, min, availability.Online),
		SlotType:  "online",
		PatientID: uuid.New(),
	})
	require.NoError(t, err)
	return appt
}

func (f *fixture) slotStatus(t *testing.T, id string) slots.Status {
	t.Helper()
	s, err := f.alloc.Resolve(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

func TestBookSlotCreatesPendingAppointment(t *testing.T) {
	f := newFixture(t)
	id := f.slotID(9, 30, availability.Online)

	appt, err := f.svc.BookSlot(context.Background(), appointment.BookCommand{
		SlotID:    id,
		SlotType:  "online",
		PatientID: uuid.New(),
		Draft:     appointment.Draft{Reason: "  fever "},
	})
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusPending, appt.Status)
	assert.Equal(t, 1, appt.TokenNumber)
	assert.Equal(t, int64(50000), appt.Amount)
	assert.Equal(t, appointment.SourceOnline, appt.BookingSource)
	assert.Equal(t, appointment.PaymentPending, appt.PaymentStatus)
	assert.Equal(t, "fever", appt.Reason)
	assert.True(t, appt.StartsAt.Equal(at(9, 30)))
	require.NotNil(t, appt.SlotID)
	assert.Equal(t, id, *appt.SlotID)

	assert.Equal(t, slots.StatusBooked, f.slotStatus(t, id))
	assert.Contains(t, f.notes.types(), notify.BookingConfirmed)
}

func TestBookSlotHonoursConfirmedInitialStatus(t *testing.T) {
	f := newFixture(t, func(c *config.BookingConfig) { c.InitialStatus = "confirmed" })
	appt := f.book(t, 10, 0)
	assert.Equal(t, appointment.StatusConfirmed, appt.Status)
}

func TestBookSlotConcurrentCallersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	id := f.slotID(11, 0, availability.Online)

	const callers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.BookSlot(context.Background(), appointment.BookCommand{
				SlotID:    id,
				SlotType:  "online",
				PatientID: uuid.New(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, appointment.ErrSlotUnavailable):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, conflicts)

	all, err := f.store.ListByDoctorDay(context.Background(), f.doctorID, day, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBookSlotRejectsWrongPool(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), appointment.BookCommand{
		SlotID:    f.slotID(9, 0, availability.InClinic),
		SlotType:  "online",
		PatientID: uuid.New(),
	})
	assert.ErrorIs(t, err, appointment.ErrSlotTypeMismatch)

	_, err = f.svc.BookSlot(context.Background(), appointment.BookCommand{
		SlotID:    f.slotID(14, 0, availability.Online),
		SlotType:  "clinic",
		PatientID: uuid.New(),
	})
	assert.ErrorIs(t, err, appointment.ErrSlotTypeMismatch)
}

func TestBookSlotRejectsStartedSlot(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(at(10, 5))

	_, err := f.svc.BookSlot(context.Background(), appointment.BookCommand{
		SlotID:    f.slotID(10, 0, availability.Online),
		SlotType:  "online",
		PatientID: uuid.New(),
	})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)
}

func TestBookSlotUnknownSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), appointment.BookCommand{
		SlotID:    f.slotID(9, 10, availability.Online),
		SlotType:  "online",
		PatientID: uuid.New(),
	})
	assert.ErrorIs(t, err, slots.ErrSlotNotFound)
	assert.ErrorIs(t, err, availability.ErrNotFound)
}

func TestBookSlotDoctorOnLeave(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveSpecialDate(context.Background(), availability.SpecialDate{
		DoctorID:    f.doctorID,
		Date:        day,
		Unavailable: true,
		Reason:      "conference",
	}))

	_, err := f.svc.BookSlot(context.Background(), appointment.BookCommand{
		SlotID:    f.slotID(9, 0, availability.Online),
		SlotType:  "online",
		PatientID: uuid.New(),
	})
	assert.ErrorIs(t, err, slots.ErrDoctorUnavailable)
}

func TestTokensIncreasePerDoctorDay(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, 12, 0)
	b := f.book(t, 9, 0)
	walkIn, err := f.svc.AddWalkIn(context.Background(), appointment.WalkInCommand{
		DoctorID: f.doctorID,
		Patient:  &appointment.PatientSnapshot{Name: "Walk In"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, a.TokenNumber)
	assert.Equal(t, 2, b.TokenNumber)
	assert.Equal(t, 3, walkIn.TokenNumber)
}

func TestHoldBlocksOthersUntilItLapses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.slotID(9, 0, availability.Online)
	alice, bob := uuid.New(), uuid.New()

	claim, err := f.svc.HoldSlot(ctx, appointment.HoldCommand{SlotID: id, SlotType: "online", PatientID: alice})
	require.NoError(t, err)
	require.NotNil(t, claim.HeldUntil)
	assert.True(t, claim.HeldUntil.Equal(at(8, 3)))
	assert.Equal(t, slots.StatusHeld, f.slotStatus(t, id))

	_, err = f.svc.BookSlot(ctx, appointment.BookCommand{SlotID: id, SlotType: "online", PatientID: bob})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)

	f.clock.Set(at(8, 4))
	assert.Equal(t, slots.StatusOpen, f.slotStatus(t, id))

	appt, err := f.svc.BookSlot(ctx, appointment.BookCommand{SlotID: id, SlotType: "online", PatientID: bob})
	require.NoError(t, err)
	assert.Equal(t, bob, *appt.PatientID)
}

func TestHoldConvertsToBookingForSamePatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.slotID(9, 0, availability.Online)
	alice := uuid.New()

	_, err := f.svc.HoldSlot(ctx, appointment.HoldCommand{SlotID: id, SlotType: "online", PatientID: alice})
	require.NoError(t, err)

	appt, err := f.svc.BookSlot(ctx, appointment.BookCommand{SlotID: id, SlotType: "online", PatientID: alice})
	require.NoError(t, err)
	assert.Equal(t, slots.StatusBooked, f.slotStatus(t, id))
	assert.Equal(t, alice, *appt.PatientID)
}

func TestTransitionsFollowTheStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 9, 0)

	step := func(to appointment.Status) (*appointment.Appointment, error) {
		return f.svc.Transition(ctx, appointment.TransitionCommand{AppointmentID: appt.ID, Target: to, Actor: refund.PartyDoctor})
	}

	got, err := step(appointment.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)

	_, err = step(appointment.StatusCompleted)
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)

	f.clock.Set(at(9, 2))
	got, err = step(appointment.StatusInProgress)
	require.NoError(t, err)
	require.NotNil(t, got.ConsultationStartedAt)
	assert.True(t, got.ConsultationStartedAt.Equal(at(9, 2)))

	f.clock.Set(at(9, 20))
	got, err = step(appointment.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, got.ConsultationEndedAt)

	for _, to := range []appointment.Status{
		appointment.StatusPending, appointment.StatusConfirmed,
		appointment.StatusInProgress, appointment.StatusCancelled,
	} {
		_, err = step(to)
		assert.ErrorIs(t, err, appointment.ErrInvalidTransition, "completed -> %s", to)
	}
}

func TestStartingNextAutoCompletesCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.book(t, 9, 0)
	second := f.book(t, 9, 30)

	_, err := f.svc.Transition(ctx, appointment.TransitionCommand{AppointmentID: first.ID, Target: appointment.StatusInProgress})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, appointment.TransitionCommand{AppointmentID: second.ID, Target: appointment.StatusInProgress})
	require.NoError(t, err)

	prev, err := f.svc.GetAppointment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, prev.Status)

	current, err := f.store.ListByDoctorDay(ctx, f.doctorID, day, []appointment.Status{appointment.StatusInProgress})
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, second.ID, current[0].ID)
}

func TestStartingNextRejectedWithoutAutoComplete(t *testing.T) {
	f := newFixture(t, func(c *config.BookingConfig) { c.AutoCompletePrevious = false })
	ctx := context.Background()
	first := f.book(t, 9, 0)
	second := f.book(t, 9, 30)

	_, err := f.svc.Transition(ctx, appointment.TransitionCommand{AppointmentID: first.ID, Target: appointment.StatusInProgress})
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, appointment.TransitionCommand{AppointmentID: second.ID, Target: appointment.StatusInProgress})
	assert.ErrorIs(t, err, appointment.ErrConsultationInProgress)
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
}

func TestConcurrentStartsLeaveOneInProgress(t *testing.T) {
	f := newFixture(t, func(c *config.BookingConfig) { c.AutoCompletePrevious = false })
	ctx := context.Background()

	var ids []uuid.UUID
	for _, h := range []int{9, 10, 11, 12} {
		ids = append(ids, f.book(t, h, 0).ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, _ = f.svc.Transition(ctx, appointment.TransitionCommand{AppointmentID: id, Target: appointment.StatusInProgress})
		}(id)
	}
	wg.Wait()

	current, err := f.store.ListByDoctorDay(ctx, f.doctorID, day, []appointment.Status{appointment.StatusInProgress})
	require.NoError(t, err)
	assert.Len(t, current, 1)
}

func pay(t *testing.T, f *fixture, id uuid.UUID) *appointment.Appointment {
	t.Helper()
	appt, err := f.svc.CapturePayment(context.Background(), id)
	require.NoError(t, err)
	return appt
}

func TestCapturePaymentAutoConfirms(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 9, 0)

	paid := pay(t, f, appt.ID)
	assert.Equal(t, appointment.PaymentCompleted, paid.PaymentStatus)
	assert.Equal(t, appointment.StatusConfirmed, paid.Status)
	assert.Equal(t, []int64{50000}, f.gateway.captures)

	_, err := f.svc.CapturePayment(context.Background(), appt.ID)
	assert.ErrorIs(t, err, appointment.ErrAlreadyPaid)
}

func TestCapturePaymentFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.gateway.fail = errors.New("card declined")
	appt := f.book(t, 9, 0)

	_, err := f.svc.CapturePayment(context.Background(), appt.ID)
	assert.ErrorIs(t, err, appointment.ErrPaymentFailed)

	got, err := f.svc.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, appointment.StatusPending, got.Status)
}

func TestPatientCancelsEightHoursAhead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 16, 0)
	pay(t, f, appt.ID)

	preview, err := f.svc.PreviewRefund(ctx, appt.ID, refund.PartyPatient)
	require.NoError(t, err)

	res, err := f.svc.Cancel(ctx, appointment.CancelCommand{
		AppointmentID: appt.ID,
		CancelledBy:   refund.PartyPatient,
		Reason:        "travel",
		NotifyOther:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, preview, res.Refund)
	assert.Equal(t, refund.PolicyFullRefund, res.Refund.PolicyApplied)
	assert.Equal(t, int64(48750), res.Refund.RefundAmount)
	assert.Equal(t, appointment.StatusCancelled, res.Appointment.Status)
	assert.Equal(t, appointment.PaymentRefunded, res.Appointment.PaymentStatus)
	require.NotNil(t, res.Appointment.Cancellation)
	assert.Equal(t, res.Refund, res.Appointment.Cancellation.Refund)
	assert.Equal(t, []int64{48750}, f.gateway.refunds)

	assert.Equal(t, slots.StatusOpen, f.slotStatus(t, *appt.SlotID))
	assert.Contains(t, f.notes.types(), notify.AppointmentCancelled)

	again, err := f.svc.PreviewRefund(ctx, appt.ID, refund.PartyDoctor)
	require.NoError(t, err)
	assert.Equal(t, res.Refund, again)
}

func TestPatientCancelsTwoHoursAhead(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 10, 0)
	pay(t, f, appt.ID)

	res, err := f.svc.Cancel(context.Background(), appointment.CancelCommand{
		AppointmentID: appt.ID,
		CancelledBy:   refund.PartyPatient,
	})
	require.NoError(t, err)
	assert.Equal(t, refund.PolicyPartialRefund, res.Refund.PolicyApplied)
	assert.Equal(t, int64(25000), res.Refund.RefundAmount)
	assert.Empty(t, f.notes.types()[1:], "no cancellation notice without notify_other")
}

func TestDoctorCancelCreditsWallet(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 9, 30)
	pay(t, f, appt.ID)

	res, err := f.svc.Cancel(context.Background(), appointment.CancelCommand{
		AppointmentID: appt.ID,
		CancelledBy:   refund.PartyDoctor,
		Reason:        "emergency",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), res.Refund.RefundAmount)
	assert.Equal(t, int64(5000), res.Refund.WalletCredit)
	assert.Equal(t, int64(5000), f.wallet.credits[*appt.PatientID])
}

func TestUnpaidCancelStillSucceeds(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 9, 30)

	res, err := f.svc.Cancel(context.Background(), appointment.CancelCommand{
		AppointmentID: appt.ID,
		CancelledBy:   refund.PartyPatient,
	})
	require.NoError(t, err)
	assert.Equal(t, refund.PolicyNotApplicable, res.Refund.PolicyApplied)
	assert.Equal(t, appointment.StatusCancelled, res.Appointment.Status)
	assert.Empty(t, f.gateway.refunds)
}

func TestNoShowOnlyAfterSlotPassed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 9, 0)
	pay(t, f, appt.ID)

	cmd := appointment.CancelCommand{AppointmentID: appt.ID, CancelledBy: refund.PartyDoctor, Reason: appointment.ReasonNoShow}

	_, err := f.svc.Cancel(ctx, cmd)
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)

	f.clock.Set(at(9, 45))
	res, err := f.svc.Cancel(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, refund.PolicyNoShow, res.Refund.PolicyApplied)
	assert.Equal(t, int64(0), res.Refund.RefundAmount)
	assert.Equal(t, int64(0), res.Refund.WalletCredit)
	assert.Empty(t, f.gateway.refunds)

	slot, err := f.alloc.Resolve(ctx, *appt.SlotID)
	require.NoError(t, err)
	assert.Equal(t, slots.StatusExpired, slot.Status)
	assert.Nil(t, slot.AppointmentID)
}

func TestNoShowNeedsClinicSideParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 9, 0)
	f.clock.Set(at(9, 45))

	_, err := f.svc.Cancel(ctx, appointment.CancelCommand{
		AppointmentID: appt.ID,
		CancelledBy:   refund.PartyPatient,
		Reason:        appointment.ReasonNoShow,
	})
	assert.ErrorIs(t, err, appointment.ErrInvalidCommand)

	got, err := f.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, got.Status)
}

func TestPatientCancelAfterStartExpiresSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 9, 0)
	pay(t, f, appt.ID)

	f.clock.Set(at(9, 10))
	res, err := f.svc.Cancel(ctx, appointment.CancelCommand{
		AppointmentID: appt.ID,
		CancelledBy:   refund.PartyPatient,
	})
	require.NoError(t, err)
	assert.Equal(t, refund.PolicyNoShow, res.Refund.PolicyApplied)
	assert.Equal(t, int64(0), res.Refund.RefundAmount)
	assert.Empty(t, f.gateway.refunds)

	all, err := f.alloc.Generate(ctx, f.doctorID, day, availability.Online, false)
	require.NoError(t, err)
	for _, s := range all {
		if s.ID == *appt.SlotID {
			assert.Equal(t, slots.StatusExpired, s.Status)
			assert.Nil(t, s.AppointmentID)
		}
	}

	claims, err := f.store.ListClaims(ctx, f.doctorID, day)
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestCancelInProgressDropsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 9, 0)

	f.clock.Set(at(9, 5))
	_, err := f.svc.Transition(ctx, appointment.TransitionCommand{AppointmentID: appt.ID, Target: appointment.StatusInProgress})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, appointment.CancelCommand{AppointmentID: appt.ID, CancelledBy: refund.PartyDoctor})
	require.NoError(t, err)
	assert.Equal(t, slots.StatusExpired, f.slotStatus(t, *appt.SlotID))
}

func TestBookingMetricLabelsAreBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := f.svc.BookSlot(ctx, appointment.BookCommand{
			SlotID:    f.slotID(9, 0, availability.Online),
			SlotType:  fmt.Sprintf("junk-%d", i),
			PatientID: uuid.New(),
		})
		require.ErrorIs(t, err, appointment.ErrInvalidCommand)
	}

	for i, slotType := range []string{"clinic", "in_clinic"} {
		_, err := f.svc.BookSlot(ctx, appointment.BookCommand{
			SlotID:    f.slotID(9, 30*i, availability.InClinic),
			SlotType:  slotType,
			PatientID: uuid.New(),
		})
		require.NoError(t, err)
	}

	n, err := testutil.GatherAndCount(f.metrics.Registry(), "clinic_bookings_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNoShowRejectedForRunningConsultation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 9, 0)

	f.clock.Set(at(9, 5))
	_, err := f.svc.Transition(ctx, appointment.TransitionCommand{AppointmentID: appt.ID, Target: appointment.StatusInProgress})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, appointment.CancelCommand{AppointmentID: appt.ID, CancelledBy: refund.PartyDoctor, Reason: appointment.ReasonNoShow})
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
}

func TestSkipIsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 9, 0)

	for i := 1; i <= 2; i++ {
		got, err := f.svc.Skip(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, i, got.SkipCount)
		assert.Equal(t, appointment.StatusPending, got.Status)
	}

	_, err := f.svc.Skip(ctx, appt.ID)
	assert.ErrorIs(t, err, appointment.ErrSkipLimitReached)
}

func TestExpireStaleReleasesHoldsAndUnpaidBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held := f.slotID(12, 30, availability.Online)
	_, err := f.svc.HoldSlot(ctx, appointment.HoldCommand{SlotID: held, SlotType: "online", PatientID: uuid.New()})
	require.NoError(t, err)

	unpaid := f.book(t, 11, 0)
	paid := f.book(t, 11, 30)
	pay(t, f, paid.ID)

	f.clock.Set(at(8, 30))
	res, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.HoldsReleased)
	assert.Equal(t, 1, res.UnpaidCancelled)

	got, err := f.svc.GetAppointment(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, got.Status)
	assert.Equal(t, refund.PartySystem, got.Cancellation.By)
	assert.Equal(t, appointment.ReasonPaymentTimeout, got.Cancellation.Reason)
	assert.Equal(t, slots.StatusOpen, f.slotStatus(t, *unpaid.SlotID))

	kept, err := f.svc.GetAppointment(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, kept.Status)
}

func TestWalkInNeedsAWorkingDay(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2026, 3, 11, 9, 0, 0, 0, ist))

	_, err := f.svc.AddWalkIn(context.Background(), appointment.WalkInCommand{
		DoctorID: f.doctorID,
		Patient:  &appointment.PatientSnapshot{Name: "Walk In"},
	})
	assert.ErrorIs(t, err, slots.ErrDoctorUnavailable)

	_, err = f.svc.AddWalkIn(context.Background(), appointment.WalkInCommand{DoctorID: f.doctorID})
	assert.ErrorIs(t, err, appointment.ErrInvalidCommand)
}

func TestEventsAreLogged(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 9, 0)
	pay(t, f, appt.ID)

	var types []string
	for _, ev := range f.store.Events() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{
		appointment.EventAppointmentBooked,
		appointment.EventPaymentCaptured,
		appointment.EventAppointmentConfirmed,
	}, types)
}

func TestBlockSlotTakesItOutOfCirculation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.slotID(10, 30, availability.Online)

	blocked, err := f.svc.BlockSlot(ctx, appointment.BlockCommand{SlotID: id, Actor: refund.PartyDoctor, Reason: " surgery "})
	require.NoError(t, err)
	assert.Equal(t, slots.StatusBlocked, blocked.Status)
	assert.Equal(t, "surgery", blocked.BlockReason)

	_, err = f.svc.BookSlot(ctx, appointment.BookCommand{SlotID: id, SlotType: "online", PatientID: uuid.New()})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)
	_, err = f.svc.HoldSlot(ctx, appointment.HoldCommand{SlotID: id, SlotType: "online", PatientID: uuid.New()})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)

	open, err := f.alloc.Generate(ctx, f.doctorID, day, availability.Online, true)
	require.NoError(t, err)
	for _, s := range open {
		assert.NotEqual(t, id, s.ID)
	}

	unblocked, err := f.svc.UnblockSlot(ctx, appointment.BlockCommand{SlotID: id, Actor: refund.PartyAdmin})
	require.NoError(t, err)
	assert.Equal(t, slots.StatusOpen, unblocked.Status)

	_, err = f.svc.BookSlot(ctx, appointment.BookCommand{SlotID: id, SlotType: "online", PatientID: uuid.New()})
	require.NoError(t, err)
}

func TestBlockSlotRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	free := f.slotID(11, 0, availability.Online)
	_, err := f.svc.BlockSlot(ctx, appointment.BlockCommand{SlotID: free, Actor: refund.PartyPatient})
	assert.ErrorIs(t, err, appointment.ErrNotPermitted)

	booked := f.book(t, 9, 0)
	_, err = f.svc.BlockSlot(ctx, appointment.BlockCommand{SlotID: *booked.SlotID, Actor: refund.PartyDoctor})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)

	held := f.slotID(11, 30, availability.Online)
	_, err = f.svc.HoldSlot(ctx, appointment.HoldCommand{SlotID: held, SlotType: "online", PatientID: uuid.New()})
	require.NoError(t, err)
	_, err = f.svc.BlockSlot(ctx, appointment.BlockCommand{SlotID: held, Actor: refund.PartyDoctor})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)

	f.clock.Set(at(8, 10))
	got, err := f.svc.BlockSlot(ctx, appointment.BlockCommand{SlotID: held, Actor: refund.PartyDoctor})
	require.NoError(t, err, "a lapsed hold can be blocked")
	assert.Equal(t, slots.StatusBlocked, got.Status)

	_, err = f.svc.UnblockSlot(ctx, appointment.BlockCommand{SlotID: free, Actor: refund.PartyDoctor})
	assert.ErrorIs(t, err, appointment.ErrSlotNotBlocked)
}
