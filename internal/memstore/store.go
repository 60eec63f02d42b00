// Package memstore keeps doctors, claims and appointments in process memory.
// It backs STORE_DRIVER=memory and the service tests, and gives the same
// atomic claim, counter and conditional update guarantees as Postgres by
// serialising every write under one mutex.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

type dayKey struct {
	doctorID uuid.UUID
	date     availability.Date
}

type Store struct {
	mu sync.Mutex

	doctors  map[uuid.UUID]availability.Doctor
	weekly   map[uuid.UUID]availability.WeeklySchedule
	special  map[dayKey]availability.SpecialDate
	claims   map[string]slots.Claim
	tokens   map[dayKey]int
	appts    map[uuid.UUID]appointment.Appointment
	events   []appointment.EventLog
	nextEvID int64
}

var (
	_ availability.Store     = (*Store)(nil)
	_ appointment.Repository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		doctors: make(map[uuid.UUID]availability.Doctor),
		weekly:  make(map[uuid.UUID]availability.WeeklySchedule),
		special: make(map[dayKey]availability.SpecialDate),
		claims:  make(map[string]slots.Claim),
		tokens:  make(map[dayKey]int),
		appts:   make(map[uuid.UUID]appointment.Appointment),
	}
}

// Availability

func (s *Store) GetDoctor(_ context.Context, id uuid.UUID) (*availability.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.doctors[id]
	if !ok {
		return nil, availability.ErrDoctorNotFound
	}
	return &d, nil
}

func (s *Store) GetWeeklySchedule(_ context.Context, doctorID uuid.UUID) (availability.WeeklySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	week, ok := s.weekly[doctorID]
	if !ok {
		for i := range week {
			week[i].Weekday = time.Weekday(i)
		}
	}
	return week, nil
}

func (s *Store) GetSpecialDate(_ context.Context, doctorID uuid.UUID, date availability.Date) (*availability.SpecialDate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd, ok := s.special[dayKey{doctorID, date}]
	if !ok {
		return nil, nil
	}
	return &sd, nil
}

func (s *Store) SaveDoctor(_ context.Context, d *availability.Doctor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	if existing, ok := s.doctors[d.ID]; ok {
		d.CreatedAt = existing.CreatedAt
	} else {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.doctors[d.ID] = *d
	return nil
}

func (s *Store) SaveWeeklyDay(_ context.Context, doctorID uuid.UUID, day availability.WeeklyScheduleDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	week, ok := s.weekly[doctorID]
	if !ok {
		for i := range week {
			week[i].Weekday = time.Weekday(i)
		}
	}
	day.Windows = append([]availability.TimeWindow(nil), day.Windows...)
	week[day.Weekday] = day
	s.weekly[doctorID] = week
	return nil
}

func (s *Store) SaveSpecialDate(_ context.Context, sd availability.SpecialDate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd.Windows = append([]availability.TimeWindow(nil), sd.Windows...)
	s.special[dayKey{sd.DoctorID, sd.Date}] = sd
	return nil
}

func (s *Store) DeleteSpecialDate(_ context.Context, doctorID uuid.UUID, date availability.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.special, dayKey{doctorID, date})
	return nil
}

func (s *Store) SaveSettings(_ context.Context, doctorID uuid.UUID, st availability.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.doctors[doctorID]
	if !ok {
		return availability.ErrDoctorNotFound
	}
	d.Settings = st
	d.UpdatedAt = time.Now()
	s.doctors[doctorID] = d
	return nil
}

// Claims and appointments

func (s *Store) ListClaims(_ context.Context, doctorID uuid.UUID, date availability.Date) ([]slots.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []slots.Claim
	for _, c := range s.claims {
		if c.DoctorID == doctorID && c.Date == date {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out, nil
}

// claimLocked mirrors the Postgres upsert: a free slot, an elapsed hold or
// the patient's own hold can be taken over; anything else is unavailable.
func (s *Store) claimLocked(p appointment.ClaimParams, status slots.ClaimStatus, heldUntil *time.Time) (slots.Claim, error) {
	if existing, ok := s.claims[p.Slot.ID]; ok {
		takeover := existing.Status == slots.ClaimHeld && existing.HeldUntil != nil &&
			(existing.HeldUntil.Before(p.Now) ||
				(p.PatientID != nil && existing.PatientID != nil && *existing.PatientID == *p.PatientID))
		if !takeover {
			return slots.Claim{}, appointment.ErrSlotUnavailable
		}
	}

	c := slots.Claim{
		SlotID:    p.Slot.ID,
		DoctorID:  p.Slot.DoctorID,
		Date:      p.Slot.Date,
		Status:    status,
		PatientID: copyID(p.PatientID),
		HeldUntil: heldUntil,
	}
	s.claims[p.Slot.ID] = c
	return c, nil
}

func (s *Store) nextTokenLocked(doctorID uuid.UUID, date availability.Date) int {
	k := dayKey{doctorID, date}
	s.tokens[k]++
	return s.tokens[k]
}

func (s *Store) insertLocked(a *appointment.Appointment) appointment.Appointment {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.UpdatedAt = a.CreatedAt
	stored := clone(*a)
	s.appts[a.ID] = stored
	return clone(stored)
}

func (s *Store) HoldSlot(_ context.Context, p appointment.ClaimParams, holdUntil time.Time) (*slots.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.claimLocked(p, slots.ClaimHeld, &holdUntil)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) BlockSlot(_ context.Context, p appointment.ClaimParams, reason string) (*slots.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.claims[p.Slot.ID]; ok {
		lapsed := existing.Status == slots.ClaimHeld && existing.HeldUntil != nil && existing.HeldUntil.Before(p.Now)
		if existing.Status != slots.ClaimBlocked && !lapsed {
			return nil, appointment.ErrSlotUnavailable
		}
	}

	c := slots.Claim{
		SlotID:   p.Slot.ID,
		DoctorID: p.Slot.DoctorID,
		Date:     p.Slot.Date,
		Status:   slots.ClaimBlocked,
		Reason:   reason,
	}
	s.claims[p.Slot.ID] = c
	return &c, nil
}

func (s *Store) UnblockSlot(_ context.Context, slotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[slotID]
	if !ok || c.Status != slots.ClaimBlocked {
		return appointment.ErrSlotNotBlocked
	}
	delete(s.claims, slotID)
	return nil
}

func (s *Store) BookSlot(_ context.Context, p appointment.ClaimParams, appt *appointment.Appointment) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.claimLocked(p, slots.ClaimBooked, nil)
	if err != nil {
		return nil, err
	}

	appt.TokenNumber = s.nextTokenLocked(appt.DoctorID, appt.Date)
	created := s.insertLocked(appt)

	id := created.ID
	c.AppointmentID = &id
	s.claims[c.SlotID] = c
	return &created, nil
}

func (s *Store) CreateWalkIn(_ context.Context, appt *appointment.Appointment) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt.TokenNumber = s.nextTokenLocked(appt.DoctorID, appt.Date)
	created := s.insertLocked(appt)
	return &created, nil
}

func (s *Store) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	out := clone(a)
	return &out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, from, to appointment.Status, at time.Time) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}

	if to == appointment.StatusInProgress {
		for _, other := range s.appts {
			if other.ID != id && other.DoctorID == a.DoctorID && other.Date == a.Date &&
				other.Status == appointment.StatusInProgress {
				return nil, appointment.ErrConsultationInProgress
			}
		}
		t := at
		a.ConsultationStartedAt = &t
	}
	if to == appointment.StatusCompleted {
		t := at
		a.ConsultationEndedAt = &t
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	s.appts[id] = a
	out := clone(a)
	return &out, nil
}

func (s *Store) Cancel(_ context.Context, id uuid.UUID, from appointment.Status, c appointment.Cancellation) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}

	a.Status = appointment.StatusCancelled
	a.Cancellation = &c
	a.UpdatedAt = time.Now()
	s.appts[id] = a

	if a.SlotID != nil {
		if claim, ok := s.claims[*a.SlotID]; ok && claim.AppointmentID != nil && *claim.AppointmentID == id {
			delete(s.claims, *a.SlotID)
		}
	}

	out := clone(a)
	return &out, nil
}

func (s *Store) SetPaymentStatus(_ context.Context, id uuid.UUID, from, to appointment.PaymentStatus) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok || a.PaymentStatus != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.PaymentStatus = to
	a.UpdatedAt = time.Now()
	s.appts[id] = a
	out := clone(a)
	return &out, nil
}

func (s *Store) IncrementSkip(_ context.Context, id uuid.UUID, max int) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok || !a.Status.Waiting() || a.SkipCount >= max {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.SkipCount++
	a.UpdatedAt = time.Now()
	s.appts[id] = a
	out := clone(a)
	return &out, nil
}

func (s *Store) ListByDoctorDay(_ context.Context, doctorID uuid.UUID, date availability.Date, statuses []appointment.Status) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range s.appts {
		if a.DoctorID != doctorID || a.Date != date {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, a.Status) {
			continue
		}
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenNumber < out[j].TokenNumber })
	return out, nil
}

func (s *Store) ReleaseExpiredHolds(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.claims {
		if c.Status == slots.ClaimHeld && c.HeldUntil != nil && c.HeldUntil.Before(now) {
			delete(s.claims, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) FindUnpaidPending(_ context.Context, createdBefore time.Time) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range s.appts {
		if a.Status == appointment.StatusPending &&
			a.PaymentStatus == appointment.PaymentPending &&
			a.BookingSource != appointment.SourceWalkIn &&
			a.CreatedAt.Before(createdBefore) {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

func (s *Store) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEvID++
	ev.ID = s.nextEvID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns the event log in insertion order.
func (s *Store) Events() []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appointment.EventLog(nil), s.events...)
}

func hasStatus(list []appointment.Status, s appointment.Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// clone deep copies the pointer fields so callers never alias stored state.
func clone(a appointment.Appointment) appointment.Appointment {
	a.PatientID = copyID(a.PatientID)
	if a.WalkIn != nil {
		w := *a.WalkIn
		a.WalkIn = &w
	}
	if a.SlotID != nil {
		v := *a.SlotID
		a.SlotID = &v
	}
	if a.ConsultationStartedAt != nil {
		v := *a.ConsultationStartedAt
		a.ConsultationStartedAt = &v
	}
	if a.ConsultationEndedAt != nil {
		v := *a.ConsultationEndedAt
		a.ConsultationEndedAt = &v
	}
	if a.Cancellation != nil {
		c := *a.Cancellation
		a.Cancellation = &c
	}
	return a
}
