package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
)

var (
	ErrSlotNotFound      = fmt.Errorf("slot %w", availability.ErrNotFound)
	ErrDoctorUnavailable = errors.New("doctor is unavailable on this date")
	ErrInvalidType       = errors.New("consultation type must be online or in_clinic")
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusHeld    Status = "held"
	StatusBooked  Status = "booked"
	StatusBlocked Status = "blocked"
	StatusExpired Status = "expired"
)

// Slot is one concrete bookable unit. Slots are generated on demand and
// only their claims are persisted.
type Slot struct {
	ID            string                        `json:"id"`
	DoctorID      uuid.UUID                     `json:"doctor_id"`
	Date          availability.Date             `json:"date"`
	StartsAt      time.Time                     `json:"starts_at"`
	EndsAt        time.Time                     `json:"ends_at"`
	Type          availability.ConsultationType `json:"consultation_type"`
	Duration      time.Duration                 `json:"-"`
	Seat          int                           `json:"seat"`
	Status        Status                        `json:"status"`
	AppointmentID *uuid.UUID                    `json:"appointment_id,omitempty"`
	HeldUntil     *time.Time                    `json:"held_until,omitempty"`
	BlockReason   string                        `json:"block_reason,omitempty"`
}

// DurationMinutes is the slot length in whole minutes.
func (s Slot) DurationMinutes() int {
	return int(s.Duration / time.Minute)
}

type ClaimStatus string

const (
	ClaimHeld    ClaimStatus = "held"
	ClaimBooked  ClaimStatus = "booked"
	ClaimBlocked ClaimStatus = "blocked"
)

// Claim is the persisted reservation of a slot. A slot without a claim is open.
type Claim struct {
	SlotID        string
	DoctorID      uuid.UUID
	Date          availability.Date
	Status        ClaimStatus
	AppointmentID *uuid.UUID
	PatientID     *uuid.UUID
	HeldUntil     *time.Time
	Reason        string
}

// Active reports whether the claim still blocks the slot at now.
// A hold whose deadline passed no longer counts.
func (c Claim) Active(now time.Time) bool {
	switch c.Status {
	case ClaimBooked, ClaimBlocked:
		return true
	case ClaimHeld:
		return c.HeldUntil != nil && c.HeldUntil.After(now)
	}
	return false
}

// HeldBy reports whether an active hold belongs to patientID.
func (c Claim) HeldBy(patientID uuid.UUID, now time.Time) bool {
	return c.Status == ClaimHeld && c.Active(now) && c.PatientID != nil && *c.PatientID == patientID
}

// ID identifies a slot as <doctor>.<YYYYMMDD>.<HHMM>.<online|clinic>.<seat>.
type ID struct {
	DoctorID uuid.UUID
	Date     availability.Date
	Start    availability.ClockTime
	Type     availability.ConsultationType
	Seat     int
}

func (id ID) String() string {
	return fmt.Sprintf("%s.%s.%02d%02d.%s.%d",
		id.DoctorID, id.Date.Compact(), int(id.Start)/60, int(id.Start)%60, typeToken(id.Type), id.Seat)
}

func typeToken(t availability.ConsultationType) string {
	if t == availability.Online {
		return "online"
	}
	return "clinic"
}

func ParseID(s string) (ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 5 {
		return ID{}, fmt.Errorf("%w: malformed id %q", ErrSlotNotFound, s)
	}

	doctorID, err := uuid.Parse(parts[0])
	if err != nil {
		return ID{}, fmt.Errorf("%w: bad doctor in %q", ErrSlotNotFound, s)
	}

	day, err := time.Parse("20060102", parts[1])
	if err != nil {
		return ID{}, fmt.Errorf("%w: bad date in %q", ErrSlotNotFound, s)
	}

	if len(parts[2]) != 4 {
		return ID{}, fmt.Errorf("%w: bad start in %q", ErrSlotNotFound, s)
	}
	start, err := availability.ParseClock(parts[2][:2] + ":" + parts[2][2:])
	if err != nil {
		return ID{}, fmt.Errorf("%w: bad start in %q", ErrSlotNotFound, s)
	}

	var t availability.ConsultationType
	switch parts[3] {
	case "online":
		t = availability.Online
	case "clinic":
		t = availability.InClinic
	default:
		return ID{}, fmt.Errorf("%w: bad type in %q", ErrSlotNotFound, s)
	}

	seat, err := strconv.Atoi(parts[4])
	if err != nil || seat < 1 {
		return ID{}, fmt.Errorf("%w: bad seat in %q", ErrSlotNotFound, s)
	}

	return ID{
		DoctorID: doctorID,
		Date:     availability.Date(day.Format("2006-01-02")),
		Start:    start,
		Type:     t,
		Seat:     seat,
	}, nil
}
