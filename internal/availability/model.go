package availability

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ConsultationType string

const (
	Online   ConsultationType = "online"
	InClinic ConsultationType = "in_clinic"
	Both     ConsultationType = "both"
)

// ParseConsultationType accepts the booking-side spelling "clinic" as well.
func ParseConsultationType(s string) (ConsultationType, error) {
	switch s {
	case "online":
		return Online, nil
	case "in_clinic", "clinic":
		return InClinic, nil
	case "both":
		return Both, nil
	}
	return "", fmt.Errorf("unknown consultation type %q", s)
}

// Matches reports whether a window of type t serves requests for want.
func (t ConsultationType) Matches(want ConsultationType) bool {
	return t == want || t == Both
}

// ClockTime is a wall clock time of day in minutes after midnight.
type ClockTime int

func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Date is a calendar day in the clinic's time zone, formatted 2006-01-02.
type Date string

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	return Date(t.In(loc).Format(dateLayout))
}

// Midnight returns the start of the day in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(dateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// At returns the instant at clock time c on day d in loc.
func (d Date) At(c ClockTime, loc *time.Location) time.Time {
	m := d.Midnight(loc)
	return time.Date(m.Year(), m.Month(), m.Day(), int(c)/60, int(c)%60, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return time.Sunday
	}
	return t.Weekday()
}

// Compact renders the date as 20061002 for use inside slot ids.
func (d Date) Compact() string {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return ""
	}
	return t.Format("20060102")
}

// TimeWindow is one consulting window inside a day.
type TimeWindow struct {
	Start         ClockTime        `json:"start"`
	End           ClockTime        `json:"end"`
	Type          ConsultationType `json:"consultation_type"`
	MaxConcurrent int              `json:"max_concurrent"`
}

func (w TimeWindow) Validate() error {
	if w.End <= w.Start {
		return fmt.Errorf("window %s-%s ends before it starts", w.Start, w.End)
	}
	switch w.Type {
	case Online, InClinic, Both:
	default:
		return fmt.Errorf("window %s-%s has unknown consultation type %q", w.Start, w.End, w.Type)
	}
	if w.MaxConcurrent < 0 {
		return fmt.Errorf("window %s-%s has negative max_concurrent", w.Start, w.End)
	}
	return nil
}

// Seats is the number of parallel slots one sub-interval of the window offers.
func (w TimeWindow) Seats() int {
	if w.MaxConcurrent < 1 {
		return 1
	}
	return w.MaxConcurrent
}

type WeeklyScheduleDay struct {
	Weekday     time.Weekday `json:"weekday"`
	IsAvailable bool         `json:"is_available"`
	Windows     []TimeWindow `json:"windows"`
}

// WeeklySchedule is indexed by time.Weekday.
type WeeklySchedule [7]WeeklyScheduleDay

// SpecialDate overrides the weekly template for one day.
type SpecialDate struct {
	DoctorID    uuid.UUID    `json:"doctor_id"`
	Date        Date         `json:"date"`
	Unavailable bool         `json:"unavailable"`
	Reason      string       `json:"reason,omitempty"`
	Windows     []TimeWindow `json:"windows,omitempty"`
}

const DefaultConsultationDuration = 30 * time.Minute

// Settings are the per-doctor duration and per-day capacity knobs.
type Settings struct {
	OnlineDuration  time.Duration `json:"online_duration"`
	ClinicDuration  time.Duration `json:"clinic_duration"`
	MaxOnlinePerDay int           `json:"max_online_per_day"`
	MaxClinicPerDay int           `json:"max_clinic_per_day"`
}

func (s Settings) Duration(t ConsultationType) time.Duration {
	d := s.ClinicDuration
	if t == Online {
		d = s.OnlineDuration
	}
	if d <= 0 {
		return DefaultConsultationDuration
	}
	return d
}

// MaxPerDay returns the daily slot cap for t, 0 meaning unlimited.
func (s Settings) MaxPerDay(t ConsultationType) int {
	if t == Online {
		return s.MaxOnlinePerDay
	}
	return s.MaxClinicPerDay
}

type Doctor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty,omitempty"`
	OnlineFee int64     `json:"online_fee"`
	ClinicFee int64     `json:"clinic_fee"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fee returns the consultation fee in paise for t.
func (d Doctor) Fee(t ConsultationType) int64 {
	if t == Online {
		return d.OnlineFee
	}
	return d.ClinicFee
}
