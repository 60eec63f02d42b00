package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDoctorNotFound = fmt.Errorf("doctor %w", ErrNotFound)
)

// Store is the single read path for doctor availability. Slot generation,
// schedule management and calendar views all go through it.
type Store interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetWeeklySchedule(ctx context.Context, doctorID uuid.UUID) (WeeklySchedule, error)
	// GetSpecialDate returns nil, nil when no override exists.
	GetSpecialDate(ctx context.Context, doctorID uuid.UUID, date Date) (*SpecialDate, error)

	SaveDoctor(ctx context.Context, d *Doctor) error
	SaveWeeklyDay(ctx context.Context, doctorID uuid.UUID, day WeeklyScheduleDay) error
	SaveSpecialDate(ctx context.Context, sd SpecialDate) error
	DeleteSpecialDate(ctx context.Context, doctorID uuid.UUID, date Date) error
	SaveSettings(ctx context.Context, doctorID uuid.UUID, s Settings) error
}

// DayPlan is the effective availability of one doctor on one date.
type DayPlan struct {
	Doctor    Doctor
	Date      Date
	Available bool
	Reason    string
	Windows   []TimeWindow
}

// Plan resolves the windows for date: a special date wins over the weekly
// template, and an unavailable special date blocks the whole day.
func Plan(ctx context.Context, s Store, doctorID uuid.UUID, date Date) (*DayPlan, error) {
	doc, err := s.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	plan := &DayPlan{Doctor: *doc, Date: date}

	special, err := s.GetSpecialDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load special date: %w", err)
	}
	if special != nil {
		if special.Unavailable {
			plan.Reason = special.Reason
			if plan.Reason == "" {
				plan.Reason = "leave"
			}
			return plan, nil
		}
		plan.Available = true
		plan.Windows = special.Windows
		return plan, nil
	}

	week, err := s.GetWeeklySchedule(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load weekly schedule: %w", err)
	}
	day := week[date.Weekday()]
	if !day.IsAvailable {
		plan.Reason = "not a working day"
		return plan, nil
	}
	plan.Available = true
	plan.Windows = day.Windows
	return plan, nil
}

// ValidateWindows checks every window of a schedule management command.
func ValidateWindows(windows []TimeWindow) error {
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type defaultDurationStore struct {
	Store
	d time.Duration
}

// WithDefaultDuration fills unset consultation durations on doctors read
// through s with d.
func WithDefaultDuration(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &defaultDurationStore{Store: s, d: d}
}

func (s *defaultDurationStore) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	doc, err := s.Store.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *doc
	if cp.Settings.OnlineDuration <= 0 {
		cp.Settings.OnlineDuration = s.d
	}
	if cp.Settings.ClinicDuration <= 0 {
		cp.Settings.ClinicDuration = s.d
	}
	return &cp, nil
}
