package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string
	var onlineMin, clinicMin int

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.OnlineFee,
		&d.ClinicFee,
		&onlineMin,
		&clinicMin,
		&d.Settings.MaxOnlinePerDay,
		&d.Settings.MaxClinicPerDay,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if specialty != nil {
		d.Specialty = *specialty
	}
	d.Settings.OnlineDuration = time.Duration(onlineMin) * time.Minute
	d.Settings.ClinicDuration = time.Duration(clinicMin) * time.Minute
	return &d, nil
}

func (s *PgStore) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, specialty, online_fee, clinic_fee,
		       online_duration_minutes, clinic_duration_minutes,
		       max_online_per_day, max_clinic_per_day, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (s *PgStore) SaveDoctor(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO doctors (id, name, specialty, online_fee, clinic_fee,
		                     online_duration_minutes, clinic_duration_minutes,
		                     max_online_per_day, max_clinic_per_day, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialty = EXCLUDED.specialty,
		    online_fee = EXCLUDED.online_fee,
		    clinic_fee = EXCLUDED.clinic_fee,
		    online_duration_minutes = EXCLUDED.online_duration_minutes,
		    clinic_duration_minutes = EXCLUDED.clinic_duration_minutes,
		    max_online_per_day = EXCLUDED.max_online_per_day,
		    max_clinic_per_day = EXCLUDED.max_clinic_per_day,
		    updated_at = now()
	`, d.ID, d.Name, d.Specialty, d.OnlineFee, d.ClinicFee,
		int(d.Settings.OnlineDuration/time.Minute), int(d.Settings.ClinicDuration/time.Minute),
		d.Settings.MaxOnlinePerDay, d.Settings.MaxClinicPerDay)
	if err != nil {
		return fmt.Errorf("save doctor: %w", err)
	}
	return nil
}

func (s *PgStore) GetWeeklySchedule(ctx context.Context, doctorID uuid.UUID) (WeeklySchedule, error) {
	var week WeeklySchedule
	for i := range week {
		week[i].Weekday = time.Weekday(i)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT weekday, is_available, windows
		FROM weekly_schedule_days
		WHERE doctor_id = $1
	`, doctorID)
	if err != nil {
		return week, err
	}
	defer rows.Close()

	for rows.Next() {
		var weekday int
		var day WeeklyScheduleDay
		var raw []byte
		if err := rows.Scan(&weekday, &day.IsAvailable, &raw); err != nil {
			return week, err
		}
		if weekday < 0 || weekday > 6 {
			continue
		}
		if err := json.Unmarshal(raw, &day.Windows); err != nil {
			return week, fmt.Errorf("decode windows for weekday %d: %w", weekday, err)
		}
		day.Weekday = time.Weekday(weekday)
		week[weekday] = day
	}

	return week, rows.Err()
}

func (s *PgStore) SaveWeeklyDay(ctx context.Context, doctorID uuid.UUID, day WeeklyScheduleDay) error {
	raw, err := json.Marshal(day.Windows)
	if err != nil {
		return fmt.Errorf("encode windows: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO weekly_schedule_days (doctor_id, weekday, is_available, windows, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (doctor_id, weekday) DO UPDATE
		SET is_available = EXCLUDED.is_available,
		    windows = EXCLUDED.windows,
		    updated_at = now()
	`, doctorID, int(day.Weekday), day.IsAvailable, raw)
	if err != nil {
		return fmt.Errorf("save weekly day: %w", err)
	}
	return nil
}

func (s *PgStore) GetSpecialDate(ctx context.Context, doctorID uuid.UUID, date Date) (*SpecialDate, error) {
	sd := SpecialDate{DoctorID: doctorID, Date: date}
	var reason *string
	var raw []byte

	err := s.pool.QueryRow(ctx, `
		SELECT unavailable, reason, windows
		FROM special_dates
		WHERE doctor_id = $1 AND date = $2
	`, doctorID, string(date)).Scan(&sd.Unavailable, &reason, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if reason != nil {
		sd.Reason = *reason
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sd.Windows); err != nil {
			return nil, fmt.Errorf("decode special date windows: %w", err)
		}
	}
	return &sd, nil
}

func (s *PgStore) SaveSpecialDate(ctx context.Context, sd SpecialDate) error {
	raw, err := json.Marshal(sd.Windows)
	if err != nil {
		return fmt.Errorf("encode windows: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO special_dates (doctor_id, date, unavailable, reason, windows, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, now())
		ON CONFLICT (doctor_id, date) DO UPDATE
		SET unavailable = EXCLUDED.unavailable,
		    reason = EXCLUDED.reason,
		    windows = EXCLUDED.windows
	`, sd.DoctorID, string(sd.Date), sd.Unavailable, sd.Reason, raw)
	if err != nil {
		return fmt.Errorf("save special date: %w", err)
	}
	return nil
}

func (s *PgStore) DeleteSpecialDate(ctx context.Context, doctorID uuid.UUID, date Date) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM special_dates WHERE doctor_id = $1 AND date = $2
	`, doctorID, string(date))
	if err != nil {
		return fmt.Errorf("delete special date: %w", err)
	}
	return nil
}

func (s *PgStore) SaveSettings(ctx context.Context, doctorID uuid.UUID, st Settings) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE doctors
		SET online_duration_minutes = $2,
		    clinic_duration_minutes = $3,
		    max_online_per_day = $4,
		    max_clinic_per_day = $5,
		    updated_at = now()
		WHERE id = $1
	`, doctorID, int(st.OnlineDuration/time.Minute), int(st.ClinicDuration/time.Minute),
		st.MaxOnlinePerDay, st.MaxClinicPerDay)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}
