package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/slots"
)

const pgUniqueViolation = "23505"

const claimColumns = `slot_id, doctor_id, to_char(date, 'YYYY-MM-DD'), status, appointment_id, patient_id, held_until, COALESCE(reason, '')`

const appointmentColumns = `
	id, doctor_id, patient_id, walk_in, slot_id, to_char(date, 'YYYY-MM-DD'),
	starts_at, ends_at, consultation_type, status, token_number, booking_source,
	payment_status, amount, reason, consultation_started_at, consultation_ended_at,
	skip_count, cancellation, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date string
	var reason *string
	var walkIn, cancellation []byte

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&walkIn,
		&a.SlotID,
		&date,
		&a.StartsAt,
		&a.EndsAt,
		&a.ConsultationType,
		&a.Status,
		&a.TokenNumber,
		&a.BookingSource,
		&a.PaymentStatus,
		&a.Amount,
		&reason,
		&a.ConsultationStartedAt,
		&a.ConsultationEndedAt,
		&a.SkipCount,
		&cancellation,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = availability.Date(date)
	if reason != nil {
		a.Reason = *reason
	}
	if len(walkIn) > 0 {
		a.WalkIn = &PatientSnapshot{}
		if err := json.Unmarshal(walkIn, a.WalkIn); err != nil {
			return nil, fmt.Errorf("decode walk-in patient: %w", err)
		}
	}
	if len(cancellation) > 0 {
		a.Cancellation = &Cancellation{}
		if err := json.Unmarshal(cancellation, a.Cancellation); err != nil {
			return nil, fmt.Errorf("decode cancellation: %w", err)
		}
	}
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanClaim(row pgx.Row) (*slots.Claim, error) {
	var c slots.Claim
	var date string

	err := row.Scan(
		&c.SlotID,
		&c.DoctorID,
		&date,
		&c.Status,
		&c.AppointmentID,
		&c.PatientID,
		&c.HeldUntil,
		&c.Reason,
	)
	if err != nil {
		return nil, err
	}
	c.Date = availability.Date(date)
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Interface methods

func (r *PgRepository) ListClaims(ctx context.Context, doctorID uuid.UUID, date availability.Date) ([]slots.Claim, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+claimColumns+`
		FROM slot_claims
		WHERE doctor_id = $1 AND date = $2::date
	`, doctorID, string(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []slots.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// claimSQL inserts a claim or takes over an existing one only when it is a
// hold that elapsed or belongs to the same patient.
const claimSQL = `
	INSERT INTO slot_claims (slot_id, doctor_id, date, status, appointment_id, patient_id, held_until, updated_at)
	VALUES ($1, $2, $3::date, $4, NULL, $5, $6, now())
	ON CONFLICT (slot_id) DO UPDATE
	SET status = EXCLUDED.status,
	    appointment_id = NULL,
	    patient_id = EXCLUDED.patient_id,
	    held_until = EXCLUDED.held_until,
	    reason = NULL,
	    updated_at = now()
	WHERE slot_claims.status = 'held'
	  AND (slot_claims.held_until < $7 OR slot_claims.patient_id = EXCLUDED.patient_id)
	RETURNING ` + claimColumns

// blockSQL takes a slot out of circulation unless it is booked or actively
// held.
const blockSQL = `
	INSERT INTO slot_claims (slot_id, doctor_id, date, status, reason, updated_at)
	VALUES ($1, $2, $3::date, 'blocked', NULLIF($4, ''), now())
	ON CONFLICT (slot_id) DO UPDATE
	SET status = 'blocked',
	    appointment_id = NULL,
	    patient_id = NULL,
	    held_until = NULL,
	    reason = EXCLUDED.reason,
	    updated_at = now()
	WHERE slot_claims.status = 'blocked'
	   OR (slot_claims.status = 'held' AND slot_claims.held_until < $5)
	RETURNING ` + claimColumns

func claim(ctx context.Context, q pgx.Tx, p ClaimParams, status slots.ClaimStatus, heldUntil *time.Time) (*slots.Claim, error) {
	row := q.QueryRow(ctx, claimSQL,
		p.Slot.ID, p.Slot.DoctorID, string(p.Slot.Date), status, p.PatientID, heldUntil, p.Now)
	c, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	return c, nil
}

func nextToken(ctx context.Context, q pgx.Tx, doctorID uuid.UUID, date availability.Date) (int, error) {
	var token int
	err := q.QueryRow(ctx, `
		INSERT INTO token_counters (doctor_id, date, last_token)
		VALUES ($1, $2::date, 1)
		ON CONFLICT (doctor_id, date) DO UPDATE
		SET last_token = token_counters.last_token + 1
		RETURNING last_token
	`, doctorID, string(date)).Scan(&token)
	if err != nil {
		return 0, fmt.Errorf("next token: %w", err)
	}
	return token, nil
}

func insertAppointment(ctx context.Context, q pgx.Tx, a *Appointment) (*Appointment, error) {
	var walkIn []byte
	if a.WalkIn != nil {
		raw, err := json.Marshal(a.WalkIn)
		if err != nil {
			return nil, fmt.Errorf("encode walk-in patient: %w", err)
		}
		walkIn = raw
	}

	row := q.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, walk_in, slot_id, date, starts_at, ends_at,
		                          consultation_type, status, token_number, booking_source,
		                          payment_status, amount, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, ''), now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.PatientID, walkIn, a.SlotID, string(a.Date), a.StartsAt, a.EndsAt,
		a.ConsultationType, a.Status, a.TokenNumber, a.BookingSource,
		a.PaymentStatus, a.Amount, a.Reason)
	return scanAppointment(row)
}

func (r *PgRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgRepository) HoldSlot(ctx context.Context, p ClaimParams, holdUntil time.Time) (*slots.Claim, error) {
	var held *slots.Claim
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		c, err := claim(ctx, tx, p, slots.ClaimHeld, &holdUntil)
		held = c
		return err
	})
	return held, err
}

func (r *PgRepository) BlockSlot(ctx context.Context, p ClaimParams, reason string) (*slots.Claim, error) {
	row := r.pool.QueryRow(ctx, blockSQL, p.Slot.ID, p.Slot.DoctorID, string(p.Slot.Date), reason, p.Now)
	c, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("block slot: %w", err)
	}
	return c, nil
}

func (r *PgRepository) UnblockSlot(ctx context.Context, slotID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM slot_claims WHERE slot_id = $1 AND status = 'blocked'
	`, slotID)
	if err != nil {
		return fmt.Errorf("unblock slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotBlocked
	}
	return nil
}

func (r *PgRepository) BookSlot(ctx context.Context, p ClaimParams, appt *Appointment) (*Appointment, error) {
	var created *Appointment
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := claim(ctx, tx, p, slots.ClaimBooked, nil); err != nil {
			return err
		}

		token, err := nextToken(ctx, tx, appt.DoctorID, appt.Date)
		if err != nil {
			return err
		}
		appt.TokenNumber = token

		a, err := insertAppointment(ctx, tx, appt)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE slot_claims SET appointment_id = $2, updated_at = now() WHERE slot_id = $1
		`, p.Slot.ID, a.ID); err != nil {
			return fmt.Errorf("link claim: %w", err)
		}

		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) CreateWalkIn(ctx context.Context, appt *Appointment) (*Appointment, error) {
	var created *Appointment
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		token, err := nextToken(ctx, tx, appt.DoctorID, appt.Date)
		if err != nil {
			return err
		}
		appt.TokenNumber = token

		a, err := insertAppointment(ctx, tx, appt)
		if err != nil {
			return fmt.Errorf("insert walk-in: %w", err)
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    consultation_started_at = CASE WHEN $2 = 'in_progress' THEN $4 ELSE consultation_started_at END,
		    consultation_ended_at = CASE WHEN $2 = 'completed' THEN $4 ELSE consultation_ended_at END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from, at)

	a, err := scanAppointment(row)
	if err != nil && isUniqueViolation(err) {
		return nil, ErrConsultationInProgress
	}
	return a, err
}

func (r *PgRepository) Cancel(ctx context.Context, id uuid.UUID, from Status, c Cancellation) (*Appointment, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode cancellation: %w", err)
	}

	var cancelled *Appointment
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'cancelled',
			    cancellation = $3,
			    updated_at = now()
			WHERE id = $1
			  AND status = $2
			RETURNING `+appointmentColumns,
			id, from, raw)
		a, err := scanAppointment(row)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM slot_claims WHERE appointment_id = $1`, id); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		cancelled = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (r *PgRepository) SetPaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status = $3
		RETURNING `+appointmentColumns,
		id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) IncrementSkip(ctx context.Context, id uuid.UUID, max int) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET skip_count = skip_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		  AND skip_count < $2
		RETURNING `+appointmentColumns,
		id, max)
	return scanAppointment(row)
}

func (r *PgRepository) ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, date availability.Date, statuses []Status) ([]Appointment, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2::date
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY token_number
	`, doctorID, string(date), names)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM slot_claims
		WHERE status = 'held'
		  AND held_until < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("release expired holds: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) FindUnpaidPending(ctx context.Context, createdBefore time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND payment_status = 'pending'
		  AND booking_source <> 'walk_in'
		  AND created_at < $1
	`, createdBefore)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
