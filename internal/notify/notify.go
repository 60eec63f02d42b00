package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	BookingConfirmed     EventType = "booking_confirmed"
	AppointmentCancelled EventType = "appointment_cancelled"
	QueuePositionUpdate  EventType = "queue_position_update"
)

type Event struct {
	ID            uuid.UUID      `json:"id"`
	Type          EventType      `json:"type"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	DoctorID      uuid.UUID      `json:"doctor_id"`
	PatientID     *uuid.UUID     `json:"patient_id,omitempty"`
	Date          string         `json:"date"`
	Payload       map[string]any `json:"payload,omitempty"`
	At            time.Time      `json:"at"`
}

// Dispatcher hands events to whatever delivers them to people.
type Dispatcher interface {
	Notify(ctx context.Context, ev Event) error
}

// QueueChannel is the pub/sub channel carrying updates for one doctor day.
func QueueChannel(doctorID uuid.UUID, date string) string {
	return fmt.Sprintf("queue:%s:%s", doctorID, date)
}

// EventsChannel carries every event of a type.
func EventsChannel(t EventType) string {
	return "events:" + string(t)
}

type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Notify(_ context.Context, ev Event) error {
	d.log.Info().
		Str("event", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID.String()).
		Str("doctor_id", ev.DoctorID.String()).
		Str("date", ev.Date).
		Interface("payload", ev.Payload).
		Msg("notification")
	return nil
}

// Multi fans an event out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
