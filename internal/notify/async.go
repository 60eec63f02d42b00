package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Async delivers events in the background. Notify never blocks on delivery
// and never reports a delivery failure to the caller; failures are logged.
type Async struct {
	next    Dispatcher
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewAsync(next Dispatcher, timeout time.Duration, log zerolog.Logger) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{next: next, timeout: timeout, log: log}
}

func (a *Async) Notify(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		if err := a.next.Notify(sendCtx, ev); err != nil {
			a.log.Warn().Err(err).
				Str("event", string(ev.Type)).
				Str("appointment_id", ev.AppointmentID.String()).
				Msg("notification failed")
		}
	}()
	return nil
}

// Wait blocks until every in-flight delivery finished.
func (a *Async) Wait() {
	a.wg.Wait()
}
