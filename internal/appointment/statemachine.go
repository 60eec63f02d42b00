package appointment

import "fmt"

// transitions lists every legal edge. Cancellation is reachable from every
// non terminal state; completed and cancelled have no way out.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusInProgress, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Waiting reports whether an appointment in s is still in the queue.
func (s Status) Waiting() bool {
	return s == StatusPending || s == StatusConfirmed
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
