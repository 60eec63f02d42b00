package slots

import (
	"sort"
	"time"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
)

// BuildInput is everything the pure slot generator needs.
type BuildInput struct {
	Plan   *availability.DayPlan
	Type   availability.ConsultationType
	Claims []Claim
	Now    time.Time
	Loc    *time.Location
}

type interval struct {
	start, end availability.ClockTime
}

func (i interval) overlaps(o interval) bool {
	return i.start < o.end && o.start < i.end
}

// Build partitions every matching window of the plan into consultation sized
// sub-intervals and stamps each with its claim status. Windows are taken in
// order and a sub-interval overlapping one an earlier window already produced
// is dropped.
func Build(in BuildInput) []Slot {
	if in.Plan == nil || !in.Plan.Available {
		return nil
	}

	loc := in.Loc
	if loc == nil {
		loc = time.UTC
	}

	duration := in.Plan.Doctor.Settings.Duration(in.Type)
	step := availability.ClockTime(duration / time.Minute)
	if step <= 0 {
		return nil
	}

	var taken []interval
	var out []Slot

	for _, w := range in.Plan.Windows {
		if !w.Type.Matches(in.Type) {
			continue
		}

		var produced []interval
		for start := w.Start; start+step <= w.End; start += step {
			iv := interval{start: start, end: start + step}
			if overlapsAny(iv, taken) {
				continue
			}
			produced = append(produced, iv)

			for seat := 1; seat <= w.Seats(); seat++ {
				id := ID{
					DoctorID: in.Plan.Doctor.ID,
					Date:     in.Plan.Date,
					Start:    start,
					Type:     in.Type,
					Seat:     seat,
				}
				out = append(out, Slot{
					ID:       id.String(),
					DoctorID: in.Plan.Doctor.ID,
					Date:     in.Plan.Date,
					StartsAt: in.Plan.Date.At(start, loc),
					EndsAt:   in.Plan.Date.At(start+step, loc),
					Type:     in.Type,
					Duration: duration,
					Seat:     seat,
					Status:   StatusOpen,
				})
			}
		}
		taken = append(taken, produced...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].Seat < out[j].Seat
	})

	if max := in.Plan.Doctor.Settings.MaxPerDay(in.Type); max > 0 && len(out) > max {
		out = out[:max]
	}

	claims := make(map[string]Claim, len(in.Claims))
	for _, c := range in.Claims {
		claims[c.SlotID] = c
	}

	for i := range out {
		s := &out[i]
		if c, ok := claims[s.ID]; ok && c.Active(in.Now) {
			switch c.Status {
			case ClaimBooked:
				s.Status = StatusBooked
				s.AppointmentID = c.AppointmentID
			case ClaimBlocked:
				s.Status = StatusBlocked
				s.BlockReason = c.Reason
			default:
				s.Status = StatusHeld
				s.HeldUntil = c.HeldUntil
			}
			continue
		}
		if s.StartsAt.Before(in.Now) {
			s.Status = StatusExpired
		}
	}

	return out
}

func overlapsAny(iv interval, taken []interval) bool {
	for _, t := range taken {
		if iv.overlaps(t) {
			return true
		}
	}
	return false
}

// OnlyOpen filters slots down to the ones a patient may book.
func OnlyOpen(in []Slot) []Slot {
	out := make([]Slot, 0, len(in))
	for _, s := range in {
		if s.Status == StatusOpen {
			out = append(out, s)
		}
	}
	return out
}
