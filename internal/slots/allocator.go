package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
)

// ClaimLister reads the persisted claims of one doctor day.
type ClaimLister interface {
	ListClaims(ctx context.Context, doctorID uuid.UUID, date availability.Date) ([]Claim, error)
}

type Allocator struct {
	store  availability.Store
	claims ClaimLister
	loc    *time.Location
	now    func() time.Time
}

func NewAllocator(store availability.Store, claims ClaimLister, loc *time.Location, now func() time.Time) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Allocator{
		store:  store,
		claims: claims,
		loc:    loc,
		now:    now,
	}
}

func (a *Allocator) Location() *time.Location {
	return a.loc
}

// Generate returns the ordered slots of a doctor day for one consultation
// type. A blocked day yields no slots.
func (a *Allocator) Generate(ctx context.Context, doctorID uuid.UUID, date availability.Date, t availability.ConsultationType, availableOnly bool) ([]Slot, error) {
	if t != availability.Online && t != availability.InClinic {
		return nil, ErrInvalidType
	}

	plan, err := availability.Plan(ctx, a.store, doctorID, date)
	if err != nil {
		return nil, err
	}

	out, err := a.build(ctx, plan, t)
	if err != nil {
		return nil, err
	}
	if availableOnly {
		out = OnlyOpen(out)
	}
	return out, nil
}

// Resolve regenerates the day a slot id points at and returns that slot with
// its current status.
func (a *Allocator) Resolve(ctx context.Context, slotID string) (*Slot, error) {
	id, err := ParseID(slotID)
	if err != nil {
		return nil, err
	}

	plan, err := availability.Plan(ctx, a.store, id.DoctorID, id.Date)
	if err != nil {
		return nil, err
	}
	if !plan.Available {
		return nil, fmt.Errorf("%w: %s (%s)", ErrDoctorUnavailable, id.Date, plan.Reason)
	}

	all, err := a.build(ctx, plan, id.Type)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == slotID {
			return &all[i], nil
		}
	}
	return nil, ErrSlotNotFound
}

func (a *Allocator) build(ctx context.Context, plan *availability.DayPlan, t availability.ConsultationType) ([]Slot, error) {
	if !plan.Available {
		return []Slot{}, nil
	}

	claims, err := a.claims.ListClaims(ctx, plan.Doctor.ID, plan.Date)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}

	out := Build(BuildInput{
		Plan:   plan,
		Type:   t,
		Claims: claims,
		Now:    a.now(),
		Loc:    a.loc,
	})
	if out == nil {
		out = []Slot{}
	}
	return out, nil
}
