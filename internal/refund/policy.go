package refund

import (
	"fmt"
	"math"
	"time"

	"github.com/hackgods/clinic-queue-scheduling/internal/config"
)

// Party is whoever asked for the cancellation.
type Party string

const (
	PartyPatient Party = "patient"
	PartyDoctor  Party = "doctor"
	PartyClinic  Party = "clinic"
	PartyAdmin   Party = "admin"
	PartySystem  Party = "system"
)

func ParseParty(s string) (Party, error) {
	switch p := Party(s); p {
	case PartyPatient, PartyDoctor, PartyClinic, PartyAdmin, PartySystem:
		return p, nil
	}
	return "", fmt.Errorf("unknown cancelling party %q", s)
}

// ClinicSide reports whether the clinic broke the commitment.
func (p Party) ClinicSide() bool {
	return p != PartyPatient
}

const (
	PolicyNotApplicable   = "not_applicable"
	PolicyCompleted       = "completed"
	PolicyNoShow          = "no_show"
	PolicyDoctorCancelled = "doctor_cancelled"
	PolicyFullRefund      = "full_refund"
	PolicyPartialRefund   = "partial_refund"
)

// Policy holds the refund knobs. Amounts are in paise.
type Policy struct {
	FullRefundWindow         time.Duration
	PartialRefundPercentage  float64
	GatewayFeePercentage     float64
	DoctorCancelCompensation int64
	MinimumRefund            int64
}

func DefaultPolicy() Policy {
	return Policy{
		FullRefundWindow:         6 * time.Hour,
		PartialRefundPercentage:  50,
		GatewayFeePercentage:     2.5,
		DoctorCancelCompensation: 5000,
		MinimumRefund:            100,
	}
}

func FromConfig(c config.RefundConfig) Policy {
	return Policy{
		FullRefundWindow:         c.FullRefundWindow,
		PartialRefundPercentage:  c.PartialRefundPercentage,
		GatewayFeePercentage:     c.GatewayFeePercentage,
		DoctorCancelCompensation: c.DoctorCancelCompensation,
		MinimumRefund:            c.MinimumRefund,
	}
}

// Input is the slice of an appointment the policy looks at.
type Input struct {
	Amount           int64
	PaymentCompleted bool
	Completed        bool
	NoShow           bool
	StartsAt         time.Time
}

type Decision struct {
	RefundPercentage      float64 `json:"refund_percentage"`
	OriginalAmount        int64   `json:"original_amount"`
	RefundAmount          int64   `json:"refund_amount"`
	GatewayFeeDeducted    int64   `json:"gateway_fee_deducted"`
	PlatformRetained      int64   `json:"platform_retained"`
	WalletCredit          int64   `json:"wallet_credit"`
	PolicyApplied         string  `json:"policy_applied"`
	HoursUntilAppointment float64 `json:"hours_until_appointment"`
	CancelledBy           Party   `json:"cancelled_by"`
	Reason                string  `json:"reason"`
}

// ShouldRefund reports whether the gateway should be asked to move money.
func (d Decision) ShouldRefund(minimum int64) bool {
	return d.RefundAmount > 0 && d.RefundAmount >= minimum
}

// Compute prices a cancellation. It has no side effects and never fails;
// "not_applicable" is the nothing-to-refund outcome.
func (p Policy) Compute(in Input, by Party, now time.Time) Decision {
	d := Decision{
		OriginalAmount:        in.Amount,
		HoursUntilAppointment: in.StartsAt.Sub(now).Hours(),
		CancelledBy:           by,
	}

	switch {
	case !in.PaymentCompleted || in.Amount <= 0:
		d.PolicyApplied = PolicyNotApplicable
		d.Reason = "no payment was made for this appointment"
		return d

	case in.Completed:
		d.PolicyApplied = PolicyCompleted
		d.PlatformRetained = in.Amount
		d.Reason = "consultation was already completed"
		return d

	case in.NoShow:
		d.PolicyApplied = PolicyNoShow
		d.PlatformRetained = in.Amount
		d.Reason = "patient did not show up"
		return d

	case by.ClinicSide():
		d.PolicyApplied = PolicyDoctorCancelled
		d.RefundPercentage = 100
		d.RefundAmount = amountAt(in.Amount, 100, 0)
		d.WalletCredit = p.DoctorCancelCompensation
		d.Reason = fmt.Sprintf("cancelled by %s", by)
		return d

	case now.After(in.StartsAt):
		d.PolicyApplied = PolicyNoShow
		d.PlatformRetained = in.Amount
		d.Reason = "appointment time has already passed"
		return d

	case in.StartsAt.Sub(now) >= p.FullRefundWindow:
		fee := percentOf(in.Amount, p.GatewayFeePercentage)
		d.PolicyApplied = PolicyFullRefund
		d.RefundPercentage = 100
		d.RefundAmount = amountAt(in.Amount, 100, fee)
		d.GatewayFeeDeducted = fee
		d.Reason = fmt.Sprintf("cancelled at least %s before the appointment", p.FullRefundWindow)
		return d

	default:
		d.PolicyApplied = PolicyPartialRefund
		d.RefundPercentage = p.PartialRefundPercentage
		d.RefundAmount = amountAt(in.Amount, p.PartialRefundPercentage, 0)
		d.PlatformRetained = in.Amount - d.RefundAmount
		d.Reason = fmt.Sprintf("cancelled less than %s before the appointment", p.FullRefundWindow)
		return d
	}
}

func percentOf(amount int64, pct float64) int64 {
	return int64(math.Round(float64(amount) * pct / 100))
}

// amountAt is round(amount * pct / 100) - fee, clamped at zero.
func amountAt(amount int64, pct float64, fee int64) int64 {
	v := percentOf(amount, pct) - fee
	if v < 0 {
		return 0
	}
	return v
}

// Tier is one human readable row of the published policy.
type Tier struct {
	Policy           string  `json:"policy"`
	Condition        string  `json:"condition"`
	RefundPercentage float64 `json:"refund_percentage"`
	Description      string  `json:"description"`
	WalletCredit     int64   `json:"wallet_credit,omitempty"`
}

type Description struct {
	FullRefundWindowHours float64 `json:"full_refund_window_hours"`
	GatewayFeePercentage  float64 `json:"gateway_fee_percentage"`
	MinimumRefund         int64   `json:"minimum_refund"`
	Tiers                 []Tier  `json:"tiers"`
}

// Describe renders the policy for patients.
func (p Policy) Describe() Description {
	hours := p.FullRefundWindow.Hours()
	return Description{
		FullRefundWindowHours: hours,
		GatewayFeePercentage:  p.GatewayFeePercentage,
		MinimumRefund:         p.MinimumRefund,
		Tiers: []Tier{
			{
				Policy:           PolicyFullRefund,
				Condition:        fmt.Sprintf("patient cancels %g or more hours before the appointment", hours),
				RefundPercentage: 100,
				Description:      fmt.Sprintf("full refund less a %g%% payment gateway fee", p.GatewayFeePercentage),
			},
			{
				Policy:           PolicyPartialRefund,
				Condition:        fmt.Sprintf("patient cancels less than %g hours before the appointment", hours),
				RefundPercentage: p.PartialRefundPercentage,
				Description:      "the rest is retained because the slot could not be resold",
			},
			{
				Policy:           PolicyNoShow,
				Condition:        "patient does not attend or cancels after the appointment time",
				RefundPercentage: 0,
				Description:      "no refund",
			},
			{
				Policy:           PolicyDoctorCancelled,
				Condition:        "doctor or clinic cancels",
				RefundPercentage: 100,
				Description:      "full refund plus wallet credit",
				WalletCredit:     p.DoctorCancelCompensation,
			},
		},
	}
}
