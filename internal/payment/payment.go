package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Gateway moves money. The scheduling core only decides amounts.
type Gateway interface {
	Capture(ctx context.Context, appointmentID uuid.UUID, amount int64) (string, error)
	Refund(ctx context.Context, appointmentID uuid.UUID, amount int64) (string, error)
}

// Wallet holds platform credit such as doctor cancellation compensation.
type Wallet interface {
	Credit(ctx context.Context, patientID uuid.UUID, amount int64, reference string) error
}

// LogGateway records money movements without a real provider. It backs the
// memory driver and local development.
type LogGateway struct {
	log zerolog.Logger
}

func NewLogGateway(log zerolog.Logger) *LogGateway {
	return &LogGateway{log: log}
}

func (g *LogGateway) Capture(_ context.Context, appointmentID uuid.UUID, amount int64) (string, error) {
	ref := "cap_" + uuid.NewString()
	g.log.Info().
		Str("appointment_id", appointmentID.String()).
		Int64("amount", amount).
		Str("reference", ref).
		Msg("payment captured")
	return ref, nil
}

func (g *LogGateway) Refund(_ context.Context, appointmentID uuid.UUID, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	ref := "rfnd_" + uuid.NewString()
	g.log.Info().
		Str("appointment_id", appointmentID.String()).
		Int64("amount", amount).
		Str("reference", ref).
		Msg("refund issued")
	return ref, nil
}

type LogWallet struct {
	log zerolog.Logger
}

func NewLogWallet(log zerolog.Logger) *LogWallet {
	return &LogWallet{log: log}
}

func (w *LogWallet) Credit(_ context.Context, patientID uuid.UUID, amount int64, reference string) error {
	w.log.Info().
		Str("patient_id", patientID.String()).
		Int64("amount", amount).
		Str("reference", reference).
		Msg("wallet credited")
	return nil
}
