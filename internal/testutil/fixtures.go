package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/settleworks/paygate/internal/domain"
)

// NewPayment builds an in-memory payment in the created state. Callers
// mutate the returned struct before inserting when a test needs a
// different shape.
func NewPayment(amount string, currency domain.Currency) *domain.Payment {
	now := time.Now().UTC()
	return &domain.Payment{
		ID:        uuid.New(),
		Amount:    decimal.RequireFromString(amount),
		Currency:  currency,
		Status:    domain.PaymentStatusCreated,
		Provider:  "cardrail",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InsertPayment writes a payment row directly, bypassing the lifecycle
// service, so tests can start from any state.
func InsertPayment(t *testing.T, db *sql.DB, p *domain.Payment) {
	t.Helper()

	var metadata any
	if len(p.Metadata) > 0 {
		metadata = string(p.Metadata)
	}

	_, err := db.ExecContext(context.Background(),
		`INSERT INTO payments (
			id, amount, currency, status, provider, external_reference,
			processor_fee, conversion_fee, network_fee, total_fees,
			settlement_asset, settlement_amount, settlement_tx_hash,
			customer_email, metadata, created_at, updated_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18
		)`,
		p.ID, p.Amount, p.Currency, p.Status, p.Provider, p.ExternalReference,
		p.Fees.ProcessorFee, p.Fees.ConversionFee, p.Fees.NetworkFee, p.Fees.TotalFees,
		p.SettlementAsset, p.SettlementAmount, p.SettlementTxHash,
		p.CustomerEmail, metadata, p.CreatedAt, p.UpdatedAt, p.CompletedAt,
	)
	if err != nil {
		t.Fatalf("insert payment fixture: %v", err)
	}
}

// PaymentStatus reads the current status of a payment row.
func PaymentStatus(t *testing.T, db *sql.DB, id uuid.UUID) domain.PaymentStatus {
	t.Helper()

	var status domain.PaymentStatus
	err := db.QueryRowContext(context.Background(),
		`SELECT status FROM payments WHERE id = $1`, id,
	).Scan(&status)
	if err != nil {
		t.Fatalf("read payment status: %v", err)
	}
	return status
}
