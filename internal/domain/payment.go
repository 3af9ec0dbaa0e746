package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusCreated         PaymentStatus = "created"
	PaymentStatusAwaitingPayment PaymentStatus = "awaiting_payment"
	PaymentStatusFundsCaptured   PaymentStatus = "funds_captured"
	PaymentStatusSettling        PaymentStatus = "settling"
	PaymentStatusCompleted       PaymentStatus = "completed"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusCanceled        PaymentStatus = "canceled"
	PaymentStatusRefunded        PaymentStatus = "refunded"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

// Fees is the cumulative fee breakdown for a payment. Fields are populated
// as each stage completes and never decrease over the payment's lifetime.
type Fees struct {
	ProcessorFee  decimal.Decimal
	ConversionFee decimal.Decimal
	NetworkFee    decimal.Decimal
	TotalFees     decimal.Decimal
}

type Payment struct {
	ID                uuid.UUID
	Amount            decimal.Decimal
	Currency          Currency
	Status            PaymentStatus
	Provider          string
	ExternalReference *string
	Fees              Fees
	SettlementAsset   *string
	SettlementAmount  *decimal.Decimal
	SettlementTxHash  *string
	CustomerEmail     *string
	Metadata          json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}
