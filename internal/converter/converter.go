// Package converter settles captured fiat into the configured settlement
// asset: quote, acquire, deduct network fee, withdraw on-chain. It runs off
// a job queue so webhook responses never wait on exchange calls.
package converter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/settleworks/paygate/internal/domain"
	"github.com/settleworks/paygate/internal/exchange"
	"github.com/settleworks/paygate/internal/fees"
	"github.com/settleworks/paygate/internal/logging"
)

type paymentRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	ClaimForConversion(ctx context.Context, id uuid.UUID) (bool, error)
	ReclaimStaleConversion(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (bool, error)
	SetSettlementResult(ctx context.Context, tx *sql.Tx, id uuid.UUID, conversionFee, networkFee, settlementAmount decimal.Decimal, asset, txHash string) error
}

type jobRepo interface {
	Enqueue(ctx context.Context, job *domain.ConversionJob) error
	HasActiveForPayment(ctx context.Context, paymentID uuid.UUID) (bool, error)
}

type lifecycleService interface {
	Transition(ctx context.Context, paymentID uuid.UUID, target domain.PaymentStatus, evidence json.RawMessage) (*domain.Payment, error)
	RecordEvent(ctx context.Context, paymentID uuid.UUID, eventType domain.EventType, payload json.RawMessage, severity domain.EventSeverity) error
}

// Config pins the settlement destination. Address must be non-empty; the
// reconciler short-circuits captured payments to completed when no
// destination is configured, so the converter never sees them.
type Config struct {
	Asset             string
	Address           string
	Network           string
	DefaultQuotePrice decimal.Decimal
	CallTimeout       time.Duration

	// StaleAfter bounds how long a settling payment may sit untouched
	// before it counts as orphaned by a crash and becomes reclaimable.
	// Must exceed the longest possible attempt (two exchange calls plus
	// the settlement write). Zero disables reclaim.
	StaleAfter time.Duration
}

type Converter struct {
	payments  paymentRepo
	jobs      jobRepo
	lifecycle lifecycleService
	exchange  exchange.Exchange
	db        *sql.DB
	cfg       Config
}

func New(payments paymentRepo, jobs jobRepo, lc lifecycleService, ex exchange.Exchange, db *sql.DB, cfg Config) *Converter {
	return &Converter{
		payments:  payments,
		jobs:      jobs,
		lifecycle: lc,
		exchange:  ex,
		db:        db,
		cfg:       cfg,
	}
}

// Enqueue queues a conversion for a captured payment.
func (c *Converter) Enqueue(ctx context.Context, paymentID uuid.UUID) error {
	job := &domain.ConversionJob{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Status:    domain.ConversionJobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	return nil
}

// HasActiveJob reports whether a queued or in-flight conversion already
// covers the payment.
func (c *Converter) HasActiveJob(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	active, err := c.jobs.HasActiveForPayment(ctx, paymentID)
	if err != nil {
		return false, fmt.Errorf("HasActiveJob: %w", err)
	}
	return active, nil
}

// Retry re-queues a conversion for a payment whose previous attempt failed.
// Each attempt re-runs the full pipeline; there is no partial resume.
func (c *Converter) Retry(ctx context.Context, paymentID uuid.UUID) error {
	p, err := c.payments.GetByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("Retry: %w", err)
	}
	if p.Status == domain.PaymentStatusCompleted {
		return fmt.Errorf("Retry: %w", domain.ErrAlreadyCompleted)
	}
	if p.Status == domain.PaymentStatusSettling {
		if c.cfg.StaleAfter <= 0 || time.Since(p.UpdatedAt) < c.cfg.StaleAfter {
			return fmt.Errorf("Retry: %w", domain.ErrConversionInProgress)
		}
		// orphaned attempt: the next Run re-claims it via the stale bound
	}
	if err := c.Enqueue(ctx, paymentID); err != nil {
		return fmt.Errorf("Retry: %w", err)
	}
	return nil
}

// Run executes one conversion attempt. The payment is claimed into settling
// atomically before any exchange call, so concurrent attempts for the same
// payment cannot double-withdraw.
func (c *Converter) Run(ctx context.Context, paymentID uuid.UUID) error {
	log := logging.FromContext(ctx)

	p, err := c.payments.GetByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	if p.Status == domain.PaymentStatusCompleted {
		return fmt.Errorf("Run: %w", domain.ErrAlreadyCompleted)
	}

	claimed, err := c.payments.ClaimForConversion(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	if !claimed {
		current, err := c.payments.GetByID(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("Run: %w", err)
		}
		switch {
		case current.Status == domain.PaymentStatusCompleted:
			return fmt.Errorf("Run: %w", domain.ErrAlreadyCompleted)
		case current.Status == domain.PaymentStatusSettling && c.cfg.StaleAfter > 0:
			reclaimed, err := c.payments.ReclaimStaleConversion(ctx, paymentID, c.cfg.StaleAfter)
			if err != nil {
				return fmt.Errorf("Run: %w", err)
			}
			if !reclaimed {
				return fmt.Errorf("Run: payment %s in status %s: %w", paymentID, current.Status, domain.ErrConversionInProgress)
			}
			log.Warn("reclaimed stale settling payment",
				"payment_id", paymentID,
				"stale_after", c.cfg.StaleAfter,
			)
			p = current
		default:
			return fmt.Errorf("Run: payment %s in status %s: %w", paymentID, current.Status, domain.ErrConversionInProgress)
		}
	}

	netAmount := p.Amount.Sub(p.Fees.ProcessorFee)

	startPayload, _ := json.Marshal(map[string]string{
		"net_amount": netAmount.StringFixed(2),
		"asset":      c.cfg.Asset,
		"network":    c.cfg.Network,
	})
	if err := c.lifecycle.RecordEvent(ctx, paymentID, domain.EventTypeConversionStarted, startPayload, domain.EventSeverityInfo); err != nil {
		log.Error("failed to record conversion start", "payment_id", paymentID, "error", err)
	}

	price := c.quote(ctx, paymentID)

	buyCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	buyRes, err := c.exchange.Buy(buyCtx, c.cfg.Asset, netAmount)
	cancel()
	if err != nil {
		return c.fail(ctx, paymentID, "acquire", err)
	}

	buyPayload, _ := json.Marshal(map[string]string{
		"fiat_amount":  netAmount.StringFixed(2),
		"asset_amount": buyRes.AssetAmount.String(),
		"exchange_fee": buyRes.Fee.String(),
		"order_id":     buyRes.OrderID,
		"quote_price":  price.String(),
	})
	if err := c.lifecycle.RecordEvent(ctx, paymentID, domain.EventTypeAssetPurchased, buyPayload, domain.EventSeverityInfo); err != nil {
		log.Error("failed to record asset purchase", "payment_id", paymentID, "error", err)
	}

	networkFee := fees.NetworkFee(c.cfg.Network)
	transferAmount := buyRes.AssetAmount.Sub(networkFee)
	if !transferAmount.IsPositive() {
		return c.fail(ctx, paymentID, "network_fee", fmt.Errorf("transfer amount %s after network fee %s: %w",
			transferAmount, networkFee, domain.ErrInsufficientAmountAfterFees))
	}

	withdrawCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	withdrawal, err := c.exchange.Withdraw(withdrawCtx, c.cfg.Asset, transferAmount, c.cfg.Address, c.cfg.Network)
	cancel()
	if err != nil {
		return c.fail(ctx, paymentID, "withdraw", err)
	}

	settlementAmount := transferAmount.Round(2)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Run: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := c.payments.SetSettlementResult(ctx, tx, paymentID, buyRes.Fee, networkFee, settlementAmount, c.cfg.Asset, withdrawal.TxID); err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Run: commit: %w", err)
	}

	withdrawPayload, _ := json.Marshal(map[string]string{
		"amount":      settlementAmount.StringFixed(2),
		"address":     c.cfg.Address,
		"network":     c.cfg.Network,
		"tx_id":       withdrawal.TxID,
		"network_fee": networkFee.String(),
	})
	if err := c.lifecycle.RecordEvent(ctx, paymentID, domain.EventTypeAssetWithdrawn, withdrawPayload, domain.EventSeverityInfo); err != nil {
		log.Error("failed to record withdrawal", "payment_id", paymentID, "error", err)
	}

	donePayload, _ := json.Marshal(map[string]string{
		"settlement_amount": settlementAmount.StringFixed(2),
		"asset":             c.cfg.Asset,
		"tx_id":             withdrawal.TxID,
	})
	if _, err := c.lifecycle.Transition(ctx, paymentID, domain.PaymentStatusCompleted, donePayload); err != nil {
		return fmt.Errorf("Run: %w", err)
	}

	log.Info("conversion completed",
		"payment_id", paymentID,
		"settlement_amount", settlementAmount,
		"asset", c.cfg.Asset,
		"tx_id", withdrawal.TxID,
	)
	return nil
}

// quote fetches the current price, falling back to the configured default
// when the venue is unreachable. A stale rate beats a stalled pipeline for
// a stablecoin-like settlement asset.
func (c *Converter) quote(ctx context.Context, paymentID uuid.UUID) decimal.Decimal {
	quoteCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	price, err := c.exchange.GetPrice(quoteCtx, c.cfg.Asset)
	if err == nil {
		return price
	}

	logging.FromContext(ctx).Warn("quote failed, using default rate",
		"payment_id", paymentID,
		"asset", c.cfg.Asset,
		"default_price", c.cfg.DefaultQuotePrice,
		"error", err,
	)
	payload, _ := json.Marshal(map[string]string{
		"asset":         c.cfg.Asset,
		"default_price": c.cfg.DefaultQuotePrice.String(),
		"error":         err.Error(),
	})
	if recErr := c.lifecycle.RecordEvent(ctx, paymentID, domain.EventTypeQuoteFallback, payload, domain.EventSeverityWarning); recErr != nil {
		logging.FromContext(ctx).Error("failed to record quote fallback", "payment_id", paymentID, "error", recErr)
	}
	return c.cfg.DefaultQuotePrice
}

// fail marks the conversion attempt failed: error event with enough detail
// for a manual retry, then settling -> failed. The payment never stays
// stuck in settling.
func (c *Converter) fail(ctx context.Context, paymentID uuid.UUID, step string, cause error) error {
	payload, _ := json.Marshal(map[string]string{
		"step":  step,
		"error": cause.Error(),
	})
	if err := c.lifecycle.RecordEvent(ctx, paymentID, domain.EventTypeConversionFailed, payload, domain.EventSeverityError); err != nil {
		logging.FromContext(ctx).Error("failed to record conversion failure", "payment_id", paymentID, "error", err)
	}

	if _, err := c.lifecycle.Transition(ctx, paymentID, domain.PaymentStatusFailed, payload); err != nil && !errors.Is(err, domain.ErrIllegalTransition) {
		return fmt.Errorf("fail: %w", err)
	}

	return fmt.Errorf("conversion %s step: %w", step, cause)
}
