package converter

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleworks/paygate/internal/domain"
	"github.com/settleworks/paygate/internal/exchange"
	"github.com/settleworks/paygate/internal/lifecycle"
	"github.com/settleworks/paygate/internal/repository"
	"github.com/settleworks/paygate/internal/testutil"
)

type fakeExchange struct {
	priceErr    error
	buyErr      error
	withdrawErr error

	buyRate decimal.Decimal
}

func (f *fakeExchange) GetPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	if f.priceErr != nil {
		return decimal.Zero, f.priceErr
	}
	return decimal.RequireFromString("1.0002"), nil
}

func (f *fakeExchange) Buy(_ context.Context, _ string, fiatAmount decimal.Decimal) (*exchange.BuyResult, error) {
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	rate := f.buyRate
	if rate.IsZero() {
		rate = decimal.RequireFromString("0.999")
	}
	assetAmount := fiatAmount.Mul(rate)
	return &exchange.BuyResult{
		AssetAmount: assetAmount,
		Fee:         fiatAmount.Sub(assetAmount),
		OrderID:     "ord_test",
	}, nil
}

func (f *fakeExchange) Withdraw(_ context.Context, _ string, _ decimal.Decimal, _, _ string) (*exchange.WithdrawResult, error) {
	if f.withdrawErr != nil {
		return nil, f.withdrawErr
	}
	return &exchange.WithdrawResult{TxID: "0xabc123", Status: "pending"}, nil
}

type convFixture struct {
	db        *sql.DB
	converter *Converter
	payments  *repository.PaymentRepository
	lifecycle *lifecycle.Service
}

func setupConverter(t *testing.T, ex exchange.Exchange) (*convFixture, func() *domain.Payment) {
	t.Helper()
	db := testutil.SetupTestDB(t)

	payments := repository.NewPaymentRepository(db)
	events := repository.NewEventRepository(db)
	jobs := repository.NewConversionJobRepository(db)
	lc := lifecycle.NewService(payments, events, db)

	c := New(payments, jobs, lc, ex, db, Config{
		Asset:             "USDT",
		Address:           "TTestAddr",
		Network:           "TRC20",
		DefaultQuotePrice: decimal.RequireFromString("1.00"),
		CallTimeout:       5 * time.Second,
		StaleAfter:        time.Minute,
	})

	captured := func() *domain.Payment {
		p := testutil.NewPayment("100.00", domain.CurrencyUSD)
		p.Status = domain.PaymentStatusFundsCaptured
		p.Fees.ProcessorFee = decimal.RequireFromString("3.20")
		p.Fees.TotalFees = decimal.RequireFromString("3.20")
		testutil.InsertPayment(t, db, p)
		return p
	}

	return &convFixture{db: db, converter: c, payments: payments, lifecycle: lc}, captured
}

func TestRunConvertsAndCompletes(t *testing.T) {
	fx, captured := setupConverter(t, &fakeExchange{})
	p := captured()
	ctx := context.Background()

	require.NoError(t, fx.converter.Run(ctx, p.ID))

	got, err := fx.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
	require.NotNil(t, got.SettlementAmount)
	// 96.80 net of processor fee, *0.999 on the venue, minus 1 USDT TRC20 fee
	assert.True(t, got.SettlementAmount.Equal(decimal.RequireFromString("95.70")),
		"settlement amount %s", got.SettlementAmount)
	require.NotNil(t, got.SettlementAsset)
	assert.Equal(t, "USDT", *got.SettlementAsset)
	require.NotNil(t, got.SettlementTxHash)
	assert.Equal(t, "0xabc123", *got.SettlementTxHash)
	assert.NotNil(t, got.CompletedAt)

	// total fees only grow: processor + exchange + network
	assert.True(t, got.Fees.TotalFees.GreaterThan(decimal.RequireFromString("3.20")))

	events, err := fx.lifecycle.GetEvents(ctx, p.ID)
	require.NoError(t, err)
	var types []domain.EventType
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, domain.EventTypeConversionStarted)
	assert.Contains(t, types, domain.EventTypeAssetPurchased)
	assert.Contains(t, types, domain.EventTypeAssetWithdrawn)
	assert.Contains(t, types, domain.EventTypePaymentCompleted)
}

func TestRunQuoteFallbackStillSettles(t *testing.T) {
	fx, captured := setupConverter(t, &fakeExchange{priceErr: errors.New("venue timeout")})
	p := captured()
	ctx := context.Background()

	require.NoError(t, fx.converter.Run(ctx, p.ID))

	got, err := fx.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)

	events, err := fx.lifecycle.GetEvents(ctx, p.ID)
	require.NoError(t, err)
	var sawFallback bool
	for _, e := range events {
		if e.EventType == domain.EventTypeQuoteFallback {
			sawFallback = true
			assert.Equal(t, domain.EventSeverityWarning, e.Severity)
		}
	}
	assert.True(t, sawFallback, "expected quote_fallback event")
}

func TestRunBuyFailureMarksPaymentFailed(t *testing.T) {
	fx, captured := setupConverter(t, &fakeExchange{buyErr: errors.New("insufficient liquidity")})
	p := captured()
	ctx := context.Background()

	err := fx.converter.Run(ctx, p.ID)
	require.Error(t, err)

	got, err := fx.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, got.Status)
	assert.Nil(t, got.SettlementAmount)

	events, err := fx.lifecycle.GetEvents(ctx, p.ID)
	require.NoError(t, err)
	var sawFailure bool
	for _, e := range events {
		if e.EventType == domain.EventTypeConversionFailed {
			sawFailure = true
			assert.Equal(t, domain.EventSeverityError, e.Severity)
		}
	}
	assert.True(t, sawFailure, "expected conversion_failed event")
}

func TestRunAmountTooSmallAfterNetworkFee(t *testing.T) {
	fx, _ := setupConverter(t, &fakeExchange{})
	ctx := context.Background()

	// 1.00 gross, 0.33 processor fee: 0.67 buys ~0.67 USDT, below the
	// 1 USDT TRC20 withdrawal fee
	p := testutil.NewPayment("1.00", domain.CurrencyUSD)
	p.Status = domain.PaymentStatusFundsCaptured
	p.Fees.ProcessorFee = decimal.RequireFromString("0.33")
	testutil.InsertPayment(t, fx.db, p)

	err := fx.converter.Run(ctx, p.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientAmountAfterFees)

	got, err := fx.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, got.Status)
}

func TestRunAlreadyCompleted(t *testing.T) {
	fx, captured := setupConverter(t, &fakeExchange{})
	p := captured()
	ctx := context.Background()

	require.NoError(t, fx.converter.Run(ctx, p.ID))

	// a second attempt on a settled payment is a no-op error
	err := fx.converter.Run(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestRetry(t *testing.T) {
	fx, captured := setupConverter(t, &fakeExchange{buyErr: errors.New("venue down")})
	p := captured()
	ctx := context.Background()

	require.Error(t, fx.converter.Run(ctx, p.ID))

	got, err := fx.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, got.Status)

	// retry re-queues the failed payment
	require.NoError(t, fx.converter.Retry(ctx, p.ID))
}

func backdatePayment(t *testing.T, db *sql.DB, id uuid.UUID, age time.Duration) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`UPDATE payments SET updated_at = now() - $1 * interval '1 second' WHERE id = $2`,
		int64(age.Seconds()), id)
	require.NoError(t, err)
}

// A crash between the settling claim and completion leaves the payment in
// settling with no attempt alive. Once the stale bound passes, Run must be
// able to take the payment over and finish the conversion.
func TestRunReclaimsStaleSettling(t *testing.T) {
	fx, captured := setupConverter(t, &fakeExchange{})
	p := captured()
	ctx := context.Background()

	claimed, err := fx.payments.ClaimForConversion(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// a fresh settling claim still belongs to the in-flight attempt
	err = fx.converter.Run(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrConversionInProgress)

	backdatePayment(t, fx.db, p.ID, 2*time.Hour)

	require.NoError(t, fx.converter.Run(ctx, p.ID))

	got, err := fx.payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
	require.NotNil(t, got.SettlementAmount)
	assert.True(t, got.SettlementAmount.Equal(decimal.RequireFromString("95.70")))
}

func TestRetryStaleSettling(t *testing.T) {
	fx, captured := setupConverter(t, &fakeExchange{})
	p := captured()
	ctx := context.Background()

	claimed, err := fx.payments.ClaimForConversion(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	err = fx.converter.Retry(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrConversionInProgress)

	backdatePayment(t, fx.db, p.ID, 2*time.Hour)
	require.NoError(t, fx.converter.Retry(ctx, p.ID))
}

func TestRetryRejectsCompleted(t *testing.T) {
	fx, captured := setupConverter(t, &fakeExchange{})
	p := captured()
	ctx := context.Background()

	require.NoError(t, fx.converter.Run(ctx, p.ID))

	err := fx.converter.Retry(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}
