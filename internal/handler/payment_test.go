package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleworks/paygate/internal/domain"
	"github.com/settleworks/paygate/internal/gateway"
	"github.com/settleworks/paygate/internal/lifecycle"
)

type fakePaymentService struct {
	payments map[uuid.UUID]*domain.Payment
	events   map[uuid.UUID][]domain.Event
	attached map[uuid.UUID]string
}

func newFakePaymentService(payments ...*domain.Payment) *fakePaymentService {
	m := make(map[uuid.UUID]*domain.Payment)
	for _, p := range payments {
		m[p.ID] = p
	}
	return &fakePaymentService{
		payments: m,
		events:   make(map[uuid.UUID][]domain.Event),
		attached: make(map[uuid.UUID]string),
	}
}

func (f *fakePaymentService) Create(_ context.Context, req lifecycle.CreateRequest) (*domain.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	p := &domain.Payment{
		ID:        uuid.New(),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    domain.PaymentStatusCreated,
		Provider:  req.Provider,
		CreatedAt: time.Now().UTC(),
	}
	f.payments[p.ID] = p
	return p, nil
}

func (f *fakePaymentService) GetPayment(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePaymentService) GetEvents(_ context.Context, id uuid.UUID) ([]domain.Event, error) {
	return f.events[id], nil
}

func (f *fakePaymentService) RegisterCharge(_ context.Context, id uuid.UUID, ref string, _ json.RawMessage) (*domain.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !domain.CanTransition(p.Status, domain.PaymentStatusAwaitingPayment) {
		return nil, domain.ErrIllegalTransition
	}
	f.attached[id] = ref
	p.ExternalReference = &ref
	p.Status = domain.PaymentStatusAwaitingPayment
	return p, nil
}

type fakeRetryer struct {
	err     error
	retried []uuid.UUID
}

func (f *fakeRetryer) Retry(_ context.Context, id uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.retried = append(f.retried, id)
	return nil
}

type chargeStub struct {
	result *gateway.ChargeResult
	err    error
}

func (s *chargeStub) Name() string { return gateway.CardRailName }
func (s *chargeStub) CreateCharge(context.Context, *domain.Payment, string) (*gateway.ChargeResult, error) {
	return s.result, s.err
}
func (s *chargeStub) VerifyWebhook([]byte, string) (*gateway.VerifiedEvent, error) {
	return nil, domain.ErrSignatureInvalid
}
func (s *chargeStub) MapStatus(string) (domain.PaymentStatus, bool) { return "", false }

func newTestMux(svc *fakePaymentService, retryer *fakeRetryer, stub *chargeStub) *http.ServeMux {
	h := NewPaymentHandler(
		svc, retryer, gateway.NewRegistry(stub),
		gateway.CardRailName,
		"http://app/webhooks/cardrail",
		"https://checkout.example",
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments", h.Create)
	mux.HandleFunc("GET /payments/{id}", h.Get)
	mux.HandleFunc("POST /payments/{id}/intent", h.CreateIntent)
	mux.HandleFunc("POST /payments/{id}/retry-conversion", h.RetryConversion)
	mux.HandleFunc("GET /payments/{id}/summary", h.Summary)
	return mux
}

func TestCreatePayment(t *testing.T) {
	svc := newFakePaymentService()
	mux := newTestMux(svc, &fakeRetryer{}, &chargeStub{})

	body := `{"amount":"49.99","currency":"USD","customer_email":"buyer@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data["payment_id"])
	assert.Equal(t, "https://checkout.example/pay/"+resp.Data["payment_id"], resp.Data["payment_url"])
}

func TestCreatePaymentValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero amount", `{"amount":"0","currency":"USD"}`},
		{"negative amount", `{"amount":"-5","currency":"USD"}`},
		{"missing currency", `{"amount":"10"}`},
		{"unsupported currency", `{"amount":"10","currency":"JPY"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestMux(newFakePaymentService(), &fakeRetryer{}, &chargeStub{})
			req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
		})
	}
}

func TestGetPaymentPublicView(t *testing.T) {
	ref := "pi_1"
	p := &domain.Payment{
		ID:                uuid.New(),
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          domain.CurrencyUSD,
		Status:            domain.PaymentStatusFundsCaptured,
		Provider:          gateway.CardRailName,
		ExternalReference: &ref,
		Fees: domain.Fees{
			ProcessorFee: decimal.RequireFromString("3.20"),
			TotalFees:    decimal.RequireFromString("3.20"),
		},
	}
	mux := newTestMux(newFakePaymentService(p), &fakeRetryer{}, &chargeStub{})

	req := httptest.NewRequest(http.MethodGet, "/payments/"+p.ID.String(), nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Contains(t, resp.Data, "payment_id")
	assert.Contains(t, resp.Data, "status")
	// the unauthenticated view must not leak fees or provider references
	assert.NotContains(t, resp.Data, "processor_fee")
	assert.NotContains(t, resp.Data, "total_fees")
	assert.NotContains(t, resp.Data, "external_reference")
}

func TestGetPaymentNotFound(t *testing.T) {
	mux := newTestMux(newFakePaymentService(), &fakeRetryer{}, &chargeStub{})

	req := httptest.NewRequest(http.MethodGet, "/payments/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// malformed id is indistinguishable from missing
	req = httptest.NewRequest(http.MethodGet, "/payments/not-a-uuid", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateIntent(t *testing.T) {
	p := &domain.Payment{
		ID:       uuid.New(),
		Amount:   decimal.RequireFromString("100.00"),
		Currency: domain.CurrencyUSD,
		Status:   domain.PaymentStatusCreated,
		Provider: gateway.CardRailName,
	}
	svc := newFakePaymentService(p)
	stub := &chargeStub{result: &gateway.ChargeResult{
		ExternalReference: "pi_new",
		ClientSecret:      "pi_new_secret",
	}}
	mux := newTestMux(svc, &fakeRetryer{}, stub)

	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID.String()+"/intent", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pi_new", svc.attached[p.ID])
	assert.Equal(t, domain.PaymentStatusAwaitingPayment, p.Status)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pi_new_secret", resp.Data["client_secret"])
}

func TestCreateIntentWrongState(t *testing.T) {
	p := &domain.Payment{
		ID:       uuid.New(),
		Amount:   decimal.RequireFromString("100.00"),
		Currency: domain.CurrencyUSD,
		Status:   domain.PaymentStatusCompleted,
		Provider: gateway.CardRailName,
	}
	mux := newTestMux(newFakePaymentService(p), &fakeRetryer{}, &chargeStub{})

	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID.String()+"/intent", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateIntentProviderDown(t *testing.T) {
	p := &domain.Payment{
		ID:       uuid.New(),
		Amount:   decimal.RequireFromString("100.00"),
		Currency: domain.CurrencyUSD,
		Status:   domain.PaymentStatusCreated,
		Provider: gateway.CardRailName,
	}
	svc := newFakePaymentService(p)
	mux := newTestMux(svc, &fakeRetryer{}, &chargeStub{err: domain.ErrProviderUnavailable})

	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID.String()+"/intent", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, domain.PaymentStatusCreated, p.Status, "payment must stay in created on provider failure")
}

func TestRetryConversion(t *testing.T) {
	p := &domain.Payment{ID: uuid.New(), Status: domain.PaymentStatusFailed}
	retryer := &fakeRetryer{}
	mux := newTestMux(newFakePaymentService(p), retryer, &chargeStub{})

	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID.String()+"/retry-conversion", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []uuid.UUID{p.ID}, retryer.retried)
}

func TestRetryConversionAlreadyCompleted(t *testing.T) {
	p := &domain.Payment{ID: uuid.New(), Status: domain.PaymentStatusCompleted}
	mux := newTestMux(newFakePaymentService(p), &fakeRetryer{err: domain.ErrAlreadyCompleted}, &chargeStub{})

	req := httptest.NewRequest(http.MethodPost, "/payments/"+p.ID.String()+"/retry-conversion", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSummaryIncludesFeesAndEvents(t *testing.T) {
	ref := "pi_1"
	p := &domain.Payment{
		ID:                uuid.New(),
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          domain.CurrencyUSD,
		Status:            domain.PaymentStatusCompleted,
		Provider:          gateway.CardRailName,
		ExternalReference: &ref,
		Fees: domain.Fees{
			ProcessorFee:  decimal.RequireFromString("3.20"),
			ConversionFee: decimal.RequireFromString("0.10"),
			NetworkFee:    decimal.RequireFromString("1.00"),
			TotalFees:     decimal.RequireFromString("4.30"),
		},
	}
	svc := newFakePaymentService(p)
	svc.events[p.ID] = []domain.Event{
		{EventType: domain.EventTypePaymentCreated, Severity: domain.EventSeverityInfo},
		{EventType: domain.EventTypePaymentCompleted, Severity: domain.EventSeverityInfo},
	}
	mux := newTestMux(svc, &fakeRetryer{}, &chargeStub{})

	req := httptest.NewRequest(http.MethodGet, "/payments/"+p.ID.String()+"/summary", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data summaryDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.TotalFees.Equal(decimal.RequireFromString("4.30")))
	assert.Equal(t, &ref, resp.Data.ExternalReference)
	require.Len(t, resp.Data.Events, 2)
	assert.Equal(t, string(domain.EventTypePaymentCreated), resp.Data.Events[0].EventType)
}
