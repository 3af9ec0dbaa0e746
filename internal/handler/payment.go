package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/settleworks/paygate/internal/domain"
	"github.com/settleworks/paygate/internal/gateway"
	"github.com/settleworks/paygate/internal/lifecycle"
	"github.com/settleworks/paygate/internal/logging"
)

type paymentService interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*domain.Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	GetEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.Event, error)
	RegisterCharge(ctx context.Context, paymentID uuid.UUID, ref string, evidence json.RawMessage) (*domain.Payment, error)
}

type conversionService interface {
	Retry(ctx context.Context, paymentID uuid.UUID) error
}

type PaymentHandler struct {
	payments        paymentService
	converter       conversionService
	gateways        *gateway.Registry
	provider        string
	callbackURL     string
	checkoutBaseURL string
}

func NewPaymentHandler(payments paymentService, converter conversionService, gateways *gateway.Registry, provider, callbackURL, checkoutBaseURL string) *PaymentHandler {
	return &PaymentHandler{
		payments:        payments,
		converter:       converter,
		gateways:        gateways,
		provider:        provider,
		callbackURL:     callbackURL,
		checkoutBaseURL: checkoutBaseURL,
	}
}

type createPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customer_email"`
	Metadata      json.RawMessage `json:"metadata"`
}

func (r createPaymentRequest) Validate() []FieldError {
	var errs []FieldError

	if !r.Amount.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	return errs
}

// publicPaymentDTO is the unauthenticated view: no fee breakdown, no
// provider reference.
type publicPaymentDTO struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
}

func toPublicDTO(p *domain.Payment) publicPaymentDTO {
	return publicPaymentDTO{
		PaymentID: p.ID,
		Amount:    p.Amount,
		Currency:  string(p.Currency),
		Status:    string(p.Status),
	}
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	p, err := h.payments.Create(r.Context(), lifecycle.CreateRequest{
		Amount:        req.Amount,
		Currency:      domain.Currency(req.Currency),
		Provider:      h.provider,
		CustomerEmail: req.CustomerEmail,
		Metadata:      req.Metadata,
	})
	if err != nil {
		log.Warn("payment creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/payments/%s", p.ID))
	RespondSuccess(w, http.StatusCreated, map[string]string{
		"payment_id":  p.ID.String(),
		"payment_url": fmt.Sprintf("%s/pay/%s", h.checkoutBaseURL, p.ID),
	})
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	p, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPublicDTO(p))
}

// CreateIntent asks the configured processor for a charge, binds the
// returned reference, and moves the payment to awaiting_payment.
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	p, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	if p.Status != domain.PaymentStatusCreated {
		RespondDomainError(w, domain.ErrIllegalTransition)
		return
	}

	gw, err := h.gateways.Get(h.provider)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	charge, err := gw.CreateCharge(r.Context(), p, h.callbackURL)
	if err != nil {
		log.Error("charge creation failed", "payment_id", p.ID, "provider", h.provider, "error", err)
		RespondDomainError(w, err)
		return
	}

	evidence, _ := json.Marshal(map[string]string{
		"provider":           h.provider,
		"external_reference": charge.ExternalReference,
	})
	if _, err := h.payments.RegisterCharge(r.Context(), p.ID, charge.ExternalReference, evidence); err != nil {
		log.Error("failed to register charge",
			"payment_id", p.ID,
			"external_reference", charge.ExternalReference,
			"error", err,
		)
		RespondDomainError(w, err)
		return
	}

	resp := map[string]string{
		"payment_id": p.ID.String(),
		"provider":   h.provider,
	}
	if charge.ClientSecret != "" {
		resp["client_secret"] = charge.ClientSecret
	}
	if charge.RedirectURL != "" {
		resp["redirect_url"] = charge.RedirectURL
	}
	RespondSuccess(w, http.StatusCreated, resp)
}

func (h *PaymentHandler) RetryConversion(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	if err := h.converter.Retry(r.Context(), paymentID); err != nil {
		logging.FromContext(r.Context()).Warn("conversion retry rejected", "payment_id", paymentID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type eventDTO struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Severity  string          `json:"severity"`
	CreatedAt time.Time       `json:"created_at"`
}

type summaryDTO struct {
	PaymentID         uuid.UUID        `json:"payment_id"`
	Amount            decimal.Decimal  `json:"amount"`
	Currency          string           `json:"currency"`
	Status            string           `json:"status"`
	Provider          string           `json:"provider"`
	ExternalReference *string          `json:"external_reference,omitempty"`
	ProcessorFee      decimal.Decimal  `json:"processor_fee"`
	ConversionFee     decimal.Decimal  `json:"conversion_fee"`
	NetworkFee        decimal.Decimal  `json:"network_fee"`
	TotalFees         decimal.Decimal  `json:"total_fees"`
	SettlementAsset   *string          `json:"settlement_asset,omitempty"`
	SettlementAmount  *decimal.Decimal `json:"settlement_amount,omitempty"`
	SettlementTxHash  *string          `json:"settlement_tx_hash,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	Events            []eventDTO       `json:"events"`
}

// Summary is the internal operator view: full fee breakdown plus the
// payment's event log.
func (h *PaymentHandler) Summary(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	p, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	events, err := h.payments.GetEvents(r.Context(), paymentID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dto := summaryDTO{
		PaymentID:         p.ID,
		Amount:            p.Amount,
		Currency:          string(p.Currency),
		Status:            string(p.Status),
		Provider:          p.Provider,
		ExternalReference: p.ExternalReference,
		ProcessorFee:      p.Fees.ProcessorFee,
		ConversionFee:     p.Fees.ConversionFee,
		NetworkFee:        p.Fees.NetworkFee,
		TotalFees:         p.Fees.TotalFees,
		SettlementAsset:   p.SettlementAsset,
		SettlementAmount:  p.SettlementAmount,
		SettlementTxHash:  p.SettlementTxHash,
		CreatedAt:         p.CreatedAt,
		CompletedAt:       p.CompletedAt,
		Events:            make([]eventDTO, 0, len(events)),
	}
	for _, e := range events {
		dto.Events = append(dto.Events, eventDTO{
			EventType: string(e.EventType),
			Payload:   e.Payload,
			Severity:  string(e.Severity),
			CreatedAt: e.CreatedAt,
		})
	}

	RespondSuccess(w, http.StatusOK, dto)
}
