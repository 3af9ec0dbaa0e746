package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/settleworks/paygate/internal/domain"
	"github.com/settleworks/paygate/internal/logging"
)

const CryptoInvoiceName = "cryptoinvoice"

// cryptoInvoiceStatusMap covers the hosted-invoice provider's lifecycle.
// Intermediate confirmations (waiting, confirming, sending) are not
// state-affecting; only the listed statuses move a payment.
var cryptoInvoiceStatusMap = map[string]domain.PaymentStatus{
	"finished": domain.PaymentStatusFundsCaptured,
	"failed":   domain.PaymentStatusFailed,
	"expired":  domain.PaymentStatusCanceled,
	"refunded": domain.PaymentStatusRefunded,
}

// CryptoInvoice is the hosted redirect-flow variant. Webhooks are signed
// with HMAC-SHA512 over the raw body.
type CryptoInvoice struct {
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
}

func NewCryptoInvoice(baseURL, webhookSecret string) *CryptoInvoice {
	return &CryptoInvoice{
		baseURL:       baseURL,
		webhookSecret: webhookSecret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (g *CryptoInvoice) Name() string { return CryptoInvoiceName }

type cryptoInvoiceRequest struct {
	OrderID       string `json:"order_id"`
	PriceAmount   string `json:"price_amount"`
	PriceCurrency string `json:"price_currency"`
	CallbackURL   string `json:"ipn_callback_url"`
}

type cryptoInvoiceResponse struct {
	ID         string `json:"id"`
	InvoiceURL string `json:"invoice_url"`
}

func (g *CryptoInvoice) CreateCharge(ctx context.Context, p *domain.Payment, callbackURL string) (*ChargeResult, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(cryptoInvoiceRequest{
		OrderID:       p.ID.String(),
		PriceAmount:   p.Amount.StringFixed(2),
		PriceCurrency: string(p.Currency),
		CallbackURL:   callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("CreateCharge: marshal: %w", err)
	}

	url := g.baseURL + "/v1/invoice"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("CreateCharge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("CreateCharge: send: %w", domain.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	log.Info("crypto invoice request",
		"payment_id", p.ID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("CreateCharge: unexpected status %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrProviderUnavailable)
	}

	var invoice cryptoInvoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, fmt.Errorf("CreateCharge: decode: %w", err)
	}
	if invoice.ID == "" {
		return nil, fmt.Errorf("CreateCharge: provider returned empty invoice id: %w", domain.ErrProviderUnavailable)
	}

	return &ChargeResult{
		ExternalReference: invoice.ID,
		RedirectURL:       invoice.InvoiceURL,
	}, nil
}

type cryptoInvoiceWebhookPayload struct {
	EventID       string `json:"event_id"`
	InvoiceID     string `json:"invoice_id"`
	PaymentStatus string `json:"payment_status"`
}

func (g *CryptoInvoice) VerifyWebhook(body []byte, signature string) (*VerifiedEvent, error) {
	if !verifySignature(sha512.New, body, signature, g.webhookSecret) {
		return nil, fmt.Errorf("VerifyWebhook: %w", domain.ErrSignatureInvalid)
	}

	var payload cryptoInvoiceWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("VerifyWebhook: parse: %w", err)
	}
	if payload.InvoiceID == "" || payload.PaymentStatus == "" {
		return nil, fmt.Errorf("VerifyWebhook: missing fields: %w", domain.ErrInvalidRequest)
	}

	return &VerifiedEvent{
		Provider:          CryptoInvoiceName,
		EventID:           payload.EventID,
		ExternalReference: payload.InvoiceID,
		ProviderStatus:    payload.PaymentStatus,
		RawPayload:        body,
	}, nil
}

func (g *CryptoInvoice) MapStatus(providerStatus string) (domain.PaymentStatus, bool) {
	target, ok := cryptoInvoiceStatusMap[providerStatus]
	return target, ok
}
