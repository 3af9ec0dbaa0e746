package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/settleworks/paygate/internal/domain"
	"github.com/settleworks/paygate/internal/logging"
)

const CardRailName = "cardrail"

// cardRailStatusMap translates the rail's event vocabulary onto the
// internal state machine.
var cardRailStatusMap = map[string]domain.PaymentStatus{
	"succeeded":      domain.PaymentStatusFundsCaptured,
	"payment_failed": domain.PaymentStatusFailed,
	"canceled":       domain.PaymentStatusCanceled,
	"refunded":       domain.PaymentStatusRefunded,
}

// CardRail is the synchronous client-secret card processor variant.
// Webhooks are signed with HMAC-SHA256 over the raw body.
type CardRail struct {
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
}

func NewCardRail(baseURL, webhookSecret string) *CardRail {
	return &CardRail{
		baseURL:       baseURL,
		webhookSecret: webhookSecret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (g *CardRail) Name() string { return CardRailName }

type cardRailIntentRequest struct {
	PaymentID   string `json:"payment_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url"`
}

type cardRailIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

func (g *CardRail) CreateCharge(ctx context.Context, p *domain.Payment, callbackURL string) (*ChargeResult, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(cardRailIntentRequest{
		PaymentID:   p.ID.String(),
		Amount:      p.Amount.StringFixed(2),
		Currency:    string(p.Currency),
		CallbackURL: callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("CreateCharge: marshal: %w", err)
	}

	url := g.baseURL + "/v1/payment_intents"
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

	log.Info("card rail intent request",
		"payment_id", p.ID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("CreateCharge: unexpected status %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrProviderUnavailable)
	}

	var intent cardRailIntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("CreateCharge: decode: %w", err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("CreateCharge: provider returned empty intent id: %w", domain.ErrProviderUnavailable)
	}

	return &ChargeResult{
		ExternalReference: intent.ID,
		ClientSecret:      intent.ClientSecret,
	}, nil
}

type cardRailWebhookPayload struct {
	EventID       string `json:"event_id"`
	PaymentIntent string `json:"payment_intent"`
	Status        string `json:"status"`
}

func (g *CardRail) VerifyWebhook(body []byte, signature string) (*VerifiedEvent, error) {
	if !verifySignature(sha256.New, body, signature, g.webhookSecret) {
		return nil, fmt.Errorf("VerifyWebhook: %w", domain.ErrSignatureInvalid)
	}

	var payload cardRailWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("VerifyWebhook: parse: %w", err)
	}
	if payload.PaymentIntent == "" || payload.Status == "" {
		return nil, fmt.Errorf("VerifyWebhook: missing fields: %w", domain.ErrInvalidRequest)
	}

	return &VerifiedEvent{
		Provider:          CardRailName,
		EventID:           payload.EventID,
		ExternalReference: payload.PaymentIntent,
		ProviderStatus:    payload.Status,
		RawPayload:        body,
	}, nil
}

func (g *CardRail) MapStatus(providerStatus string) (domain.PaymentStatus, bool) {
	target, ok := cardRailStatusMap[providerStatus]
	return target, ok
}
