// mock-provider is a local stand-in for the card processor: it issues
// payment intents and fires a signed success webhook shortly after, which
// is enough to exercise the full capture and settlement path end to end.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/settleworks/paygate/internal/logging"
)

type intentRequest struct {
	PaymentID   string `json:"payment_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url"`
}

type webhookPayload struct {
	EventID       string `json:"event_id"`
	PaymentIntent string `json:"payment_intent"`
	Status        string `json:"status"`
}

func main() {
	logging.Init("mock-provider", "info", os.Getenv("APP_ENV"))

	secret := os.Getenv("CARDRAIL_WEBHOOK_SECRET")
	if secret == "" {
		slog.Error("CARDRAIL_WEBHOOK_SECRET is required")
		os.Exit(1)
	}

	delay := 2 * time.Second
	if v := os.Getenv("WEBHOOK_DELAY_S"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			delay = d
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	mux.HandleFunc("POST /v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		var req intentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		intentID := "pi_" + randomHex(12)
		slog.Info("payment intent created",
			"intent_id", intentID,
			"payment_id", req.PaymentID,
			"amount", req.Amount,
			"currency", req.Currency,
		)

		go func() {
			time.Sleep(delay)
			deliverWebhook(req.CallbackURL, secret, webhookPayload{
				EventID:       "evt_" + randomHex(12),
				PaymentIntent: intentID,
				Status:        "succeeded",
			})
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		resp := map[string]string{
			"id":            intentID,
			"client_secret": intentID + "_secret_" + randomHex(8),
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to write intent response", "error", err)
		}
	})

	slog.Info("mock provider started", "addr", ":8081", "webhook_delay", delay)
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func deliverWebhook(callbackURL, secret string, payload webhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal webhook payload", "error", err)
		return
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		slog.Error("webhook delivery failed", "callback_url", callbackURL, "error", err)
		return
	}
	defer resp.Body.Close()

	slog.Info("webhook delivered",
		"event_id", payload.EventID,
		"payment_intent", payload.PaymentIntent,
		"status_code", resp.StatusCode,
	)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)[:n]
}
