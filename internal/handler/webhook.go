package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/settleworks/paygate/internal/domain"
	"github.com/settleworks/paygate/internal/gateway"
	"github.com/settleworks/paygate/internal/logging"
)

// maxWebhookBodySize caps provider payloads at 1MB.
const maxWebhookBodySize = 1 << 20

type webhookReconciler interface {
	Verify(provider string, body []byte, signature string) (*gateway.VerifiedEvent, error)
	Dispatch(ctx context.Context, ev *gateway.VerifiedEvent) error
}

type WebhookHandler struct {
	reconciler webhookReconciler
}

func NewWebhookHandler(r webhookReconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: r}
}

// Receive verifies and applies a provider notification. Verified
// deliveries are acknowledged with 200 even when they change nothing;
// only infrastructure failures return 500 so the provider retries them.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	provider := r.PathValue("provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		log.Warn("failed to read webhook body", "provider", provider, "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	ev, err := h.reconciler.Verify(provider, body, signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownProvider):
			RespondAppError(w, ErrResourceNotFound, nil)
		case errors.Is(err, domain.ErrSignatureInvalid):
			log.Warn("webhook signature verification failed", "provider", provider)
			RespondAppError(w, ErrInvalidSignature, nil)
		default:
			log.Warn("webhook payload rejected", "provider", provider, "error", err)
			RespondAppError(w, ErrInvalidRequest, nil)
		}
		return
	}

	if err := h.reconciler.Dispatch(r.Context(), ev); err != nil {
		log.Error("webhook dispatch failed",
			"provider", provider,
			"event_id", ev.EventID,
			"external_reference", ev.ExternalReference,
			"error", err,
		)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}
