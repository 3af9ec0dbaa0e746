package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventSeverity string

const (
	EventSeverityInfo    EventSeverity = "info"
	EventSeverityWarning EventSeverity = "warning"
	EventSeverityError   EventSeverity = "error"
)

type EventType string

const (
	EventTypePaymentCreated      EventType = "payment_created"
	EventTypeIntentCreated       EventType = "intent_created"
	EventTypePaymentCaptured     EventType = "payment_captured"
	EventTypePaymentFailed       EventType = "payment_failed"
	EventTypePaymentCanceled     EventType = "payment_canceled"
	EventTypePaymentRefunded     EventType = "payment_refunded"
	EventTypePaymentCompleted    EventType = "payment_completed"
	EventTypeConversionStarted   EventType = "conversion_started"
	EventTypeQuoteFallback       EventType = "quote_fallback"
	EventTypeAssetPurchased      EventType = "asset_purchased"
	EventTypeAssetWithdrawn      EventType = "asset_withdrawn"
	EventTypeConversionCompleted EventType = "conversion_completed"
	EventTypeConversionFailed    EventType = "conversion_failed"
	EventTypeWebhookIgnored      EventType = "webhook_ignored"
	EventTypeWebhookOutOfOrder   EventType = "webhook_out_of_order"
)

// Event is an append-only ledger row. Events are never updated or deleted;
// they are the durable record of why a payment is in its current state.
type Event struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	EventType EventType
	Payload   json.RawMessage
	Severity  EventSeverity
	CreatedAt time.Time
}
