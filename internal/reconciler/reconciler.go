// Package reconciler turns verified provider webhooks into payment state
// transitions. Providers redeliver liberally and out of order, so dispatch
// is idempotent: anything already applied acknowledges cleanly, and
// backward-moving notifications are flagged, never applied.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/settleworks/paygate/internal/domain"
	"github.com/settleworks/paygate/internal/fees"
	"github.com/settleworks/paygate/internal/gateway"
	"github.com/settleworks/paygate/internal/logging"
)

type lifecycleService interface {
	GetByExternalReference(ctx context.Context, ref string) (*domain.Payment, error)
	Transition(ctx context.Context, paymentID uuid.UUID, target domain.PaymentStatus, evidence json.RawMessage) (*domain.Payment, error)
	ApplyProcessorFee(ctx context.Context, paymentID uuid.UUID, fee decimal.Decimal) error
	RecordEvent(ctx context.Context, paymentID uuid.UUID, eventType domain.EventType, payload json.RawMessage, severity domain.EventSeverity) error
}

type conversionEnqueuer interface {
	Enqueue(ctx context.Context, paymentID uuid.UUID) error
	HasActiveJob(ctx context.Context, paymentID uuid.UUID) (bool, error)
}

type Reconciler struct {
	gateways          *gateway.Registry
	lifecycle         lifecycleService
	converter         conversionEnqueuer
	conversionEnabled bool
}

func New(gateways *gateway.Registry, lc lifecycleService, converter conversionEnqueuer, conversionEnabled bool) *Reconciler {
	return &Reconciler{
		gateways:          gateways,
		lifecycle:         lc,
		converter:         converter,
		conversionEnabled: conversionEnabled,
	}
}

// Verify authenticates a raw webhook delivery for the named provider.
// Fails closed: an unverifiable payload is never processed.
func (r *Reconciler) Verify(provider string, body []byte, signature string) (*gateway.VerifiedEvent, error) {
	gw, err := r.gateways.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("Verify: %w", err)
	}
	ev, err := gw.VerifyWebhook(body, signature)
	if err != nil {
		return nil, fmt.Errorf("Verify: %w", err)
	}
	return ev, nil
}

// Dispatch applies a verified event to the payment it references. A nil
// return means the delivery is settled from the provider's point of view;
// only infrastructure failures propagate, so the provider retries exactly
// the deliveries that were not durably applied.
func (r *Reconciler) Dispatch(ctx context.Context, ev *gateway.VerifiedEvent) error {
	log := logging.FromContext(ctx)

	p, err := r.lifecycle.GetByExternalReference(ctx, ev.ExternalReference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// never create a phantom payment from a webhook alone
			log.Warn("unmatched webhook, no payment for reference",
				"provider", ev.Provider,
				"external_reference", ev.ExternalReference,
				"provider_status", ev.ProviderStatus,
			)
			return nil
		}
		return fmt.Errorf("Dispatch: %w", err)
	}

	gw, err := r.gateways.Get(ev.Provider)
	if err != nil {
		return fmt.Errorf("Dispatch: %w", err)
	}

	target, ok := gw.MapStatus(ev.ProviderStatus)
	if !ok {
		log.Info("webhook status not state-affecting",
			"payment_id", p.ID,
			"provider_status", ev.ProviderStatus,
		)
		payload, _ := json.Marshal(map[string]string{"provider_status": ev.ProviderStatus})
		if err := r.lifecycle.RecordEvent(ctx, p.ID, domain.EventTypeWebhookIgnored, payload, domain.EventSeverityInfo); err != nil {
			return fmt.Errorf("Dispatch: %w", err)
		}
		return nil
	}

	if p.Status == target {
		// A prior delivery may have committed the transition and then lost
		// the fee booking or conversion enqueue to an infrastructure
		// failure. The redelivery finishes that work before acknowledging.
		if target == domain.PaymentStatusFundsCaptured {
			if err := r.handleCapture(ctx, p, gw); err != nil {
				return fmt.Errorf("Dispatch: %w", err)
			}
		}
		log.Info("duplicate webhook, state already applied",
			"payment_id", p.ID,
			"status", p.Status,
		)
		return nil
	}

	if !domain.CanTransition(p.Status, target) {
		// Webhook endpoints must always acknowledge verified deliveries,
		// so anomalies are flagged for investigation rather than surfaced.
		anomaly := "unreachable_target"
		if domain.AtOrPast(p.Status, target) {
			anomaly = "backward_delivery"
		}
		log.Warn("out-of-order webhook",
			"payment_id", p.ID,
			"current_status", p.Status,
			"webhook_target", target,
			"provider_status", ev.ProviderStatus,
			"anomaly", anomaly,
		)
		payload, _ := json.Marshal(map[string]string{
			"current_status":  string(p.Status),
			"webhook_target":  string(target),
			"provider_status": ev.ProviderStatus,
			"anomaly":         anomaly,
		})
		if err := r.lifecycle.RecordEvent(ctx, p.ID, domain.EventTypeWebhookOutOfOrder, payload, domain.EventSeverityWarning); err != nil {
			return fmt.Errorf("Dispatch: %w", err)
		}
		return nil
	}

	if _, err := r.lifecycle.Transition(ctx, p.ID, target, ev.RawPayload); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			// lost a race against a concurrent delivery of the same event
			log.Info("webhook transition raced, treating as applied",
				"payment_id", p.ID,
				"target", target,
			)
			return nil
		}
		return fmt.Errorf("Dispatch: %w", err)
	}

	if target == domain.PaymentStatusFundsCaptured {
		if err := r.handleCapture(ctx, p, gw); err != nil {
			return fmt.Errorf("Dispatch: %w", err)
		}
	}

	return nil
}

// handleCapture books the processor fee and hands the payment onward:
// queued for conversion when a settlement destination is configured,
// completed outright otherwise. Every step skips work already done, so a
// redelivered capture webhook repairs whatever a failed earlier delivery
// left unfinished.
func (r *Reconciler) handleCapture(ctx context.Context, p *domain.Payment, gw gateway.Gateway) error {
	log := logging.FromContext(ctx)

	if p.Fees.ProcessorFee.IsZero() {
		fee := fees.Compute(p.Amount, feeModelFor(gw.Name()))
		if err := r.lifecycle.ApplyProcessorFee(ctx, p.ID, fee); err != nil {
			return fmt.Errorf("handleCapture: %w", err)
		}
		log.Info("funds captured",
			"payment_id", p.ID,
			"amount", p.Amount,
			"processor_fee", fee,
		)
	}

	if !r.conversionEnabled {
		payload, _ := json.Marshal(map[string]string{"reason": "no settlement destination configured"})
		if _, err := r.lifecycle.Transition(ctx, p.ID, domain.PaymentStatusCompleted, payload); err != nil {
			return fmt.Errorf("handleCapture: %w", err)
		}
		return nil
	}

	queued, err := r.converter.HasActiveJob(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("handleCapture: %w", err)
	}
	if queued {
		return nil
	}
	if err := r.converter.Enqueue(ctx, p.ID); err != nil {
		return fmt.Errorf("handleCapture: enqueue conversion: %w", err)
	}
	return nil
}

func feeModelFor(provider string) fees.Model {
	if provider == gateway.CryptoInvoiceName {
		return fees.CryptoInvoice
	}
	return fees.CardRail
}
