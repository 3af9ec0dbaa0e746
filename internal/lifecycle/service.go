package lifecycle

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
	"github.com/settleworks/paygate/internal/logging"
)

type paymentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByExternalReference(ctx context.Context, ref string) (*domain.Payment, error)
	AttachExternalReference(ctx context.Context, tx *sql.Tx, id uuid.UUID, ref string) error
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.PaymentStatus, completedAt *time.Time) (int64, error)
	UpdateProcessorFee(ctx context.Context, tx *sql.Tx, id uuid.UUID, fee decimal.Decimal) error
}

type eventRepo interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.Event) error
	GetByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.Event, error)
}

// Service owns the payment state machine. All status writes go through
// Transition; nothing else in the codebase mutates payment status except
// the converter's settling claim.
type Service struct {
	payments paymentRepo
	events   eventRepo
	db       *sql.DB
}

func NewService(payments paymentRepo, events eventRepo, db *sql.DB) *Service {
	return &Service{payments: payments, events: events, db: db}
}

type CreateRequest struct {
	Amount        decimal.Decimal
	Currency      domain.Currency
	Provider      string
	CustomerEmail string
	Metadata      json.RawMessage
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("Create: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("Create: %w", domain.ErrInvalidCurrency)
	}

	now := time.Now().UTC()
	p := &domain.Payment{
		ID:       uuid.New(),
		Amount:   req.Amount.Round(2),
		Currency: req.Currency,
		Status:   domain.PaymentStatusCreated,
		Provider: req.Provider,
		Fees: domain.Fees{
			ProcessorFee:  decimal.Zero,
			ConversionFee: decimal.Zero,
			NetworkFee:    decimal.Zero,
			TotalFees:     decimal.Zero,
		},
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.CustomerEmail != "" {
		p.CustomerEmail = &req.CustomerEmail
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Create: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.payments.Create(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{
		"amount":   p.Amount.String(),
		"currency": string(p.Currency),
		"provider": p.Provider,
	})
	if err := s.appendEvent(ctx, tx, p.ID, domain.EventTypePaymentCreated, payload, domain.EventSeverityInfo, now); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Create: commit: %w", err)
	}

	logging.FromContext(ctx).Info("payment created",
		"payment_id", p.ID,
		"amount", p.Amount,
		"currency", p.Currency,
	)
	return p, nil
}

// AttachExternalReference binds the provider's reference to the payment.
// Re-attaching the same reference to the same payment is a no-op so
// provider retries stay safe.
func (s *Service) AttachExternalReference(ctx context.Context, paymentID uuid.UUID, ref string) error {
	if ref == "" {
		return fmt.Errorf("AttachExternalReference: %w", domain.ErrInvalidRequest)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("AttachExternalReference: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.payments.AttachExternalReference(ctx, tx, paymentID, ref); err != nil {
		return fmt.Errorf("AttachExternalReference: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("AttachExternalReference: commit: %w", err)
	}
	return nil
}

// RegisterCharge binds the provider's reference and moves the payment from
// created to awaiting_payment in one transaction. A failure on either step
// rolls back both, so a retried intent never finds a payment wedged in
// created with a reference already bound.
func (s *Service) RegisterCharge(ctx context.Context, paymentID uuid.UUID, ref string, evidence json.RawMessage) (*domain.Payment, error) {
	if ref == "" {
		return nil, fmt.Errorf("RegisterCharge: %w", domain.ErrInvalidRequest)
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("RegisterCharge: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.payments.AttachExternalReference(ctx, tx, paymentID, ref); err != nil {
		return nil, fmt.Errorf("RegisterCharge: %w", err)
	}

	rows, err := s.payments.UpdateStatus(ctx, tx, paymentID,
		domain.PaymentStatusCreated, domain.PaymentStatusAwaitingPayment, nil)
	if err != nil {
		return nil, fmt.Errorf("RegisterCharge: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("RegisterCharge: %s -> %s: %w",
			domain.PaymentStatusCreated, domain.PaymentStatusAwaitingPayment, domain.ErrIllegalTransition)
	}

	if err := s.appendEvent(ctx, tx, paymentID, domain.EventTypeIntentCreated, evidence, domain.EventSeverityInfo, now); err != nil {
		return nil, fmt.Errorf("RegisterCharge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("RegisterCharge: commit: %w", err)
	}

	updated, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("RegisterCharge: %w", err)
	}

	logging.FromContext(ctx).Info("payment intent registered",
		"payment_id", paymentID,
		"external_reference", ref,
	)
	return updated, nil
}

// Transition moves a payment to target if the edge is legal, atomically
// with respect to concurrent transitions on the same payment. The raw
// provider payload travels along as evidence in the event log.
func (s *Service) Transition(ctx context.Context, paymentID uuid.UUID, target domain.PaymentStatus, evidence json.RawMessage) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("Transition: %w", err)
	}

	if !domain.CanTransition(p.Status, target) {
		return nil, fmt.Errorf("Transition: %s -> %s: %w", p.Status, target, domain.ErrIllegalTransition)
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if target == domain.PaymentStatusCompleted {
		completedAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Transition: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := s.payments.UpdateStatus(ctx, tx, paymentID, p.Status, target, completedAt)
	if err != nil {
		return nil, fmt.Errorf("Transition: %w", err)
	}
	if rows == 0 {
		// lost the race: someone else moved the payment first
		return nil, fmt.Errorf("Transition: %s -> %s: concurrent update: %w", p.Status, target, domain.ErrIllegalTransition)
	}

	if err := s.appendEvent(ctx, tx, paymentID, eventTypeForStatus(target), evidence, domain.EventSeverityInfo, now); err != nil {
		return nil, fmt.Errorf("Transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Transition: commit: %w", err)
	}

	updated, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("Transition: %w", err)
	}

	logging.FromContext(ctx).Info("payment transitioned",
		"payment_id", paymentID,
		"from", p.Status,
		"to", target,
	)
	return updated, nil
}

// ApplyProcessorFee records the capture-stage fee. Total fees are
// recomputed from the components in SQL so they only ever grow.
func (s *Service) ApplyProcessorFee(ctx context.Context, paymentID uuid.UUID, fee decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ApplyProcessorFee: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.payments.UpdateProcessorFee(ctx, tx, paymentID, fee); err != nil {
		return fmt.Errorf("ApplyProcessorFee: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ApplyProcessorFee: commit: %w", err)
	}
	return nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPayment: %w", err)
	}
	return p, nil
}

func (s *Service) GetByExternalReference(ctx context.Context, ref string) (*domain.Payment, error) {
	p, err := s.payments.GetByExternalReference(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("GetByExternalReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByExternalReference: %w", err)
	}
	return p, nil
}

func (s *Service) GetEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.Event, error) {
	events, err := s.events.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetEvents: %w", err)
	}
	return events, nil
}

// RecordEvent appends a standalone audit event outside any transition,
// used for anomalies and conversion progress markers.
func (s *Service) RecordEvent(ctx context.Context, paymentID uuid.UUID, eventType domain.EventType, payload json.RawMessage, severity domain.EventSeverity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("RecordEvent: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendEvent(ctx, tx, paymentID, eventType, payload, severity, time.Now().UTC()); err != nil {
		return fmt.Errorf("RecordEvent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("RecordEvent: commit: %w", err)
	}
	return nil
}

func (s *Service) appendEvent(ctx context.Context, tx *sql.Tx, paymentID uuid.UUID, eventType domain.EventType, payload json.RawMessage, severity domain.EventSeverity, at time.Time) error {
	return s.events.Create(ctx, tx, &domain.Event{
		ID:        uuid.New(),
		PaymentID: paymentID,
		EventType: eventType,
		Payload:   payload,
		Severity:  severity,
		CreatedAt: at,
	})
}

func eventTypeForStatus(target domain.PaymentStatus) domain.EventType {
	switch target {
	case domain.PaymentStatusAwaitingPayment:
		return domain.EventTypeIntentCreated
	case domain.PaymentStatusFundsCaptured:
		return domain.EventTypePaymentCaptured
	case domain.PaymentStatusSettling:
		return domain.EventTypeConversionStarted
	case domain.PaymentStatusCompleted:
		return domain.EventTypePaymentCompleted
	case domain.PaymentStatusFailed:
		return domain.EventTypePaymentFailed
	case domain.PaymentStatusCanceled:
		return domain.EventTypePaymentCanceled
	case domain.PaymentStatusRefunded:
		return domain.EventTypePaymentRefunded
	}
	return domain.EventType("status_" + string(target))
}
