package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/settleworks/paygate/internal/domain"
)

const eventColumns = `id, payment_id, event_type, payload, severity, created_at`

// EventRepository is append-only: rows are never updated or deleted.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (id, payment_id, event_type, payload, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.PaymentID, event.EventType, nullJSON(event.Payload),
		event.Severity, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *EventRepository) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM payment_events
		WHERE payment_id = $1 ORDER BY created_at`, paymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByPaymentID: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByPaymentID: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByPaymentID: rows: %w", err)
	}
	return events, nil
}

func scanEvent(s scanner) (*domain.Event, error) {
	var e domain.Event
	var payload *[]byte

	err := s.Scan(
		&e.ID, &e.PaymentID, &e.EventType, &payload,
		&e.Severity, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload != nil {
		e.Payload = *payload
	}
	return &e, nil
}
