package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/settleworks/paygate/internal/domain"
)

const conversionJobColumns = `id, payment_id, status, attempts, last_error, last_attempt, created_at`

type ConversionJobRepository struct {
	db *sql.DB
}

func NewConversionJobRepository(db *sql.DB) *ConversionJobRepository {
	return &ConversionJobRepository{db: db}
}

func (r *ConversionJobRepository) Enqueue(ctx context.Context, job *domain.ConversionJob) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversion_jobs (id, payment_id, status, attempts, last_error, last_attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.PaymentID, job.Status, job.Attempts, job.LastError, job.LastAttempt, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	return nil
}

// GetPending claims up to limit queued jobs. FOR UPDATE SKIP LOCKED prevents
// multiple workers from claiming the same job.
func (r *ConversionJobRepository) GetPending(ctx context.Context, limit int) ([]domain.ConversionJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conversionJobColumns+` FROM conversion_jobs
		WHERE status = $1 ORDER BY created_at LIMIT $2 FOR UPDATE SKIP LOCKED`,
		domain.ConversionJobStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetPending: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ConversionJob
	for rows.Next() {
		j, err := scanConversionJob(rows)
		if err != nil {
			return nil, fmt.Errorf("GetPending: scan: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetPending: rows: %w", err)
	}
	return jobs, nil
}

// UpdateStatus moves a job along pending -> running -> done/failed. The
// attempt counter ticks on the running mark so retries of the same job are
// visible without double counting.
func (r *ConversionJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ConversionJobStatus, lastError *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversion_jobs SET status = $1, last_error = $2,
			attempts = attempts + CASE WHEN $1 = $4 THEN 1 ELSE 0 END,
			last_attempt = now()
		WHERE id = $3`,
		status, lastError, id, domain.ConversionJobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

// HasActiveForPayment reports whether a pending or running job already
// covers the payment, so webhook redeliveries do not queue duplicates.
func (r *ConversionJobRepository) HasActiveForPayment(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM conversion_jobs
			WHERE payment_id = $1 AND status IN ($2, $3)
		)`,
		paymentID, domain.ConversionJobStatusPending, domain.ConversionJobStatusRunning,
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("HasActiveForPayment: %w", err)
	}
	return active, nil
}

// RequeueStale returns running jobs whose last attempt is older than the
// bound to the queue, recovering work orphaned by a worker crash.
func (r *ConversionJobRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	reason := "requeued after stale running state"
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversion_jobs SET status = $1, last_error = $2
		WHERE status = $3 AND last_attempt < now() - $4 * interval '1 second'`,
		domain.ConversionJobStatusPending, reason,
		domain.ConversionJobStatusRunning, int64(olderThan.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("RequeueStale: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("RequeueStale: rows affected: %w", err)
	}
	return rows, nil
}

func scanConversionJob(s scanner) (*domain.ConversionJob, error) {
	var j domain.ConversionJob
	err := s.Scan(
		&j.ID, &j.PaymentID, &j.Status, &j.Attempts,
		&j.LastError, &j.LastAttempt, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
