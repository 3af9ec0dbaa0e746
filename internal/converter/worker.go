package converter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/settleworks/paygate/internal/domain"
)

type workerJobRepo interface {
	GetPending(ctx context.Context, limit int) ([]domain.ConversionJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ConversionJobStatus, lastError *string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Worker drains the conversion queue on a fixed interval. It runs on its
// own context so webhook request cancellation never reaches an in-flight
// conversion. Jobs stuck in running past staleAfter are returned to the
// queue; the payment-level settling claim keeps a requeued job from
// racing an attempt that is genuinely still alive.
type Worker struct {
	jobs       workerJobRepo
	converter  *Converter
	logger     *slog.Logger
	interval   time.Duration
	staleAfter time.Duration
}

func NewWorker(jobs workerJobRepo, c *Converter, logger *slog.Logger, interval, staleAfter time.Duration) *Worker {
	return &Worker{
		jobs:       jobs,
		converter:  c,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("conversion worker started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("conversion worker stopped")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	if w.staleAfter > 0 {
		n, err := w.jobs.RequeueStale(ctx, w.staleAfter)
		if err != nil {
			w.logger.Error("failed to requeue stale conversion jobs", "error", err)
		} else if n > 0 {
			w.logger.Warn("requeued stale running conversion jobs", "count", n)
		}
	}

	jobs, err := w.jobs.GetPending(ctx, 10)
	if err != nil {
		w.logger.Error("failed to fetch pending conversion jobs", "error", err)
		return
	}

	for _, job := range jobs {
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job domain.ConversionJob) {
	w.markJob(ctx, job.ID, domain.ConversionJobStatusRunning, nil)

	err := w.converter.Run(ctx, job.PaymentID)
	switch {
	case err == nil:
		w.markJob(ctx, job.ID, domain.ConversionJobStatusDone, nil)
	case errors.Is(err, domain.ErrAlreadyCompleted):
		// stale job for a payment that already settled
		w.logger.Info("skipping conversion job, payment already completed",
			"job_id", job.ID,
			"payment_id", job.PaymentID,
		)
		w.markJob(ctx, job.ID, domain.ConversionJobStatusDone, nil)
	default:
		w.logger.Error("conversion job failed",
			"job_id", job.ID,
			"payment_id", job.PaymentID,
			"error", err,
		)
		msg := err.Error()
		w.markJob(ctx, job.ID, domain.ConversionJobStatusFailed, &msg)
	}
}

func (w *Worker) markJob(ctx context.Context, id uuid.UUID, status domain.ConversionJobStatus, lastError *string) {
	if err := w.jobs.UpdateStatus(ctx, id, status, lastError); err != nil {
		w.logger.Error("failed to update conversion job status",
			"job_id", id,
			"status", status,
			"error", err,
		)
	}
}
