package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversionJobStatus string

const (
	ConversionJobStatusPending ConversionJobStatus = "pending"
	ConversionJobStatusRunning ConversionJobStatus = "running"
	ConversionJobStatusDone    ConversionJobStatus = "done"
	ConversionJobStatusFailed  ConversionJobStatus = "failed"
)

// ConversionJob queues a settlement conversion for a captured payment so the
// webhook response never waits on exchange calls.
type ConversionJob struct {
	ID          uuid.UUID
	PaymentID   uuid.UUID
	Status      ConversionJobStatus
	Attempts    int
	LastError   *string
	LastAttempt *time.Time
	CreatedAt   time.Time
}
