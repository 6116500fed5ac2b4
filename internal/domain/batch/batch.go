// Package batch defines the unit of idempotent booking work. A batch is
// created open at the start of a task run, accumulates counters while the
// run processes the record stream, and is sealed exactly once when the run
// completes. Sealed batches are immutable and retained for audit.
package batch

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status defines batch lifecycle states
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusSealed  Status = "SEALED"
	StatusAborted Status = "ABORTED"
)

// Batch tracks one reconciliation run for a task. Counters are mutable while
// the batch is open and frozen on seal.
type Batch struct {
	ID             uuid.UUID       `json:"id"`
	TaskID         string          `json:"task_id"`
	Status         Status          `json:"status"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Successes      int             `json:"successes"`
	Warnings       int             `json:"warnings"`
	Errors         int             `json:"errors"`
	Fatals         int             `json:"fatals"`
	Duplicates     int             `json:"duplicates"`
	CreatedAt      time.Time       `json:"created_at"`
	SealedAt       *time.Time      `json:"sealed_at,omitempty"`
}

// Open creates a new open batch for a task run
func Open(taskID string, periodStart, periodEnd time.Time, openingBalance decimal.Decimal) *Batch {
	return &Batch{
		ID:             uuid.New(),
		TaskID:         taskID,
		Status:         StatusOpen,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		OpeningBalance: openingBalance,
		CreatedAt:      time.Now().UTC(),
	}
}

func (b *Batch) RecordSuccess()   { b.Successes++ }
func (b *Batch) RecordWarning()   { b.Warnings++ }
func (b *Batch) RecordError()     { b.Errors++ }
func (b *Batch) RecordFatal()     { b.Fatals++ }
func (b *Batch) RecordDuplicate() { b.Duplicates++ }

// Seal freezes the batch counters and closing balance. Sealing twice is a
// programming error and is rejected.
func (b *Batch) Seal(closingBalance decimal.Decimal) error {
	if b.Status != StatusOpen {
		return ErrBatchNotOpen{BatchID: b.ID, Status: b.Status}
	}
	b.ClosingBalance = closingBalance
	b.Status = StatusSealed
	now := time.Now().UTC()
	b.SealedAt = &now
	return nil
}

// Abort marks a failed run. Aborted batches never own postings or
// booked references.
func (b *Batch) Abort() {
	b.Status = StatusAborted
	now := time.Now().UTC()
	b.SealedAt = &now
}

// RequiresReview reports whether the sealed batch must be inspected by an
// operator before its output is trusted
func (b *Batch) RequiresReview() bool {
	return b.Fatals > 0
}
