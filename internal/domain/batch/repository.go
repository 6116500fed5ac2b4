package batch

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages batch persistence. At most one open batch may exist per
// task id; Open fails with ErrBatchAlreadyOpen when that is violated.
type Repository interface {
	Open(ctx context.Context, b *Batch) error
	Seal(ctx context.Context, b *Batch) error
	Abort(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	GetByTaskID(ctx context.Context, taskID string, limit, offset int) ([]*Batch, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrBatchAlreadyOpen indicates a second concurrent open for the same task id
type ErrBatchAlreadyOpen struct {
	TaskID string
}

func (e ErrBatchAlreadyOpen) Error() string {
	return "a batch is already open for task: " + e.TaskID
}

// Is implements the errors.Is interface for ErrBatchAlreadyOpen
func (e ErrBatchAlreadyOpen) Is(target error) bool {
	t, ok := target.(ErrBatchAlreadyOpen)
	if !ok {
		return false
	}
	if t.TaskID == "" {
		return true
	}
	return e.TaskID == t.TaskID
}

// ErrBatchNotFound indicates a missing batch
type ErrBatchNotFound struct {
	BatchID uuid.UUID
}

func (e ErrBatchNotFound) Error() string {
	return "batch not found: " + e.BatchID.String()
}

// Is implements the errors.Is interface for ErrBatchNotFound
func (e ErrBatchNotFound) Is(target error) bool {
	t, ok := target.(ErrBatchNotFound)
	if !ok {
		return false
	}
	if t.BatchID == uuid.Nil {
		return true
	}
	return e.BatchID == t.BatchID
}

// ErrBatchNotOpen indicates a lifecycle violation such as sealing twice
type ErrBatchNotOpen struct {
	BatchID uuid.UUID
	Status  Status
}

func (e ErrBatchNotOpen) Error() string {
	return "batch " + e.BatchID.String() + " is not open: " + string(e.Status)
}
