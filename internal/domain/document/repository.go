package document

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages dispatch document persistence
type Repository interface {
	Create(ctx context.Context, doc *Document) error
	GetPending(ctx context.Context, limit int) ([]*Document, error)
	GetByBatchID(ctx context.Context, batchID uuid.UUID) (*Document, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	IncrementAttempts(ctx context.Context, id int64) error
	WithTx(tx pgx.Tx) Repository
}

// ErrDocumentNotFound indicates a missing dispatch document
type ErrDocumentNotFound struct {
	ID int64
}

func (e ErrDocumentNotFound) Error() string {
	return "dispatch document not found: " + strconv.FormatInt(e.ID, 10)
}

// Is implements the errors.Is interface for ErrDocumentNotFound
func (e ErrDocumentNotFound) Is(target error) bool {
	t, ok := target.(ErrDocumentNotFound)
	if !ok {
		return false
	}
	if t.ID == 0 {
		return true
	}
	return e.ID == t.ID
}
