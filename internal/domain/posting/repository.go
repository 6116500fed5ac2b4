package posting

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository persists postings owned by a batch. Postings are only ever
// written inside the batch seal transaction, so creation is batch-scoped.
type Repository interface {
	CreateAll(ctx context.Context, batchID uuid.UUID, postings []*Posting) error
	GetByBatchID(ctx context.Context, batchID uuid.UUID) ([]*Posting, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrPostingNotFound indicates a missing posting
type ErrPostingNotFound struct {
	PostingID uuid.UUID
}

func (e ErrPostingNotFound) Error() string {
	return "posting not found: " + e.PostingID.String()
}

// Is implements the errors.Is interface for ErrPostingNotFound
func (e ErrPostingNotFound) Is(target error) bool {
	t, ok := target.(ErrPostingNotFound)
	if !ok {
		return false
	}
	if t.PostingID == uuid.Nil {
		return true
	}
	return e.PostingID == t.PostingID
}
