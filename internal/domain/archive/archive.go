// Package archive defines the posting audit read model. After a sealed batch
// document is dispatched, its postings are archived here so audit lookups do
// not depend on the relational batch rows, which may be pruned over time.
// An archive miss is therefore never an error condition for callers: lookups
// fall back to the idempotency index.
package archive

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ArchivedLine mirrors a posting line with amounts rendered as fixed-point
// strings so the archive never depends on driver numeric types.
type ArchivedLine struct {
	Account         string `bson:"account"`
	Amount          string `bson:"amount"`
	ForeignAmount   string `bson:"foreign_amount,omitempty"`
	ForeignCurrency string `bson:"foreign_currency,omitempty"`
	Rate            string `bson:"rate,omitempty"`
	Description     string `bson:"description,omitempty"`
}

// ArchivedPosting is one booked posting in the audit archive
type ArchivedPosting struct {
	PostingID   uuid.UUID      `bson:"posting_id"`
	BatchID     uuid.UUID      `bson:"batch_id"`
	TaskID      string         `bson:"task_id"`
	Date        time.Time      `bson:"date"`
	Description string         `bson:"description"`
	References  []string       `bson:"references"`
	Lines       []ArchivedLine `bson:"lines"`
	ArchivedAt  time.Time      `bson:"archived_at"`
}

// Repository manages the posting audit archive
type Repository interface {
	CreateAll(ctx context.Context, postings []*ArchivedPosting) error
	GetByBatchID(ctx context.Context, batchID uuid.UUID) ([]*ArchivedPosting, error)
	GetByReferenceID(ctx context.Context, referenceID string) (*ArchivedPosting, error)
	CountByTaskID(ctx context.Context, taskID string) (int64, error)
}

// ErrPostingNotArchived indicates a reference id with no archived posting.
// Callers treat this as a degraded lookup, not a failure.
type ErrPostingNotArchived struct {
	ReferenceID string
}

func (e ErrPostingNotArchived) Error() string {
	return "no archived posting for reference: " + e.ReferenceID
}

// Is implements the errors.Is interface for ErrPostingNotArchived
func (e ErrPostingNotArchived) Is(target error) bool {
	t, ok := target.(ErrPostingNotArchived)
	if !ok {
		return false
	}
	if t.ReferenceID == "" {
		return true
	}
	return e.ReferenceID == t.ReferenceID
}
