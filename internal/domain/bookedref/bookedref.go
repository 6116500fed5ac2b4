// Package bookedref defines the idempotency index. A BookedReference is
// written exactly once per provider reference id, atomically with the seal of
// the batch that booked it, and is never updated afterwards. Its presence is
// the sole authority for skip-on-rerun decisions.
package bookedref

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BookedReference maps a provider reference id to the batch and posting that
// booked it. BatchID is a back-reference only: historical batches may be
// pruned while the index keeps answering lookups.
type BookedReference struct {
	ReferenceID string    `json:"reference_id"`
	BatchID     uuid.UUID `json:"batch_id"`
	PostingID   uuid.UUID `json:"posting_id"`
	BookedAt    time.Time `json:"booked_at"`
}

// New creates an index entry for a freshly booked reference
func New(referenceID string, batchID, postingID uuid.UUID) *BookedReference {
	return &BookedReference{
		ReferenceID: referenceID,
		BatchID:     batchID,
		PostingID:   postingID,
		BookedAt:    time.Now().UTC(),
	}
}

// Repository manages the persistent idempotency index
type Repository interface {
	// FilterBooked returns the subset of the given reference ids that are
	// already present in the index, keyed by reference id.
	FilterBooked(ctx context.Context, referenceIDs []string) (map[string]*BookedReference, error)
	GetByReferenceID(ctx context.Context, referenceID string) (*BookedReference, error)
	CreateAll(ctx context.Context, refs []*BookedReference) error
	WithTx(tx pgx.Tx) Repository
}

// ErrReferenceNotFound indicates a reference id absent from the index
type ErrReferenceNotFound struct {
	ReferenceID string
}

func (e ErrReferenceNotFound) Error() string {
	return "booked reference not found: " + e.ReferenceID
}

// Is implements the errors.Is interface for ErrReferenceNotFound
func (e ErrReferenceNotFound) Is(target error) bool {
	t, ok := target.(ErrReferenceNotFound)
	if !ok {
		return false
	}
	if t.ReferenceID == "" {
		return true
	}
	return e.ReferenceID == t.ReferenceID
}
