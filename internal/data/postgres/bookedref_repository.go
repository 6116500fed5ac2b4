package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/paystream-reconciler/internal/domain/bookedref"
	"github.com/paystream-reconciler/internal/platform/persistence"
)

// BookedRefRepository implements the bookedref.Repository interface for PostgreSQL
type BookedRefRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewBookedRefRepository creates a new PostgreSQL idempotency index repository
func NewBookedRefRepository(logger *slog.Logger, db *persistence.PostgresDB) bookedref.Repository {
	return &BookedRefRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so index writes are atomic
// with the batch seal
func (r *BookedRefRepository) WithTx(tx pgx.Tx) bookedref.Repository {
	return &BookedRefRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// FilterBooked returns the already-booked subset of the given reference ids
func (r *BookedRefRepository) FilterBooked(ctx context.Context, referenceIDs []string) (map[string]*bookedref.BookedReference, error) {
	booked := make(map[string]*bookedref.BookedReference, len(referenceIDs))
	if len(referenceIDs) == 0 {
		return booked, nil
	}

	query := `
		SELECT reference_id, batch_id, posting_id, booked_at
		FROM booked_references
		WHERE reference_id = ANY($1)
	`

	rows, err := r.querier.Query(ctx, query, referenceIDs)
	if err != nil {
		r.logger.Error("Failed to filter booked references", "error", err)
		return nil, fmt.Errorf("failed to filter booked references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref bookedref.BookedReference
		if err := rows.Scan(&ref.ReferenceID, &ref.BatchID, &ref.PostingID, &ref.BookedAt); err != nil {
			r.logger.Error("Failed to scan booked reference", "error", err)
			return nil, fmt.Errorf("failed to scan booked reference: %w", err)
		}
		booked[ref.ReferenceID] = &ref
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over booked references", "error", err)
		return nil, fmt.Errorf("error iterating over booked references: %w", err)
	}

	return booked, nil
}

// GetByReferenceID retrieves a single index entry
func (r *BookedRefRepository) GetByReferenceID(ctx context.Context, referenceID string) (*bookedref.BookedReference, error) {
	query := `
		SELECT reference_id, batch_id, posting_id, booked_at
		FROM booked_references
		WHERE reference_id = $1
	`

	var ref bookedref.BookedReference
	err := r.querier.QueryRow(ctx, query, referenceID).Scan(
		&ref.ReferenceID,
		&ref.BatchID,
		&ref.PostingID,
		&ref.BookedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bookedref.ErrReferenceNotFound{ReferenceID: referenceID}
		}
		r.logger.Error("Failed to get booked reference", "reference_id", referenceID, "error", err)
		return nil, fmt.Errorf("failed to get booked reference: %w", err)
	}

	return &ref, nil
}

// CreateAll inserts index entries for all references booked by a batch.
// Only ever called inside the seal transaction; a primary-key conflict means
// the idempotency check was raced and must fail the whole seal.
func (r *BookedRefRepository) CreateAll(ctx context.Context, refs []*bookedref.BookedReference) error {
	query := `
		INSERT INTO booked_references (reference_id, batch_id, posting_id, booked_at)
		VALUES ($1, $2, $3, $4)
	`

	for _, ref := range refs {
		_, err := r.querier.Exec(ctx, query, ref.ReferenceID, ref.BatchID, ref.PostingID, ref.BookedAt)
		if err != nil {
			r.logger.Error("Failed to create booked reference", "reference_id", ref.ReferenceID, "error", err)
			return fmt.Errorf("failed to create booked reference %s: %w", ref.ReferenceID, err)
		}
	}

	return nil
}
