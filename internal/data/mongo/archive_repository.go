// Package mongo provides the MongoDB implementation of the posting audit
// archive. The archive is a read model: it is written after dispatch and its
// absence only degrades lookups, never correctness.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/paystream-reconciler/internal/domain/archive"
)

const (
	// ArchiveCollectionName is the name of the posting archive collection
	ArchiveCollectionName = "archived_postings"
)

// ArchiveRepository implements the archive.Repository interface for MongoDB
type ArchiveRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewArchiveRepository creates a new MongoDB posting archive repository
func NewArchiveRepository(logger *slog.Logger, db *mongo.Database) archive.Repository {
	return &ArchiveRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAll stores a batch's postings in the archive. Re-archiving the same
// batch after a dispatcher retry is harmless: existing posting ids are
// skipped instead of duplicated.
func (r *ArchiveRepository) CreateAll(ctx context.Context, postings []*archive.ArchivedPosting) error {
	if len(postings) == 0 {
		return nil
	}
	collection := r.db.Collection(ArchiveCollectionName)

	for _, p := range postings {
		filter := bson.M{"posting_id": p.PostingID}
		update := bson.M{"$setOnInsert": p}
		opts := options.Update().SetUpsert(true)

		if _, err := collection.UpdateOne(ctx, filter, update, opts); err != nil {
			r.logger.Error("Failed to archive posting",
				"posting_id", p.PostingID.String(),
				"batch_id", p.BatchID.String(),
				"error", err)
			return fmt.Errorf("failed to archive posting: %w", err)
		}
	}

	return nil
}

// GetByBatchID retrieves all archived postings of a batch in date order
func (r *ArchiveRepository) GetByBatchID(ctx context.Context, batchID uuid.UUID) ([]*archive.ArchivedPosting, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	filter := bson.M{"batch_id": batchID}
	opts := options.Find().SetSort(bson.M{"date": 1})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get archived postings", "batch_id", batchID.String(), "error", err)
		return nil, fmt.Errorf("failed to get archived postings: %w", err)
	}
	defer cursor.Close(ctx)

	var postings []*archive.ArchivedPosting
	if err := cursor.All(ctx, &postings); err != nil {
		r.logger.Error("Failed to decode archived postings", "batch_id", batchID.String(), "error", err)
		return nil, fmt.Errorf("failed to decode archived postings: %w", err)
	}

	return postings, nil
}

// GetByReferenceID retrieves the archived posting that booked a provider
// reference. Returns ErrPostingNotArchived when the batch was never
// dispatched or the archive was pruned; callers fall back to the
// relational idempotency index.
func (r *ArchiveRepository) GetByReferenceID(ctx context.Context, referenceID string) (*archive.ArchivedPosting, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	filter := bson.M{"references": referenceID}
	var p archive.ArchivedPosting
	err := collection.FindOne(ctx, filter).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, archive.ErrPostingNotArchived{ReferenceID: referenceID}
		}
		r.logger.Error("Failed to get archived posting by reference", "reference_id", referenceID, "error", err)
		return nil, fmt.Errorf("failed to get archived posting by reference: %w", err)
	}

	return &p, nil
}

// CountByTaskID counts the archived postings of a task
func (r *ArchiveRepository) CountByTaskID(ctx context.Context, taskID string) (int64, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	count, err := collection.CountDocuments(ctx, bson.M{"task_id": taskID})
	if err != nil {
		r.logger.Error("Failed to count archived postings", "task_id", taskID, "error", err)
		return 0, fmt.Errorf("failed to count archived postings: %w", err)
	}

	return count, nil
}
