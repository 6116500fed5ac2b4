package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paystream-reconciler/internal/domain/document"
	"github.com/paystream-reconciler/internal/platform/persistence"
)

// DocumentRepository implements the document.Repository interface for PostgreSQL
type DocumentRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewDocumentRepository creates a new PostgreSQL dispatch document repository
func NewDocumentRepository(logger *slog.Logger, db *persistence.PostgresDB) document.Repository {
	return &DocumentRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so the rendered document is
// stored atomically with the batch seal
func (r *DocumentRepository) WithTx(tx pgx.Tx) document.Repository {
	return &DocumentRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new dispatch document in pending status.
// The document will be picked up by the dispatcher for publishing.
func (r *DocumentRepository) Create(ctx context.Context, doc *document.Document) error {
	query := `
		INSERT INTO batch_documents (batch_id, task_id, payload, content_type, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		doc.BatchID,
		doc.TaskID,
		doc.Payload,
		doc.ContentType,
		doc.Status,
		doc.Attempts,
		doc.CreatedAt,
	).Scan(&doc.ID)

	if err != nil {
		r.logger.Error("Failed to create dispatch document", "batch_id", doc.BatchID.String(), "error", err)
		return fmt.Errorf("failed to create dispatch document: %w", err)
	}

	return nil
}

// GetPending retrieves a batch of pending documents ordered by creation time.
// This is used by the dispatcher to publish documents in FIFO order.
func (r *DocumentRepository) GetPending(ctx context.Context, limit int) ([]*document.Document, error) {
	query := `
		SELECT id, batch_id, task_id, payload, content_type, status, attempts, created_at, last_attempt_at
		FROM batch_documents
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, document.StatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to get pending dispatch documents", "error", err)
		return nil, fmt.Errorf("failed to get pending dispatch documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		var doc document.Document
		err := rows.Scan(
			&doc.ID,
			&doc.BatchID,
			&doc.TaskID,
			&doc.Payload,
			&doc.ContentType,
			&doc.Status,
			&doc.Attempts,
			&doc.CreatedAt,
			&doc.LastAttemptAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan dispatch document", "error", err)
			return nil, fmt.Errorf("failed to scan dispatch document: %w", err)
		}
		docs = append(docs, &doc)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over dispatch documents", "error", err)
		return nil, fmt.Errorf("error iterating over dispatch documents: %w", err)
	}

	return docs, nil
}

// GetByBatchID retrieves the dispatch document for a sealed batch
func (r *DocumentRepository) GetByBatchID(ctx context.Context, batchID uuid.UUID) (*document.Document, error) {
	query := `
		SELECT id, batch_id, task_id, payload, content_type, status, attempts, created_at, last_attempt_at
		FROM batch_documents
		WHERE batch_id = $1
	`

	var doc document.Document
	err := r.querier.QueryRow(ctx, query, batchID).Scan(
		&doc.ID,
		&doc.BatchID,
		&doc.TaskID,
		&doc.Payload,
		&doc.ContentType,
		&doc.Status,
		&doc.Attempts,
		&doc.CreatedAt,
		&doc.LastAttemptAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, document.ErrDocumentNotFound{ID: 0}
		}
		r.logger.Error("Failed to get dispatch document by batch ID", "batch_id", batchID.String(), "error", err)
		return nil, fmt.Errorf("failed to get dispatch document by batch ID: %w", err)
	}

	return &doc, nil
}

// UpdateStatus updates the document status and last attempt timestamp
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id int64, status document.Status) error {
	query := `
		UPDATE batch_documents
		SET status = $1, last_attempt_at = $2
		WHERE id = $3
	`

	result, err := r.querier.Exec(ctx, query, status, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to update dispatch document status", "id", id, "status", string(status), "error", err)
		return fmt.Errorf("failed to update dispatch document status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return document.ErrDocumentNotFound{ID: id}
	}

	return nil
}

// IncrementAttempts increments the retry counter and updates last attempt time
func (r *DocumentRepository) IncrementAttempts(ctx context.Context, id int64) error {
	query := `
		UPDATE batch_documents
		SET attempts = attempts + 1, last_attempt_at = $1
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to increment dispatch document attempts", "id", id, "error", err)
		return fmt.Errorf("failed to increment dispatch document attempts: %w", err)
	}

	if result.RowsAffected() == 0 {
		return document.ErrDocumentNotFound{ID: id}
	}

	return nil
}
