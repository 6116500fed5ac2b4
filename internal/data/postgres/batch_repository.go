// Package postgres provides PostgreSQL implementations of the domain
// repositories. All booking state that must survive a crash atomically lives
// here; repositories accept a transaction via WithTx so the batch seal can
// span batches, postings, booked references and the dispatch document.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/paystream-reconciler/internal/domain/batch"
	"github.com/paystream-reconciler/internal/platform/persistence"
)

// BatchRepository implements the batch.Repository interface for PostgreSQL
type BatchRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewBatchRepository creates a new PostgreSQL batch repository
func NewBatchRepository(logger *slog.Logger, db *persistence.PostgresDB) batch.Repository {
	return &BatchRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction, allowing for atomic
// operations across multiple repository calls
func (r *BatchRepository) WithTx(tx pgx.Tx) batch.Repository {
	return &BatchRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Open inserts a new open batch row. The partial unique index on open
// batches per task turns a concurrent second open into ErrBatchAlreadyOpen.
func (r *BatchRepository) Open(ctx context.Context, b *batch.Batch) error {
	query := `
		INSERT INTO batches (id, task_id, status, period_start, period_end, opening_balance, closing_balance,
			successes, warnings, errors, fatals, duplicates, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.querier.Exec(ctx, query,
		b.ID,
		b.TaskID,
		b.Status,
		b.PeriodStart,
		b.PeriodEnd,
		b.OpeningBalance,
		b.ClosingBalance,
		b.Successes,
		b.Warnings,
		b.Errors,
		b.Fatals,
		b.Duplicates,
		b.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return batch.ErrBatchAlreadyOpen{TaskID: b.TaskID}
		}
		r.logger.Error("Failed to open batch", "task_id", b.TaskID, "error", err)
		return fmt.Errorf("failed to open batch: %w", err)
	}

	return nil
}

// Seal freezes an open batch row with its final counters and balances
func (r *BatchRepository) Seal(ctx context.Context, b *batch.Batch) error {
	query := `
		UPDATE batches
		SET status = $1, closing_balance = $2, opening_balance = $3,
			successes = $4, warnings = $5, errors = $6, fatals = $7, duplicates = $8, sealed_at = $9
		WHERE id = $10 AND status = 'OPEN'
	`

	result, err := r.querier.Exec(ctx, query,
		b.Status,
		b.ClosingBalance,
		b.OpeningBalance,
		b.Successes,
		b.Warnings,
		b.Errors,
		b.Fatals,
		b.Duplicates,
		b.SealedAt,
		b.ID,
	)
	if err != nil {
		r.logger.Error("Failed to seal batch", "batch_id", b.ID.String(), "error", err)
		return fmt.Errorf("failed to seal batch: %w", err)
	}

	if result.RowsAffected() == 0 {
		return batch.ErrBatchNotFound{BatchID: b.ID}
	}

	return nil
}

// Abort marks a failed run. The row is kept for audit; the partial unique
// index only covers OPEN rows, so an aborted batch does not block reruns.
func (r *BatchRepository) Abort(ctx context.Context, b *batch.Batch) error {
	query := `
		UPDATE batches
		SET status = $1, sealed_at = $2
		WHERE id = $3 AND status = 'OPEN'
	`

	result, err := r.querier.Exec(ctx, query, batch.StatusAborted, b.SealedAt, b.ID)
	if err != nil {
		r.logger.Error("Failed to abort batch", "batch_id", b.ID.String(), "error", err)
		return fmt.Errorf("failed to abort batch: %w", err)
	}

	if result.RowsAffected() == 0 {
		return batch.ErrBatchNotFound{BatchID: b.ID}
	}

	return nil
}

// GetByID retrieves a batch by its ID
func (r *BatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*batch.Batch, error) {
	query := `
		SELECT id, task_id, status, period_start, period_end, opening_balance, closing_balance,
			successes, warnings, errors, fatals, duplicates, created_at, sealed_at
		FROM batches
		WHERE id = $1
	`

	b, err := r.scanBatch(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, batch.ErrBatchNotFound{BatchID: id}
		}
		r.logger.Error("Failed to get batch", "batch_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	return b, nil
}

// GetByTaskID retrieves paginated batches for a task, newest first
func (r *BatchRepository) GetByTaskID(ctx context.Context, taskID string, limit, offset int) ([]*batch.Batch, error) {
	query := `
		SELECT id, task_id, status, period_start, period_end, opening_balance, closing_balance,
			successes, warnings, errors, fatals, duplicates, created_at, sealed_at
		FROM batches
		WHERE task_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, taskID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to get batches", "task_id", taskID, "error", err)
		return nil, fmt.Errorf("failed to get batches: %w", err)
	}
	defer rows.Close()

	var batches []*batch.Batch
	for rows.Next() {
		b, err := r.scanBatch(rows)
		if err != nil {
			r.logger.Error("Failed to scan batch", "error", err)
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over batches", "error", err)
		return nil, fmt.Errorf("error iterating over batches: %w", err)
	}

	return batches, nil
}

func (r *BatchRepository) scanBatch(row pgx.Row) (*batch.Batch, error) {
	var b batch.Batch
	err := row.Scan(
		&b.ID,
		&b.TaskID,
		&b.Status,
		&b.PeriodStart,
		&b.PeriodEnd,
		&b.OpeningBalance,
		&b.ClosingBalance,
		&b.Successes,
		&b.Warnings,
		&b.Errors,
		&b.Fatals,
		&b.Duplicates,
		&b.CreatedAt,
		&b.SealedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
