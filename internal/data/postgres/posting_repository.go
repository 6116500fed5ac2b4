package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paystream-reconciler/internal/domain/posting"
	"github.com/paystream-reconciler/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

// PostingRepository implements the posting.Repository interface for PostgreSQL
type PostingRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewPostingRepository creates a new PostgreSQL posting repository
func NewPostingRepository(logger *slog.Logger, db *persistence.PostgresDB) posting.Repository {
	return &PostingRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so posting creation is
// atomic with the batch seal
func (r *PostingRepository) WithTx(tx pgx.Tx) posting.Repository {
	return &PostingRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// CreateAll stores the postings accepted into a batch, lines included.
// Only ever called inside the seal transaction.
func (r *PostingRepository) CreateAll(ctx context.Context, batchID uuid.UUID, postings []*posting.Posting) error {
	postingQuery := `
		INSERT INTO postings (id, batch_id, posting_date, description, reference_ids)
		VALUES ($1, $2, $3, $4, $5)
	`
	lineQuery := `
		INSERT INTO posting_lines (posting_id, line_no, account, amount, foreign_amount, foreign_currency, rate, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, p := range postings {
		_, err := r.querier.Exec(ctx, postingQuery, p.ID, batchID, p.Date, p.Description, p.References)
		if err != nil {
			r.logger.Error("Failed to create posting", "posting_id", p.ID.String(), "error", err)
			return fmt.Errorf("failed to create posting: %w", err)
		}

		for i, line := range p.Lines {
			var foreignCurrency *string
			if line.ForeignCurrency != "" {
				foreignCurrency = &line.ForeignCurrency
			}
			_, err := r.querier.Exec(ctx, lineQuery,
				p.ID,
				i,
				line.Account,
				line.Amount,
				line.ForeignAmount,
				foreignCurrency,
				line.Rate,
				line.Description,
			)
			if err != nil {
				r.logger.Error("Failed to create posting line", "posting_id", p.ID.String(), "line_no", i, "error", err)
				return fmt.Errorf("failed to create posting line: %w", err)
			}
		}
	}

	return nil
}

// GetByBatchID retrieves a batch's postings with their lines in emit order
func (r *PostingRepository) GetByBatchID(ctx context.Context, batchID uuid.UUID) ([]*posting.Posting, error) {
	postingQuery := `
		SELECT id, posting_date, description, reference_ids
		FROM postings
		WHERE batch_id = $1
		ORDER BY posting_date ASC, id ASC
	`

	rows, err := r.querier.Query(ctx, postingQuery, batchID)
	if err != nil {
		r.logger.Error("Failed to get postings", "batch_id", batchID.String(), "error", err)
		return nil, fmt.Errorf("failed to get postings: %w", err)
	}
	defer rows.Close()

	var postings []*posting.Posting
	for rows.Next() {
		var p posting.Posting
		if err := rows.Scan(&p.ID, &p.Date, &p.Description, &p.References); err != nil {
			r.logger.Error("Failed to scan posting", "error", err)
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		postings = append(postings, &p)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over postings", "error", err)
		return nil, fmt.Errorf("error iterating over postings: %w", err)
	}

	for _, p := range postings {
		lines, err := r.getLines(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Lines = lines
	}

	return postings, nil
}

func (r *PostingRepository) getLines(ctx context.Context, postingID uuid.UUID) ([]posting.Line, error) {
	lineQuery := `
		SELECT account, amount, foreign_amount, foreign_currency, rate, description
		FROM posting_lines
		WHERE posting_id = $1
		ORDER BY line_no ASC
	`

	rows, err := r.querier.Query(ctx, lineQuery, postingID)
	if err != nil {
		r.logger.Error("Failed to get posting lines", "posting_id", postingID.String(), "error", err)
		return nil, fmt.Errorf("failed to get posting lines: %w", err)
	}
	defer rows.Close()

	var lines []posting.Line
	for rows.Next() {
		var line posting.Line
		var foreignAmount, rate *decimal.Decimal
		var foreignCurrency *string
		if err := rows.Scan(&line.Account, &line.Amount, &foreignAmount, &foreignCurrency, &rate, &line.Description); err != nil {
			r.logger.Error("Failed to scan posting line", "posting_id", postingID.String(), "error", err)
			return nil, fmt.Errorf("failed to scan posting line: %w", err)
		}
		line.ForeignAmount = foreignAmount
		line.Rate = rate
		if foreignCurrency != nil {
			line.ForeignCurrency = *foreignCurrency
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over posting lines: %w", err)
	}

	return lines, nil
}
