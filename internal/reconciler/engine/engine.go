// Package engine orchestrates one reconciliation run per task: parse the
// export, re-pair conversion legs, classify, book, filter against the
// idempotency index, and seal the batch. The seal is atomic: postings, index
// entries and the rendered dispatch document commit in one transaction with
// the batch status flip, so a rerun either sees all of a batch or none of it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paystream-reconciler/internal/config"
	"github.com/paystream-reconciler/internal/domain/batch"
	"github.com/paystream-reconciler/internal/domain/bookedref"
	"github.com/paystream-reconciler/internal/domain/document"
	"github.com/paystream-reconciler/internal/domain/posting"
	"github.com/paystream-reconciler/internal/domain/record"
	"github.com/paystream-reconciler/internal/reconciler/booking"
	"github.com/paystream-reconciler/internal/reconciler/classify"
	"github.com/paystream-reconciler/internal/reconciler/export"
	"github.com/paystream-reconciler/internal/reconciler/grouper"
	"github.com/paystream-reconciler/internal/reconciler/reader"
	"github.com/shopspring/decimal"
)

// ErrEmptyExport indicates an export that parsed to zero records; no batch
// is opened for it
var ErrEmptyExport = errors.New("export contains no parseable records")

// TxRunner runs a function inside one database transaction
type TxRunner interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Engine runs reconciliation tasks against the persistent booking state
type Engine struct {
	tx        TxRunner
	batches   batch.Repository
	postings  posting.Repository
	booked    bookedref.Repository
	documents document.Repository
	reader    *reader.Reader
	grouper   *grouper.Grouper
	logger    *slog.Logger
}

// New creates an engine wired to the given repositories
func New(
	tx TxRunner,
	batches batch.Repository,
	postings posting.Repository,
	booked bookedref.Repository,
	documents document.Repository,
	rd *reader.Reader,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		tx:        tx,
		batches:   batches,
		postings:  postings,
		booked:    booked,
		documents: documents,
		reader:    rd,
		grouper:   grouper.New(logger),
		logger:    logger,
	}
}

// Run executes one task end to end, reading the export from the task's
// configured input path
func (e *Engine) Run(ctx context.Context, task *config.Task) (*batch.Batch, error) {
	f, err := os.Open(task.InputPath)
	if err != nil {
		return nil, fmt.Errorf("task %s: failed to open export: %w", task.ID, err)
	}
	defer f.Close()
	return e.RunFrom(ctx, task, f)
}

// RunFrom executes one task against an already opened export source
func (e *Engine) RunFrom(ctx context.Context, task *config.Task, src io.Reader) (*batch.Batch, error) {
	chain, err := classify.NewChain(task)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", task.ID, err)
	}
	gen, err := booking.NewGenerator(task, e.logger)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", task.ID, err)
	}

	records, parseErrs := e.reader.ReadAll(src)
	if len(records) == 0 {
		return nil, fmt.Errorf("task %s: %w", task.ID, ErrEmptyExport)
	}

	grouped := e.grouper.Group(records)

	start, end := periodOf(records)
	b := batch.Open(task.ID, start, end, openingBalance(records, task.BaseCurrency))
	if err := e.batches.Open(ctx, b); err != nil {
		return nil, fmt.Errorf("task %s: %w", task.ID, err)
	}
	e.logger.Info("Opened batch", "task_id", task.ID, "batch_id", b.ID, "records", len(records))

	for range parseErrs {
		b.RecordError()
	}
	for range grouped.Warnings {
		b.RecordWarning()
	}

	alreadyBooked, err := e.booked.FilterBooked(ctx, referenceIDs(grouped.Records))
	if err != nil {
		e.abort(ctx, b)
		return b, fmt.Errorf("task %s: %w", task.ID, err)
	}

	postings, refs := e.book(b, task, chain, gen, grouped.Records, alreadyBooked)

	if err := e.seal(ctx, b, task, gen.ClosingBalance(), postings, refs); err != nil {
		e.abort(ctx, b)
		return b, fmt.Errorf("task %s: %w", task.ID, err)
	}

	e.logger.Info("Sealed batch",
		"task_id", task.ID,
		"batch_id", b.ID,
		"successes", b.Successes,
		"warnings", b.Warnings,
		"errors", b.Errors,
		"fatals", b.Fatals,
		"duplicates", b.Duplicates,
		"requires_review", b.RequiresReview())
	return b, nil
}

// book walks the grouped stream in row order, skipping records the
// idempotency index already holds while still advancing the running balance
// through them
func (e *Engine) book(
	b *batch.Batch,
	task *config.Task,
	chain *classify.Chain,
	gen *booking.Generator,
	grouped []record.Grouped,
	alreadyBooked map[string]*bookedref.BookedReference,
) ([]*posting.Posting, []*bookedref.BookedReference) {
	tctx := classify.Context{HomeCountry: task.HomeCountry, Accounts: task.Accounts}

	var postings []*posting.Posting
	var refs []*bookedref.BookedReference

	for _, g := range grouped {
		if ref := e.duplicateOf(g, alreadyBooked); ref != nil {
			b.RecordDuplicate()
			e.logger.Debug("Skipping already booked record",
				"reference_id", g.Record.ReferenceID, "booked_in_batch", ref.BatchID)
			if err := gen.Observe(g.Record); err != nil {
				b.RecordFatal()
				e.logger.Error("Balance mismatch on skipped record", "error", err)
			}
			continue
		}

		classified, err := chain.Classify(g, tctx)
		if err != nil {
			// Excluded from booking: no posting, no idempotency entry. The
			// running balance still advances past the record.
			b.RecordError()
			e.logger.Warn("Record not classified, excluded from booking",
				"reference_id", g.Record.ReferenceID, "error", err)
			if obsErr := gen.Observe(g.Record); obsErr != nil {
				b.RecordFatal()
				e.logger.Error("Balance mismatch on excluded record", "error", obsErr)
			}
			continue
		}

		p, err := gen.Generate(classified)
		if p == nil {
			b.RecordFatal()
			e.logger.Error("Record could not be booked",
				"reference_id", g.Record.ReferenceID, "error", err)
			continue
		}
		if err != nil {
			// Posting is sound but the stated balance disagreed.
			b.RecordFatal()
			e.logger.Error("Balance mismatch", "reference_id", g.Record.ReferenceID, "error", err)
		} else {
			b.RecordSuccess()
		}

		postings = append(postings, p)
		for _, referenceID := range p.References {
			refs = append(refs, bookedref.New(referenceID, b.ID, p.ID))
		}
	}
	return postings, refs
}

// duplicateOf reports whether the record (or either conversion leg) is
// already in the idempotency index
func (e *Engine) duplicateOf(g record.Grouped, booked map[string]*bookedref.BookedReference) *bookedref.BookedReference {
	if g.Group != nil {
		if ref, ok := booked[g.Group.From.ReferenceID]; ok {
			return ref
		}
	}
	if ref, ok := booked[g.Record.ReferenceID]; ok {
		return ref
	}
	return nil
}

// seal freezes the batch and commits it atomically with its postings, index
// entries and rendered dispatch document
func (e *Engine) seal(
	ctx context.Context,
	b *batch.Batch,
	task *config.Task,
	closing decimal.Decimal,
	postings []*posting.Posting,
	refs []*bookedref.BookedReference,
) error {
	if err := b.Seal(closing); err != nil {
		return err
	}

	payload, err := export.Serialize(b, task.Journal, postings)
	if err != nil {
		return err
	}
	doc := document.New(b.ID, task.ID, payload, export.ContentType)

	return e.tx.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := e.batches.WithTx(tx).Seal(ctx, b); err != nil {
			return err
		}
		if len(postings) > 0 {
			if err := e.postings.WithTx(tx).CreateAll(ctx, b.ID, postings); err != nil {
				return err
			}
			if err := e.booked.WithTx(tx).CreateAll(ctx, refs); err != nil {
				return err
			}
		}
		return e.documents.WithTx(tx).Create(ctx, doc)
	})
}

// abort releases the open-batch slot after a failed run
func (e *Engine) abort(ctx context.Context, b *batch.Batch) {
	b.Abort()
	if err := e.batches.Abort(ctx, b); err != nil {
		e.logger.Error("Failed to abort batch", "batch_id", b.ID, "error", err)
	}
}

// openingBalance derives the balance before the first base-currency record
func openingBalance(records []record.ProviderRecord, baseCurrency string) decimal.Decimal {
	for _, rec := range records {
		if rec.Currency == baseCurrency {
			return rec.Balance.Sub(rec.Net)
		}
	}
	return decimal.Zero
}

// periodOf returns the timestamp range the export covers
func periodOf(records []record.ProviderRecord) (time.Time, time.Time) {
	start, end := records[0].Timestamp, records[0].Timestamp
	for _, rec := range records[1:] {
		if rec.Timestamp.Before(start) {
			start = rec.Timestamp
		}
		if rec.Timestamp.After(end) {
			end = rec.Timestamp
		}
	}
	return start, end
}

// referenceIDs collects every reference id in the grouped stream, both
// conversion legs included
func referenceIDs(grouped []record.Grouped) []string {
	ids := make([]string, 0, len(grouped))
	for _, g := range grouped {
		ids = append(ids, g.Record.ReferenceID)
		if g.Group != nil {
			ids = append(ids, g.Group.From.ReferenceID)
		}
	}
	return ids
}
