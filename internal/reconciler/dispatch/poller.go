// Package dispatch delivers sealed batch documents downstream. Documents are
// written to the dispatch table in the sealing transaction; the poller picks
// up pending rows, publishes them to Kafka, archives the batch postings for
// audit lookups and only then marks the row published. A crash between any
// two steps re-delivers on the next cycle, so consumers must be idempotent
// on batch id.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paystream-reconciler/internal/config"
	"github.com/paystream-reconciler/internal/domain/archive"
	"github.com/paystream-reconciler/internal/domain/document"
	"github.com/paystream-reconciler/internal/platform/messaging/producers"
	"github.com/paystream-reconciler/internal/reconciler/export"
)

// Poller periodically publishes pending batch documents
type Poller struct {
	documents document.Repository
	archives  archive.Repository
	publisher producers.DocumentPublisher
	dlq       producers.DeadLetterPublisher
	cfg       *config.DispatchConfig
	logger    *slog.Logger
}

// NewPoller creates a dispatcher. The DLQ publisher may be nil when no dead
// letter topic is configured; exhausted documents are then only marked failed.
func NewPoller(
	documents document.Repository,
	archives archive.Repository,
	publisher producers.DocumentPublisher,
	dlq producers.DeadLetterPublisher,
	cfg *config.DispatchConfig,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		documents: documents,
		archives:  archives,
		publisher: publisher,
		dlq:       dlq,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run polls until the context is cancelled
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Starting document dispatcher", "interval", p.cfg.PollingInterval)
	ticker := time.NewTicker(p.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping document dispatcher")
			return
		case <-ticker.C:
			if err := p.DispatchPending(ctx); err != nil {
				p.logger.Error("Dispatch cycle failed", "error", err)
			}
		}
	}
}

// DispatchPending processes one poll cycle
func (p *Poller) DispatchPending(ctx context.Context) error {
	docs, err := p.documents.GetPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending documents: %w", err)
	}

	for _, doc := range docs {
		if err := p.dispatch(ctx, doc); err != nil {
			p.logger.Error("Failed to dispatch document",
				"document_id", doc.ID, "batch_id", doc.BatchID, "error", err)
		}
	}
	return nil
}

// dispatch publishes one document, archives its postings and marks it
// published. Publish failures count against the retry budget; an exhausted
// document goes to the DLQ and is marked failed.
func (p *Poller) dispatch(ctx context.Context, doc *document.Document) error {
	if err := p.documents.IncrementAttempts(ctx, doc.ID); err != nil {
		return err
	}
	doc.IncrementAttempts()

	if err := p.publisher.Publish(ctx, doc.BatchID.String(), doc.Payload, doc.ContentType); err != nil {
		if doc.Attempts >= p.cfg.MaxRetryAttempts {
			return p.exhaust(ctx, doc, err)
		}
		return fmt.Errorf("publish attempt %d/%d failed: %w", doc.Attempts, p.cfg.MaxRetryAttempts, err)
	}

	if err := p.archivePostings(ctx, doc); err != nil {
		// Document stays pending; the archive upsert makes the redo safe.
		return fmt.Errorf("failed to archive postings: %w", err)
	}

	if err := p.documents.UpdateStatus(ctx, doc.ID, document.StatusPublished); err != nil {
		return err
	}
	p.logger.Info("Dispatched batch document", "document_id", doc.ID, "batch_id", doc.BatchID)
	return nil
}

func (p *Poller) exhaust(ctx context.Context, doc *document.Document, cause error) error {
	p.logger.Error("Document exhausted its retry budget",
		"document_id", doc.ID, "batch_id", doc.BatchID, "attempts", doc.Attempts, "error", cause)
	if p.dlq != nil {
		if err := p.dlq.PublishToDLQ(ctx, doc.BatchID.String(), doc.Payload, cause.Error()); err != nil {
			p.logger.Error("Failed to publish to DLQ", "document_id", doc.ID, "error", err)
		}
	}
	return p.documents.UpdateStatus(ctx, doc.ID, document.StatusFailedToPublish)
}

// archivePostings decodes the dispatched document back into postings and
// upserts them into the audit archive
func (p *Poller) archivePostings(ctx context.Context, doc *document.Document) error {
	ledger, err := export.Parse(doc.Payload)
	if err != nil {
		return err
	}

	archived := make([]*archive.ArchivedPosting, 0, len(ledger.Transactions))
	for _, tx := range ledger.Transactions {
		postingID, err := uuid.Parse(tx.ID)
		if err != nil {
			return fmt.Errorf("invalid posting id %q in document %d: %w", tx.ID, doc.ID, err)
		}
		date, err := time.Parse("2006-01-02", tx.Date)
		if err != nil {
			return fmt.Errorf("invalid posting date %q in document %d: %w", tx.Date, doc.ID, err)
		}

		ap := &archive.ArchivedPosting{
			PostingID:   postingID,
			BatchID:     doc.BatchID,
			TaskID:      doc.TaskID,
			Date:        date,
			Description: tx.Description,
			References:  tx.References,
			ArchivedAt:  time.Now().UTC(),
		}
		for _, line := range tx.Lines {
			al := archive.ArchivedLine{
				Account:     line.Account,
				Amount:      line.Amount,
				Description: line.Description,
			}
			if line.Foreign != nil {
				al.ForeignAmount = line.Foreign.Value
				al.ForeignCurrency = line.Foreign.Currency
				al.Rate = line.Foreign.Rate
			}
			ap.Lines = append(ap.Lines, al)
		}
		archived = append(archived, ap)
	}

	if len(archived) == 0 {
		return nil
	}
	return p.archives.CreateAll(ctx, archived)
}
