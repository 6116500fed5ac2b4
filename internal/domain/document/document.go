// Package document defines the dispatch record for rendered batch documents.
// A document is written in the same transaction that seals its batch and is
// later picked up by the dispatcher for publishing, so a sealed batch can
// never lose its rendered output across a crash.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Status defines document publishing states
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusPublished       Status = "PUBLISHED"
	StatusFailedToPublish Status = "FAILED_TO_PUBLISH"
)

// Document stores the rendered ledger document for one sealed batch
type Document struct {
	ID            int64      `json:"id"`
	BatchID       uuid.UUID  `json:"batch_id"`
	TaskID        string     `json:"task_id"`
	Payload       []byte     `json:"payload"`
	ContentType   string     `json:"content_type"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// New creates a pending dispatch document for a sealed batch
func New(batchID uuid.UUID, taskID string, payload []byte, contentType string) *Document {
	return &Document{
		BatchID:     batchID,
		TaskID:      taskID,
		Payload:     payload,
		ContentType: contentType,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func (d *Document) IncrementAttempts() {
	d.Attempts++
	now := time.Now().UTC()
	d.LastAttemptAt = &now
}

func (d *Document) MarkPublished() {
	d.Status = StatusPublished
	now := time.Now().UTC()
	d.LastAttemptAt = &now
}

func (d *Document) MarkFailed() {
	d.Status = StatusFailedToPublish
	now := time.Now().UTC()
	d.LastAttemptAt = &now
}
