// Package producers contains the Kafka producers used by the dispatcher.
// Documents are already rendered to the external ledger's wire format when
// they reach this package; producers only move bytes.
package producers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paystream-reconciler/internal/config"
	"github.com/segmentio/kafka-go"
)

// BatchDocumentProducer publishes rendered batch documents to the document topic
type BatchDocumentProducer struct {
	logger *slog.Logger
	writer KafkaWriter // Interface for testability
	topic  string
}

// NewBatchDocumentProducer creates the producer and ensures the topic exists
func NewBatchDocumentProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*BatchDocumentProducer, error) {
	if cfg.DocumentTopic == "" {
		return nil, fmt.Errorf("kafka document topic is not configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for document producer: %w", err)
	}
	defer conn.Close()

	err = createKafkaTopicIfNotExists(conn, cfg.DocumentTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure document topic %s exists: %w", cfg.DocumentTopic, err)
	}

	// Synchronous writes: a document marked PUBLISHED must actually have
	// been acknowledged by the broker.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.DocumentTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.MaxWait,
	}

	return &BatchDocumentProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.DocumentTopic,
	}, nil
}

// Publish sends one rendered batch document, keyed by batch id so the topic
// compacts to the latest rendering per batch
func (p *BatchDocumentProducer) Publish(ctx context.Context, key string, payload []byte, contentType string) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(contentType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish batch document",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish batch document to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published batch document",
		"topic", p.topic,
		"key", key,
		"bytes", len(payload),
	)
	return nil
}

func (p *BatchDocumentProducer) Close() error {
	p.logger.Info("Closing batch document producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
