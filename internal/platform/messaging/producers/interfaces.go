package producers

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// DocumentPublisher handles publishing rendered batch documents downstream
type DocumentPublisher interface {
	Publish(ctx context.Context, key string, payload []byte, contentType string) error
	Close() error
}

// DeadLetterPublisher handles publishing documents to a Dead Letter Queue
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalPayload []byte, reason string) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
