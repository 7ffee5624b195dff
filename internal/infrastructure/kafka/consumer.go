package kafka

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is one notification delivery handed to a Handler.
type Message struct {
	Key   []byte
	Value []byte
}

// Handler processes one message. A non-nil error leaves the offset
// uncommitted, so the message is delivered again.
type Handler func(ctx context.Context, msg Message) error

// Consumer reads the notifications topic with at-least-once delivery.
// Offsets are committed explicitly, only after the handler succeeds, so a
// failed email send is retried instead of lost.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return &Consumer{reader: reader}
}

// Consume fetches and handles messages until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Kafka] Fetch failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		if err := handler(ctx, Message{Key: msg.Key, Value: msg.Value}); err != nil {
			log.Printf("[Kafka] Handler failed at offset %d, leaving uncommitted: %v", msg.Offset, err)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Printf("[Kafka] Commit failed at offset %d: %v", msg.Offset, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
