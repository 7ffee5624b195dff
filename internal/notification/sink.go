// Package notification defines the sink contract the order core depends on.
// Delivery is asynchronous and best-effort; the core only relies on enqueue.
package notification

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/example/marketplace-orders/internal/infrastructure/kafka"
	"github.com/google/uuid"
)

// Notification is the message shape published to the notifications topic
// and consumed by the notifier.
type Notification struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	Subject string    `json:"subject"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

type Sink interface {
	Notify(ctx context.Context, userID, subject, message string) error
}

// KafkaSink enqueues notifications on a Kafka topic, keyed by user so one
// user's notifications stay ordered.
type KafkaSink struct {
	producer *kafka.Producer
}

func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Notify(ctx context.Context, userID, subject, message string) error {
	n := Notification{
		ID:      uuid.New().String(),
		UserID:  userID,
		Subject: subject,
		Message: message,
		SentAt:  time.Now().UTC(),
	}
	return s.producer.Publish(ctx, userID, n)
}

// LogSink is the fallback when no broker is configured (local development).
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, userID, subject, message string) error {
	log.Printf("[Notify] to=%s subject=%q %s", userID, subject, message)
	return nil
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu   sync.Mutex
	Sent []Notification

	NotifyErr error
}

func (r *Recorder) Notify(ctx context.Context, userID, subject, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.NotifyErr != nil {
		return r.NotifyErr
	}
	r.Sent = append(r.Sent, Notification{UserID: userID, Subject: subject, Message: message})
	return nil
}

// SentTo returns the notifications recorded for one user.
func (r *Recorder) SentTo(userID string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.Sent {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// Count returns the total number of recorded notifications.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}
