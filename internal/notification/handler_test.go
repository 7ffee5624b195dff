package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace-orders/internal/domain/referral"
	"github.com/example/marketplace-orders/internal/infrastructure/kafka"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
)

type fakeSender struct {
	sent    []string // "to|subject"
	sendErr error
}

func (f *fakeSender) Send(to, subject, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, to+"|"+subject)
	return nil
}

func notificationMessage(t *testing.T, userID, subject string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(Notification{
		ID:      "n-1",
		UserID:  userID,
		Subject: subject,
		Message: "hello",
		SentAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(userID), Value: value}
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.SeedBuyer(&referral.Buyer{ID: "buyer-1", Email: "buyer@example.com"})
	sender := &fakeSender{}
	h := NewHandler(sender, mem)

	require.NoError(t, h.HandleEvent(ctx, notificationMessage(t, "buyer-1", "Order placed")))
	assert.Equal(t, []string{"buyer@example.com|Order placed"}, sender.sent)
}

func TestHandleEventMalformedAcknowledged(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	h := NewHandler(sender, store.NewMemory())

	// Malformed payloads are dropped, not redelivered forever
	err := h.HandleEvent(ctx, kafka.Message{Value: []byte("{not json")})
	assert.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestHandleEventUnknownRecipientAcknowledged(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	h := NewHandler(sender, store.NewMemory())

	err := h.HandleEvent(ctx, notificationMessage(t, "nobody", "Order placed"))
	assert.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestHandleEventSendFailureRedelivered(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.SeedBuyer(&referral.Buyer{ID: "buyer-1", Email: "buyer@example.com"})
	sender := &fakeSender{sendErr: errors.New("smtp unavailable")}
	h := NewHandler(sender, mem)

	// A delivery failure must surface so the consumer leaves the offset
	// uncommitted
	err := h.HandleEvent(ctx, notificationMessage(t, "buyer-1", "Order placed"))
	assert.Error(t, err)
}
