package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/marketplace-orders/internal/email"
	"github.com/example/marketplace-orders/internal/infrastructure/kafka"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
)

// EmailSender delivers one rendered message to one address.
type EmailSender interface {
	Send(to, subject, body string) error
}

// Handler consumes the notifications topic and delivers each message as an
// email. Runs in the notifier process.
type Handler struct {
	sender    EmailSender
	directory store.Directory
}

func NewHandler(sender EmailSender, directory store.Directory) *Handler {
	return &Handler{
		sender:    sender,
		directory: directory,
	}
}

// HandleEvent processes one message from the notifications topic. The error
// return follows the consumer's commit contract: nil acknowledges the
// message, non-nil leaves it for redelivery.
func (h *Handler) HandleEvent(ctx context.Context, msg kafka.Message) error {
	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		// A malformed message will never parse; acknowledge and drop it
		log.Printf("[Notifier] Dropping malformed notification: %v", err)
		return nil
	}

	to, err := h.directory.UserEmail(ctx, n.UserID)
	if err != nil {
		// No address on record is not retryable
		log.Printf("[Notifier] Cannot resolve recipient %s: %v", n.UserID, err)
		return nil
	}

	body := email.BuildNotificationBody(n.Subject, n.Message)
	if err := h.sender.Send(to, n.Subject, body); err != nil {
		log.Printf("[Notifier] Failed to send email to %s: %v", to, err)
		return err
	}

	log.Printf("[Notifier] Sent %q to %s", n.Subject, to)
	return nil
}
