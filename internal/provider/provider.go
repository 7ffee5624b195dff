// Package provider defines the payment-provider capability consumed by the
// webhook surface and the settlement trigger, plus the adapters for the two
// supported processors. Signature verification happens here, before any
// event reaches order state.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownEventType = errors.New("unrecognized provider event type")
)

// EventKind is the normalized classification of a provider webhook event.
type EventKind string

const (
	KindCaptureSucceeded EventKind = "capture_succeeded"
	KindCaptureFailed    EventKind = "capture_failed"
	KindCaptureRefunded  EventKind = "capture_refunded"
	KindCheckoutApproved EventKind = "checkout_approved"
	KindCapturePending   EventKind = "capture_pending"
	KindCaptureCancelled EventKind = "capture_cancelled"
)

// PaymentEvent is the provider-neutral event shape fed to the reconciler.
// OrderID may be empty for refund events, which correlate via ChargeID.
type PaymentEvent struct {
	ProviderEventID string
	Provider        string
	Kind            EventKind
	OrderID         string
	ChargeID        string
	ProviderOrderID string
	Amount          int64
	Currency        string
	OccurredAt      time.Time
	FailureReason   string
}

// TransferRequest asks a provider to pay out a seller's net proceeds.
// CommissionWithheld is carried for auditability on the provider side.
type TransferRequest struct {
	OrderID            string
	SellerID           string
	DestinationAccount string
	Amount             int64
	Currency           string
	CommissionWithheld int64
}

// PaymentProvider is the injected capability of one payment processor.
// Webhook verification and parsing are separated so the HTTP layer can
// reject forged deliveries before anything is normalized.
type PaymentProvider interface {
	Name() string
	VerifyWebhook(body []byte, header http.Header) error
	ParseWebhook(body []byte) (PaymentEvent, error)
	Transfer(ctx context.Context, req TransferRequest) error
}

// httpDoer lets tests substitute the provider API transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
