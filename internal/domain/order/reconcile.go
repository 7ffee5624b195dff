package order

import (
	"fmt"
	"time"
)

// EffectKind classifies a side effect produced by a state transition.
type EffectKind string

const (
	EffectNotifyBuyer  EffectKind = "notify_buyer"
	EffectNotifySeller EffectKind = "notify_seller"
	EffectSettle       EffectKind = "settle"
)

// Effect is a side effect the caller must dispatch after the mutated order
// has been durably saved. Transitions return effects instead of firing
// notifications inline so persistence stays decoupled from delivery.
type Effect struct {
	Kind    EffectKind
	UserID  string
	Subject string
	Message string
}

func notifyBuyer(o *Order, subject, format string, args ...any) Effect {
	return Effect{
		Kind:    EffectNotifyBuyer,
		UserID:  o.BuyerID,
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
	}
}

func notifySellers(o *Order, subject, format string, args ...any) []Effect {
	var effects []Effect
	for _, sellerID := range o.Sellers() {
		effects = append(effects, Effect{
			Kind:    EffectNotifySeller,
			UserID:  sellerID,
			Subject: subject,
			Message: fmt.Sprintf(format, args...),
		})
	}
	return effects
}

// ApplyCaptureSucceeded records a successful payment capture. Already-paid
// and refunded orders are left untouched, which makes redelivered capture
// events a no-op. If delivery tracking outran the capture, the returned
// effects include a settlement trigger.
func (o *Order) ApplyCaptureSucceeded(provider, chargeID string, amount int64, currency string, at time.Time) ([]Effect, bool) {
	if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded {
		return nil, false
	}

	o.PaymentStatus = PaymentPaid
	o.Payment.Provider = provider
	o.Payment.ChargeID = chargeID
	o.Payment.Amount = amount
	o.Payment.Currency = currency
	if o.Payment.PaidAt == nil {
		t := at
		o.Payment.PaidAt = &t
	}
	if o.Status == StatusPending {
		o.Status = StatusProcessing
	}

	effects := []Effect{notifyBuyer(o, "Payment confirmed",
		"Payment for order %s was received. Total charged: %d %s.", o.ID, amount, currency)}
	effects = append(effects, notifySellers(o, "Order paid",
		"Order %s has been paid. Please prepare the items for shipment.", o.ID)...)
	if o.Status == StatusDelivered {
		effects = append(effects, Effect{Kind: EffectSettle})
	}
	return effects, true
}

// ApplyCaptureFailed records a failed capture attempt. A failure notice for
// an order that is already paid or refunded is stale and ignored.
func (o *Order) ApplyCaptureFailed(reason string) ([]Effect, bool) {
	if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded {
		return nil, false
	}
	if o.PaymentStatus == PaymentFailed && o.Payment.FailureReason == reason {
		return nil, false
	}

	o.PaymentStatus = PaymentFailed
	o.Payment.FailureReason = reason

	return []Effect{notifyBuyer(o, "Payment failed",
		"Payment for order %s failed: %s. Please try again with a different payment method.", o.ID, reason)}, true
}

// ApplyCaptureRefunded records a refund. Money reconciliation takes priority
// over fulfillment state, so the order is forced to cancelled even when it
// was already delivered.
func (o *Order) ApplyCaptureRefunded(amount int64, at time.Time) ([]Effect, bool) {
	if o.PaymentStatus == PaymentRefunded {
		return nil, false
	}

	o.PaymentStatus = PaymentRefunded
	o.Status = StatusCancelled
	o.Payment.RefundAmount = amount
	if o.Payment.RefundedAt == nil {
		t := at
		o.Payment.RefundedAt = &t
	}
	if o.CancelledAt == nil {
		t := at
		o.CancelledAt = &t
	}

	return []Effect{notifyBuyer(o, "Order refunded",
		"Order %s was refunded (%d). The order has been cancelled.", o.ID, amount)}, true
}

// ApplyCheckoutApproved attaches the provider-side order reference without
// touching the payment status. Purely correlation-building.
func (o *Order) ApplyCheckoutApproved(providerOrderID string) ([]Effect, bool) {
	if o.Payment.ProviderOrderID == providerOrderID {
		return nil, false
	}
	o.Payment.ProviderOrderID = providerOrderID
	return nil, true
}

// ApplyCapturePending confirms the pending payment state. Terminal payment
// states are never regressed.
func (o *Order) ApplyCapturePending() ([]Effect, bool) {
	if o.paymentTerminal() {
		return nil, false
	}
	o.PaymentStatus = PaymentPending
	return nil, false
}

// ApplyCaptureCancelled records an abandoned or voided payment attempt.
func (o *Order) ApplyCaptureCancelled() ([]Effect, bool) {
	if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded || o.PaymentStatus == PaymentCancelled {
		return nil, false
	}

	o.PaymentStatus = PaymentCancelled

	return []Effect{notifyBuyer(o, "Payment cancelled",
		"The payment attempt for order %s was cancelled.", o.ID)}, true
}
