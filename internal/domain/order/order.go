package order

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrEmptyOrder      = errors.New("order must have at least one item")
	ErrInvalidStatus   = errors.New("invalid order status transition")
	ErrOrderDelivered  = errors.New("order is already delivered")
	ErrOrderCancelled  = errors.New("order is already cancelled")
)

// validTransitions defines allowed fulfillment state transitions
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {}, // terminal
	StatusCancelled:  {}, // terminal
}

// LineItem is an immutable snapshot of a product line captured at order time.
// Later price changes on the product never affect an existing order.
type LineItem struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

// Amounts is derived once at creation and never recomputed afterwards.
// Refunds record a separate RefundAmount on PaymentDetails.
type Amounts struct {
	ItemsTotal    int64 `json:"items_total"`
	ShippingTotal int64 `json:"shipping_total"`
	TaxTotal      int64 `json:"tax_total"`
	GrandTotal    int64 `json:"grand_total"`
}

// PaymentDetails is a fixed-shape correlation record. Fields are set by
// whichever provider event arrives and are never cleared by unrelated events.
type PaymentDetails struct {
	Provider        string     `json:"provider,omitempty"`
	ChargeID        string     `json:"charge_id,omitempty"`
	ProviderOrderID string     `json:"provider_order_id,omitempty"`
	Amount          int64      `json:"amount,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	RefundAmount    int64      `json:"refund_amount,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
}

type Order struct {
	ID              string         `json:"id"`
	BuyerID         string         `json:"buyer_id"`
	Items           []LineItem     `json:"items"`
	Status          Status         `json:"status"`
	PaymentStatus   PaymentStatus  `json:"payment_status"`
	Amounts         Amounts        `json:"amounts"`
	Payment         PaymentDetails `json:"payment"`
	ShippingAddress Address        `json:"shipping_address"`
	PaymentMethod   string         `json:"payment_method"`
	Notes           string         `json:"notes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
}

// CanTransitionTo checks if the fulfillment status can move to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch {
	case o.Status == StatusCancelled:
		return ErrOrderCancelled
	case o.Status == StatusDelivered:
		return ErrOrderDelivered
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
	}
}

// Sellers returns the distinct seller IDs represented in the line items,
// in first-appearance order.
func (o *Order) Sellers() []string {
	seen := make(map[string]bool)
	var sellers []string
	for _, item := range o.Items {
		if !seen[item.SellerID] {
			seen[item.SellerID] = true
			sellers = append(sellers, item.SellerID)
		}
	}
	return sellers
}

// Advance moves the fulfillment status one step forward
// (pending -> processing -> shipped -> delivered).
func (o *Order) Advance(now time.Time) (Status, error) {
	var target Status
	switch o.Status {
	case StatusPending:
		target = StatusProcessing
	case StatusProcessing:
		target = StatusShipped
	case StatusShipped:
		target = StatusDelivered
	default:
		return o.Status, o.transitionError(o.Status)
	}
	if !o.CanTransitionTo(target) {
		return o.Status, o.transitionError(target)
	}
	o.Status = target
	if target == StatusDelivered && o.DeliveredAt == nil {
		t := now
		o.DeliveredAt = &t
	}
	return target, nil
}

// Cancel moves the order to the terminal cancelled state. Cancellation is
// allowed from pending and, exceptionally, from processing.
func (o *Order) Cancel(now time.Time) error {
	if !o.CanTransitionTo(StatusCancelled) {
		return o.transitionError(StatusCancelled)
	}
	o.Status = StatusCancelled
	if o.CancelledAt == nil {
		t := now
		o.CancelledAt = &t
	}
	return nil
}

func (o *Order) paymentTerminal() bool {
	switch o.PaymentStatus {
	case PaymentPaid, PaymentRefunded, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}
