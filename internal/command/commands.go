package command

import "github.com/example/marketplace-orders/internal/domain/order"

// CartItem is one requested line of a checkout.
type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// PlaceOrder turns a cart into a durable order.
type PlaceOrder struct {
	BuyerID         string        `json:"-"`
	Items           []CartItem    `json:"items"`
	ShippingAddress order.Address `json:"shipping_address"`
	PaymentMethod   string        `json:"payment_method"`
	Notes           string        `json:"notes,omitempty"`
}

// AdvanceOrder moves an order one fulfillment step forward.
type AdvanceOrder struct {
	OrderID string `json:"order_id"`
}

// CancelOrder cancels an order and releases its reserved stock.
type CancelOrder struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
