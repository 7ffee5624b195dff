package store

import (
	"context"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/domain/referral"
	"github.com/example/marketplace-orders/internal/domain/seller"
)

// OrderStore persists order aggregates. Orders are never deleted;
// cancellation is a terminal state, not a removal.
type OrderStore interface {
	Save(ctx context.Context, o *order.Order) error
	Update(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, id string) (*order.Order, error)
	// GetByChargeID locates an order through the provider charge reference.
	// Refund events usually carry the charge id, not the order id.
	GetByChargeID(ctx context.Context, chargeID string) (*order.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]*order.Order, error)
	ListBySeller(ctx context.Context, sellerID string) ([]*order.Order, error)
}

// ProductStore exposes catalog reads and the stock mutation primitives.
// ReserveStock is a single logical check-then-decrement: the product must
// exist, be active, and have at least qty in stock, or nothing changes.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*product.Product, error)
	ReserveStock(ctx context.Context, id string, qty int) error
	ReleaseStock(ctx context.Context, id string, qty int) error
}

// ReferralStore persists referral attribution state.
type ReferralStore interface {
	// ReferrerOf returns the referrer of a buyer, or "" when the buyer was
	// not referred.
	ReferrerOf(ctx context.Context, buyerID string) (string, error)
	// ClaimFirstOrderCredit atomically flips the buyer's referral-credited
	// flag. It returns true exactly once per buyer.
	ClaimFirstOrderCredit(ctx context.Context, buyerID string) (bool, error)
	AddReward(ctx context.Context, referrerID string, reward referral.Reward) error
	GetReferral(ctx context.Context, referrerID string) (*referral.Referral, error)
}

// SellerStore exposes seller payout destinations.
type SellerStore interface {
	GetSeller(ctx context.Context, id string) (*seller.Seller, error)
}

// ProcessedEventStore deduplicates webhook deliveries per provider event id.
type ProcessedEventStore interface {
	// MarkProcessed records the event and reports whether this was the first
	// time it was seen.
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
	// Forget removes the dedupe record so a redelivery can be applied after
	// a failed persistence attempt.
	Forget(ctx context.Context, provider, eventID string) error
}

// Directory resolves a user id (buyer or seller) to an email address for
// the notifier.
type Directory interface {
	UserEmail(ctx context.Context, userID string) (string, error)
}
