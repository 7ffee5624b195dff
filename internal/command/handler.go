package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/infrastructure/metrics"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/inventory"
	"github.com/example/marketplace-orders/internal/ledger"
	"github.com/example/marketplace-orders/internal/notification"
	"github.com/example/marketplace-orders/internal/reconcile"
	"github.com/example/marketplace-orders/internal/referral"
	"github.com/google/uuid"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrIncompleteAddress    = errors.New("shipping address must include name, street and city")
	ErrMissingPaymentMethod = errors.New("payment method is required")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
)

// Config holds the flat-rate pricing rules applied at order creation.
type Config struct {
	TaxRatePercent        int64
	ShippingFee           int64
	FreeShippingThreshold int64
}

type Handler struct {
	orders    store.OrderStore
	products  store.ProductStore
	guard     *inventory.Guard
	sink      notification.Sink
	referrals *referral.Engine
	settler   reconcile.Settler
	cfg       Config
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewHandler(
	orders store.OrderStore,
	products store.ProductStore,
	guard *inventory.Guard,
	sink notification.Sink,
	referrals *referral.Engine,
	settler reconcile.Settler,
	cfg Config,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		orders:    orders,
		products:  products,
		guard:     guard,
		sink:      sink,
		referrals: referrals,
		settler:   settler,
		cfg:       cfg,
		metrics:   m,
		now:       time.Now,
	}
}

func validatePlaceOrder(cmd PlaceOrder) error {
	if len(cmd.Items) == 0 {
		return ErrEmptyCart
	}
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: product %s", ErrInvalidQuantity, item.ProductID)
		}
	}
	addr := cmd.ShippingAddress
	if addr.Name == "" || addr.Street == "" || addr.City == "" {
		return ErrIncompleteAddress
	}
	if cmd.PaymentMethod == "" {
		return ErrMissingPaymentMethod
	}
	return nil
}

// PlaceOrder validates the cart against live product data, reserves stock
// for every line, snapshots prices, persists the order and fires the
// creation side effects. On any failure the operation leaves no trace: no
// partial orders, no stock held.
func (h *Handler) PlaceOrder(ctx context.Context, cmd PlaceOrder) (*order.Order, error) {
	if err := validatePlaceOrder(cmd); err != nil {
		return nil, err
	}

	// Snapshot each line from the live product. Prices captured here are
	// immutable for the life of the order.
	lines := make([]order.LineItem, 0, len(cmd.Items))
	reservations := make([]inventory.Reservation, 0, len(cmd.Items))
	var itemsTotal int64
	for _, item := range cmd.Items {
		p, err := h.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w (product %s)", err, item.ProductID)
		}
		lines = append(lines, order.LineItem{
			ProductID: p.ID,
			SellerID:  p.SellerID,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
		})
		reservations = append(reservations, inventory.Reservation{ProductID: p.ID, Quantity: item.Quantity})
		itemsTotal += p.Price * int64(item.Quantity)
	}

	// Reserve every line; the guard rolls back earlier lines on failure.
	if err := h.guard.ReserveAll(ctx, reservations); err != nil {
		return nil, err
	}

	shippingTotal := h.cfg.ShippingFee
	if itemsTotal >= h.cfg.FreeShippingThreshold {
		shippingTotal = 0
	}
	taxTotal := ledger.PercentOf(itemsTotal, h.cfg.TaxRatePercent)

	now := h.now().UTC()
	o := &order.Order{
		ID:            uuid.New().String(),
		BuyerID:       cmd.BuyerID,
		Items:         lines,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Amounts: order.Amounts{
			ItemsTotal:    itemsTotal,
			ShippingTotal: shippingTotal,
			TaxTotal:      taxTotal,
			GrandTotal:    itemsTotal + shippingTotal + taxTotal,
		},
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   cmd.PaymentMethod,
		Notes:           cmd.Notes,
		CreatedAt:       now,
	}

	if err := h.orders.Save(ctx, o); err != nil {
		h.guard.ReleaseAll(ctx, reservations)
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	h.metrics.OrdersCreated.Inc()
	log.Printf("[Checkout] Order %s created for buyer %s: total %d", o.ID, o.BuyerID, o.Amounts.GrandTotal)

	// Side effects are best-effort and independently failable; the order
	// stands regardless.
	h.notify(ctx, o.BuyerID, "Order placed",
		fmt.Sprintf("Your order %s was placed. Total: %d.", o.ID, o.Amounts.GrandTotal))
	for _, sellerID := range o.Sellers() {
		h.notify(ctx, sellerID, "New order",
			fmt.Sprintf("You have new items to fulfill in order %s.", o.ID))
	}
	if err := h.referrals.Evaluate(ctx, o); err != nil {
		log.Printf("[Checkout] Referral evaluation for order %s failed: %v", o.ID, err)
	}

	return o, nil
}

// AdvanceOrder moves the fulfillment status one step forward. Reaching
// delivered on a paid order triggers seller settlement.
func (h *Handler) AdvanceOrder(ctx context.Context, cmd AdvanceOrder) (*order.Order, error) {
	o, err := h.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	target, err := o.Advance(h.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := h.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	log.Printf("[Fulfillment] Order %s advanced to %s", o.ID, target)

	if target == order.StatusDelivered {
		h.notify(ctx, o.BuyerID, "Order delivered",
			fmt.Sprintf("Your order %s has been delivered.", o.ID))
		if o.PaymentStatus == order.PaymentPaid && h.settler != nil {
			if err := h.settler.Settle(ctx, o); err != nil {
				log.Printf("[Fulfillment] Settlement for order %s failed: %v", o.ID, err)
			}
		}
	}
	return o, nil
}

// CancelOrder cancels an order and returns its reserved stock. Allowed from
// pending and, exceptionally, processing.
func (h *Handler) CancelOrder(ctx context.Context, cmd CancelOrder) (*order.Order, error) {
	o, err := h.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	if err := o.Cancel(h.now().UTC()); err != nil {
		return nil, err
	}
	if err := h.orders.Update(ctx, o); err != nil {
		return nil, err
	}

	var reservations []inventory.Reservation
	for _, item := range o.Items {
		reservations = append(reservations, inventory.Reservation{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	h.guard.ReleaseAll(ctx, reservations)

	log.Printf("[Fulfillment] Order %s cancelled: %s", o.ID, cmd.Reason)
	h.notify(ctx, o.BuyerID, "Order cancelled",
		fmt.Sprintf("Your order %s was cancelled.", o.ID))
	return o, nil
}

func (h *Handler) notify(ctx context.Context, userID, subject, message string) {
	if err := h.sink.Notify(ctx, userID, subject, message); err != nil {
		log.Printf("[Checkout] Failed to notify %s: %v", userID, err)
	}
}
