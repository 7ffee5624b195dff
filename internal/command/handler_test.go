package command

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/product"
	domref "github.com/example/marketplace-orders/internal/domain/referral"
	"github.com/example/marketplace-orders/internal/infrastructure/metrics"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/infrastructure/store/mocks"
	"github.com/example/marketplace-orders/internal/inventory"
	"github.com/example/marketplace-orders/internal/notification"
	"github.com/example/marketplace-orders/internal/referral"
)

type fakeSettler struct {
	calls []string
}

func (f *fakeSettler) Settle(ctx context.Context, o *order.Order) error {
	f.calls = append(f.calls, o.ID)
	return nil
}

type fixture struct {
	handler *Handler
	mem     *store.Memory
	orders  *mocks.MockOrderStore
	sink    *notification.Recorder
	settler *fakeSettler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	orders := mocks.NewMockOrderStore()
	sink := &notification.Recorder{}
	settler := &fakeSettler{}

	cfg := Config{TaxRatePercent: 10, ShippingFee: 500, FreeShippingThreshold: 5000}
	engine := referral.NewEngine(mem, sink, 5)
	guard := inventory.NewGuard(mem)
	m := metrics.New(prometheus.NewRegistry())
	h := NewHandler(orders, mem, guard, sink, engine, settler, cfg, m)

	mem.SeedProduct(&product.Product{ID: "prod-1", SellerID: "seller-1", Price: 1000, Stock: 5, Active: true})
	mem.SeedProduct(&product.Product{ID: "prod-2", SellerID: "seller-2", Price: 3000, Stock: 2, Active: true})

	return &fixture{handler: h, mem: mem, orders: orders, sink: sink, settler: settler}
}

func validPlaceOrder() PlaceOrder {
	return PlaceOrder{
		BuyerID: "buyer-1",
		Items:   []CartItem{{ProductID: "prod-1", Quantity: 2}},
		ShippingAddress: order.Address{
			Name:   "Pat Doe",
			Street: "1 Main St",
			City:   "Springfield",
		},
		PaymentMethod: "cardgate",
	}
}

func TestPlaceOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.handler.PlaceOrder(ctx, validPlaceOrder())
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	require.Len(t, o.Items, 1)
	assert.Equal(t, int64(1000), o.Items[0].UnitPrice)
	assert.Equal(t, "seller-1", o.Items[0].SellerID)

	// 2 x 1000 items, below the free-shipping threshold, 10% tax on items
	assert.Equal(t, int64(2000), o.Amounts.ItemsTotal)
	assert.Equal(t, int64(500), o.Amounts.ShippingTotal)
	assert.Equal(t, int64(200), o.Amounts.TaxTotal)
	assert.Equal(t, int64(2700), o.Amounts.GrandTotal)

	p, err := f.mem.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	assert.Len(t, f.sink.SentTo("buyer-1"), 1)
	assert.Len(t, f.sink.SentTo("seller-1"), 1)
}

func TestPlaceOrderFreeShipping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cmd := validPlaceOrder()
	cmd.Items = []CartItem{{ProductID: "prod-2", Quantity: 2}} // 6000 >= 5000

	o, err := f.handler.PlaceOrder(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), o.Amounts.ItemsTotal)
	assert.Zero(t, o.Amounts.ShippingTotal)
	assert.Equal(t, int64(600), o.Amounts.TaxTotal)
	assert.Equal(t, int64(6600), o.Amounts.GrandTotal)
}

func TestPlaceOrderPriceSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.handler.PlaceOrder(ctx, validPlaceOrder())
	require.NoError(t, err)

	// A later price change never affects the existing order
	f.mem.SeedProduct(&product.Product{ID: "prod-1", SellerID: "seller-1", Price: 9999, Stock: 3, Active: true})

	got, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Items[0].UnitPrice)
	assert.Equal(t, int64(2000), got.Amounts.ItemsTotal)
}

func TestPlaceOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name    string
		mutate  func(*PlaceOrder)
		wantErr error
	}{
		{"empty cart", func(c *PlaceOrder) { c.Items = nil }, ErrEmptyCart},
		{"zero quantity", func(c *PlaceOrder) { c.Items[0].Quantity = 0 }, ErrInvalidQuantity},
		{"negative quantity", func(c *PlaceOrder) { c.Items[0].Quantity = -1 }, ErrInvalidQuantity},
		{"missing address", func(c *PlaceOrder) { c.ShippingAddress.City = "" }, ErrIncompleteAddress},
		{"missing payment method", func(c *PlaceOrder) { c.PaymentMethod = "" }, ErrMissingPaymentMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := validPlaceOrder()
			tt.mutate(&cmd)
			_, err := f.handler.PlaceOrder(ctx, cmd)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// No stock was touched by any rejected command
	p, err := f.mem.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cmd := validPlaceOrder()
	cmd.Items = []CartItem{{ProductID: "no-such-product", Quantity: 1}}

	_, err := f.handler.PlaceOrder(ctx, cmd)
	assert.ErrorIs(t, err, product.ErrProductNotFound)
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cmd := validPlaceOrder()
	cmd.Items = []CartItem{{ProductID: "prod-1", Quantity: 6}} // only 5 in stock

	_, err := f.handler.PlaceOrder(ctx, cmd)
	assert.ErrorIs(t, err, product.ErrInsufficientStock)

	p, err := f.mem.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	assert.Empty(t, f.orders.SaveCalls)
}

func TestPlaceOrderRollsBackEarlierLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cmd := validPlaceOrder()
	cmd.Items = []CartItem{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-2", Quantity: 3}, // only 2 in stock
	}

	_, err := f.handler.PlaceOrder(ctx, cmd)
	require.ErrorIs(t, err, product.ErrInsufficientStock)

	// The first line's reservation was released
	p1, err := f.mem.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 5, p1.Stock)
	p2, err := f.mem.GetProduct(ctx, "prod-2")
	require.NoError(t, err)
	assert.Equal(t, 2, p2.Stock)
}

func TestPlaceOrderPersistFailureReleasesStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.orders.SaveErr = store.ErrDuplicateOrder

	_, err := f.handler.PlaceOrder(ctx, validPlaceOrder())
	require.Error(t, err)

	p, err := f.mem.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	assert.Zero(t, f.sink.Count())
}

func TestPlaceOrderCreditsReferrerOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mem.SeedBuyer(&domref.Buyer{ID: "buyer-1", ReferredBy: "referrer-1"})

	first, err := f.handler.PlaceOrder(ctx, validPlaceOrder())
	require.NoError(t, err)

	cmd := validPlaceOrder()
	cmd.Items = []CartItem{{ProductID: "prod-1", Quantity: 1}}
	_, err = f.handler.PlaceOrder(ctx, cmd)
	require.NoError(t, err)

	ref, err := f.mem.GetReferral(ctx, "referrer-1")
	require.NoError(t, err)
	require.Len(t, ref.Rewards, 1)
	assert.Equal(t, first.ID, ref.Rewards[0].OrderID)
	// 5% of the 2700 grand total, rounded half up
	assert.Equal(t, int64(135), ref.Rewards[0].Amount)
	assert.Equal(t, 1, ref.Stats.Conversions)
	assert.Len(t, f.sink.SentTo("referrer-1"), 1)
}

func TestAdvanceOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.handler.PlaceOrder(ctx, validPlaceOrder())
	require.NoError(t, err)

	o, err = f.handler.AdvanceOrder(ctx, AdvanceOrder{OrderID: o.ID})
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, o.Status)

	o, err = f.handler.AdvanceOrder(ctx, AdvanceOrder{OrderID: o.ID})
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, o.Status)
	assert.Empty(t, f.settler.calls)
}

func TestAdvanceOrderToDeliveredSettlesPaidOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.handler.PlaceOrder(ctx, validPlaceOrder())
	require.NoError(t, err)

	// Mark paid as the reconciler would
	stored, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	stored.ApplyCaptureSucceeded("cardgate", "ch_1", stored.Amounts.GrandTotal, "USD", time.Now())
	require.NoError(t, f.orders.Update(ctx, stored))

	_, err = f.handler.AdvanceOrder(ctx, AdvanceOrder{OrderID: o.ID}) // shipped
	require.NoError(t, err)
	delivered, err := f.handler.AdvanceOrder(ctx, AdvanceOrder{OrderID: o.ID})
	require.NoError(t, err)

	assert.Equal(t, order.StatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)
	assert.Equal(t, []string{o.ID}, f.settler.calls)
}

func TestAdvanceOrderNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.handler.AdvanceOrder(ctx, AdvanceOrder{OrderID: "missing"})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestCancelOrderReleasesStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.handler.PlaceOrder(ctx, validPlaceOrder())
	require.NoError(t, err)

	p, err := f.mem.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	require.Equal(t, 3, p.Stock)

	cancelled, err := f.handler.CancelOrder(ctx, CancelOrder{OrderID: o.ID, Reason: "changed my mind"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	p, err = f.mem.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}

func TestCancelShippedOrderRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.handler.PlaceOrder(ctx, validPlaceOrder())
	require.NoError(t, err)
	_, err = f.handler.AdvanceOrder(ctx, AdvanceOrder{OrderID: o.ID})
	require.NoError(t, err)
	_, err = f.handler.AdvanceOrder(ctx, AdvanceOrder{OrderID: o.ID})
	require.NoError(t, err)

	_, err = f.handler.CancelOrder(ctx, CancelOrder{OrderID: o.ID, Reason: "too late"})
	assert.ErrorIs(t, err, order.ErrInvalidStatus)

	// Stock stays reserved for the in-flight shipment
	p, err := f.mem.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
}
