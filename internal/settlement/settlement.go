// Package settlement pays sellers their net proceeds once an order is both
// paid and delivered. Transfer failures are notified and retried out of
// band; they never touch order state.
package settlement

import (
	"context"
	"fmt"
	"log"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/infrastructure/metrics"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/ledger"
	"github.com/example/marketplace-orders/internal/notification"
	"github.com/example/marketplace-orders/internal/provider"
)

type Service struct {
	sellers        store.SellerStore
	providers      map[string]provider.PaymentProvider
	sink           notification.Sink
	commissionRate int64
	metrics        *metrics.Metrics
}

func NewService(
	sellers store.SellerStore,
	providers map[string]provider.PaymentProvider,
	sink notification.Sink,
	commissionRatePercent int64,
	m *metrics.Metrics,
) *Service {
	return &Service{
		sellers:        sellers,
		providers:      providers,
		sink:           sink,
		commissionRate: commissionRatePercent,
		metrics:        m,
	}
}

// Settle requests one payout per seller represented in the order. Failures
// are isolated per seller: a failed transfer or lookup for one seller never
// blocks the others.
func (s *Service) Settle(ctx context.Context, o *order.Order) error {
	if o.PaymentStatus != order.PaymentPaid || o.Status != order.StatusDelivered {
		return fmt.Errorf("order %s is not settleable (%s/%s)", o.ID, o.Status, o.PaymentStatus)
	}

	prov, ok := s.providers[o.Payment.Provider]
	if !ok {
		return fmt.Errorf("no payout capability for provider %q on order %s", o.Payment.Provider, o.ID)
	}

	for _, sellerID := range o.Sellers() {
		s.settleSeller(ctx, prov, o, sellerID)
	}
	return nil
}

func (s *Service) settleSeller(ctx context.Context, prov provider.PaymentProvider, o *order.Order, sellerID string) {
	net, commission := ledger.SellerSettlement(o.Items, sellerID, s.commissionRate)
	if net <= 0 {
		log.Printf("[Settlement] Skipping seller %s on order %s: nothing to pay out", sellerID, o.ID)
		return
	}

	sl, err := s.sellers.GetSeller(ctx, sellerID)
	if err != nil {
		log.Printf("[Settlement] Cannot load seller %s for order %s: %v", sellerID, o.ID, err)
		return
	}
	if !sl.PayoutActive || sl.PayoutAccount == "" {
		log.Printf("[Settlement] Seller %s has no active payout destination, skipping", sellerID)
		s.notify(ctx, sellerID, "Payout on hold",
			fmt.Sprintf("Your proceeds of %d for order %s are on hold until your payout account is activated.", net, o.ID))
		return
	}

	err = prov.Transfer(ctx, provider.TransferRequest{
		OrderID:            o.ID,
		SellerID:           sellerID,
		DestinationAccount: sl.PayoutAccount,
		Amount:             net,
		Currency:           o.Payment.Currency,
		CommissionWithheld: commission,
	})
	if err != nil {
		s.metrics.PayoutsFailed.Inc()
		log.Printf("[Settlement] Transfer to seller %s for order %s failed: %v", sellerID, o.ID, err)
		s.notify(ctx, sellerID, "Payout failed",
			fmt.Sprintf("The payout of %d for order %s could not be processed. It will be retried.", net, o.ID))
		return
	}

	s.metrics.PayoutsRequested.Inc()
	log.Printf("[Settlement] Requested payout of %d to seller %s for order %s (commission withheld %d)",
		net, sellerID, o.ID, commission)
	s.notify(ctx, sellerID, "Payout on the way",
		fmt.Sprintf("A payout of %d for order %s has been requested to your account.", net, o.ID))
}

func (s *Service) notify(ctx context.Context, userID, subject, message string) {
	if err := s.sink.Notify(ctx, userID, subject, message); err != nil {
		log.Printf("[Settlement] Failed to notify %s: %v", userID, err)
	}
}
