// Package referral credits a referrer when the user they referred places
// their first order. The exactly-once guarantee rests on an atomic claim of
// a buyer-level credited flag, not on recounting completed orders.
package referral

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/referral"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/ledger"
	"github.com/example/marketplace-orders/internal/notification"
	"github.com/google/uuid"
)

type Engine struct {
	referrals  store.ReferralStore
	sink       notification.Sink
	rewardRate int64 // percent of the order grand total
}

func NewEngine(referrals store.ReferralStore, sink notification.Sink, rewardRatePercent int64) *Engine {
	return &Engine{
		referrals:  referrals,
		sink:       sink,
		rewardRate: rewardRatePercent,
	}
}

// Evaluate runs right after an order is created. It credits the buyer's
// referrer once, on the buyer's first order, and is a no-op on every later
// call for the same buyer.
func (e *Engine) Evaluate(ctx context.Context, o *order.Order) error {
	referrerID, err := e.referrals.ReferrerOf(ctx, o.BuyerID)
	if err != nil {
		return fmt.Errorf("failed to look up referrer of %s: %w", o.BuyerID, err)
	}
	if referrerID == "" {
		return nil
	}

	first, err := e.referrals.ClaimFirstOrderCredit(ctx, o.BuyerID)
	if err != nil {
		return fmt.Errorf("failed to claim first-order credit for %s: %w", o.BuyerID, err)
	}
	if !first {
		return nil
	}

	reward := referral.Reward{
		ID:             uuid.New().String(),
		OrderID:        o.ID,
		ReferredUserID: o.BuyerID,
		Amount:         ledger.PercentOf(o.Amounts.GrandTotal, e.rewardRate),
		Status:         referral.RewardPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.referrals.AddReward(ctx, referrerID, reward); err != nil {
		return fmt.Errorf("failed to record reward for referrer %s: %w", referrerID, err)
	}

	log.Printf("[Referral] Credited %d to referrer %s for order %s (referred user %s)",
		reward.Amount, referrerID, o.ID, o.BuyerID)

	if err := e.sink.Notify(ctx, referrerID, "Referral reward earned",
		fmt.Sprintf("You earned %d because someone you referred placed their first order.", reward.Amount)); err != nil {
		log.Printf("[Referral] Failed to notify referrer %s: %v", referrerID, err)
	}
	return nil
}
