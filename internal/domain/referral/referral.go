package referral

import (
	"errors"
	"time"
)

var ErrReferralNotFound = errors.New("referral record not found")

type RewardStatus string

const (
	RewardPending RewardStatus = "pending"
	RewardPaid    RewardStatus = "paid"
)

// Reward is one credit earned by a referrer for a referred user's first
// qualifying order. At most one reward exists per (referred user, order).
type Reward struct {
	ID             string       `json:"id"`
	OrderID        string       `json:"order_id"`
	ReferredUserID string       `json:"referred_user_id"`
	Amount         int64        `json:"amount"`
	Status         RewardStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
}

type Stats struct {
	TotalEarned int64 `json:"total_earned"`
	Conversions int   `json:"conversions"`
}

// Referral aggregates a referrer's earned rewards.
type Referral struct {
	ReferrerID string   `json:"referrer_id"`
	Rewards    []Reward `json:"rewards"`
	Stats      Stats    `json:"stats"`
}

// Buyer carries referral attribution state for a purchasing account.
// Credited flips exactly once, when the buyer's first order is attributed.
type Buyer struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	ReferredBy string `json:"referred_by,omitempty"`
	Credited   bool   `json:"referral_credited"`
}
