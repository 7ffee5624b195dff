package seller

import "errors"

var ErrSellerNotFound = errors.New("seller not found")

// Seller holds the payout-relevant view of a marketplace seller. Transfers
// are only attempted against a fully activated payout account.
type Seller struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	PayoutAccount string `json:"payout_account"`
	PayoutActive  bool   `json:"payout_active"`
}
