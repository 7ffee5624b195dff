// Package ledger holds the money math shared by order creation, refunds and
// seller payouts. All amounts are int64 minor currency units. Every percentage
// in the system goes through PercentOf so rounding is identical everywhere.
package ledger

import "github.com/example/marketplace-orders/internal/domain/order"

// PercentOf returns amount * ratePercent / 100, rounded half-up.
func PercentOf(amount, ratePercent int64) int64 {
	return (amount*ratePercent + 50) / 100
}

// PriceWithCommission computes the listed price and platform commission for a
// seller's base price.
func PriceWithCommission(basePrice, commissionRatePercent int64) (price, commission int64) {
	commission = PercentOf(basePrice, commissionRatePercent)
	return basePrice + commission, commission
}

// SellerGross sums unit price times quantity over one seller's lines in an order.
func SellerGross(items []order.LineItem, sellerID string) int64 {
	var gross int64
	for _, item := range items {
		if item.SellerID == sellerID {
			gross += item.UnitPrice * int64(item.Quantity)
		}
	}
	return gross
}

// SellerSettlement computes the net amount owed to a seller for one order:
// the seller's gross minus the platform commission, using the same rounding
// as PriceWithCommission to avoid penny drift between creation and payout.
func SellerSettlement(items []order.LineItem, sellerID string, commissionRatePercent int64) (net, commission int64) {
	gross := SellerGross(items, sellerID)
	commission = PercentOf(gross, commissionRatePercent)
	return gross - commission, commission
}
