// Package inventory guards product stock during order creation. The atomic
// check-then-decrement lives in the store; the guard adds the multi-line
// reservation loop with compensating rollback.
package inventory

import (
	"context"
	"log"

	"github.com/example/marketplace-orders/internal/infrastructure/store"
)

type Reservation struct {
	ProductID string
	Quantity  int
}

type Guard struct {
	products store.ProductStore
}

func NewGuard(products store.ProductStore) *Guard {
	return &Guard{products: products}
}

// ReserveAll reserves stock for every line, in order. If any reservation
// fails, the lines already reserved in this call are released before the
// error is returned, so a failed order never holds stock.
func (g *Guard) ReserveAll(ctx context.Context, reservations []Reservation) error {
	for i, r := range reservations {
		if err := g.products.ReserveStock(ctx, r.ProductID, r.Quantity); err != nil {
			g.ReleaseAll(ctx, reservations[:i])
			return err
		}
	}
	return nil
}

// ReleaseAll returns previously reserved stock. Release failures are logged
// and skipped; a partially failed rollback must still release the rest.
func (g *Guard) ReleaseAll(ctx context.Context, reservations []Reservation) {
	for _, r := range reservations {
		if err := g.products.ReleaseStock(ctx, r.ProductID, r.Quantity); err != nil {
			log.Printf("[Inventory] Failed to release %d of product %s: %v", r.Quantity, r.ProductID, err)
		}
	}
}
