package product

import (
	"errors"
	"time"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrProductInactive   = errors.New("product is not available")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product is the catalog record referenced by orders. Price always equals
// BasePrice + Commission; the commission was derived from the platform rate
// in force when the price was set, not at order time.
type Product struct {
	ID         string    `json:"id"`
	SellerID   string    `json:"seller_id"`
	Name       string    `json:"name"`
	BasePrice  int64     `json:"base_price"`
	Commission int64     `json:"commission"`
	Price      int64     `json:"price"`
	Stock      int       `json:"stock"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
