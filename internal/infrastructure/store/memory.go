package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/domain/referral"
	"github.com/example/marketplace-orders/internal/domain/seller"
)

var ErrDuplicateOrder = errors.New("order already exists")

// Memory is an in-process store backing all repository interfaces. Used in
// development and tests. A single mutex serializes stock mutations, which
// makes ReserveStock a true check-then-decrement.
type Memory struct {
	mu        sync.RWMutex
	orders    map[string]*order.Order
	byCharge  map[string]string // chargeID -> orderID
	products  map[string]*product.Product
	buyers    map[string]*referral.Buyer
	referrals map[string]*referral.Referral
	sellers   map[string]*seller.Seller
	processed map[string]bool // provider + "/" + eventID
}

func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[string]*order.Order),
		byCharge:  make(map[string]string),
		products:  make(map[string]*product.Product),
		buyers:    make(map[string]*referral.Buyer),
		referrals: make(map[string]*referral.Referral),
		sellers:   make(map[string]*seller.Seller),
		processed: make(map[string]bool),
	}
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = append([]order.LineItem(nil), o.Items...)
	return &c
}

// Orders

func (m *Memory) Save(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.ID]; exists {
		return ErrDuplicateOrder
	}
	m.orders[o.ID] = cloneOrder(o)
	if o.Payment.ChargeID != "" {
		m.byCharge[o.Payment.ChargeID] = o.ID
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, exists := m.orders[o.ID]
	if !exists {
		return order.ErrOrderNotFound
	}
	if prev.Payment.ChargeID != "" && prev.Payment.ChargeID != o.Payment.ChargeID {
		delete(m.byCharge, prev.Payment.ChargeID)
	}
	m.orders[o.ID] = cloneOrder(o)
	if o.Payment.ChargeID != "" {
		m.byCharge[o.Payment.ChargeID] = o.ID
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *Memory) GetByChargeID(ctx context.Context, chargeID string) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCharge[chargeID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *Memory) ListByBuyer(ctx context.Context, buyerID string) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*order.Order
	for _, o := range m.orders {
		if o.BuyerID == buyerID {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (m *Memory) ListBySeller(ctx context.Context, sellerID string) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*order.Order
	for _, o := range m.orders {
		for _, item := range o.Items {
			if item.SellerID == sellerID {
				out = append(out, cloneOrder(o))
				break
			}
		}
	}
	return out, nil
}

// Products

func (m *Memory) SeedProduct(p *product.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.products[p.ID] = &c
}

func (m *Memory) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	c := *p
	return &c, nil
}

func (m *Memory) ReserveStock(ctx context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return product.ErrProductNotFound
	}
	if !p.Active {
		return product.ErrProductInactive
	}
	if p.Stock < qty {
		return fmt.Errorf("%w: only %d left of product %s", product.ErrInsufficientStock, p.Stock, id)
	}
	p.Stock -= qty
	return nil
}

func (m *Memory) ReleaseStock(ctx context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return product.ErrProductNotFound
	}
	p.Stock += qty
	return nil
}

// Referrals

func (m *Memory) SeedBuyer(b *referral.Buyer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *b
	m.buyers[b.ID] = &c
}

func (m *Memory) ReferrerOf(ctx context.Context, buyerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buyers[buyerID]
	if !ok {
		return "", nil
	}
	return b.ReferredBy, nil
}

func (m *Memory) ClaimFirstOrderCredit(ctx context.Context, buyerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buyers[buyerID]
	if !ok {
		return false, nil
	}
	if b.Credited {
		return false, nil
	}
	b.Credited = true
	return true, nil
}

func (m *Memory) AddReward(ctx context.Context, referrerID string, reward referral.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.referrals[referrerID]
	if !ok {
		ref = &referral.Referral{ReferrerID: referrerID}
		m.referrals[referrerID] = ref
	}
	ref.Rewards = append(ref.Rewards, reward)
	ref.Stats.TotalEarned += reward.Amount
	ref.Stats.Conversions++
	return nil
}

func (m *Memory) GetReferral(ctx context.Context, referrerID string) (*referral.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.referrals[referrerID]
	if !ok {
		return nil, referral.ErrReferralNotFound
	}
	c := *ref
	c.Rewards = append([]referral.Reward(nil), ref.Rewards...)
	return &c, nil
}

// Sellers

func (m *Memory) SeedSeller(s *seller.Seller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.sellers[s.ID] = &c
}

func (m *Memory) GetSeller(ctx context.Context, id string) (*seller.Seller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sellers[id]
	if !ok {
		return nil, seller.ErrSellerNotFound
	}
	c := *s
	return &c, nil
}

// Processed webhook events

func (m *Memory) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := provider + "/" + eventID
	if m.processed[key] {
		return false, nil
	}
	m.processed[key] = true
	return true, nil
}

func (m *Memory) Forget(ctx context.Context, provider, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processed, provider+"/"+eventID)
	return nil
}

// Directory

func (m *Memory) UserEmail(ctx context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.buyers[userID]; ok && b.Email != "" {
		return b.Email, nil
	}
	if s, ok := m.sellers[userID]; ok && s.Email != "" {
		return s.Email, nil
	}
	return "", fmt.Errorf("no email on record for user %s", userID)
}
