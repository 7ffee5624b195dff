package mocks

import (
	"context"
	"sync"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
)

// MockOrderStore wraps the in-memory order store with call recording and
// injectable errors for testing.
type MockOrderStore struct {
	mu sync.Mutex

	inner *store.Memory

	SaveCalls   []string // order IDs passed to Save
	UpdateCalls []string // order IDs passed to Update
	SaveErr     error
	UpdateErr   error
}

func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{inner: store.NewMemory()}
}

func (m *MockOrderStore) Save(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	m.SaveCalls = append(m.SaveCalls, o.ID)
	err := m.SaveErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.inner.Save(ctx, o)
}

func (m *MockOrderStore) Update(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	m.UpdateCalls = append(m.UpdateCalls, o.ID)
	err := m.UpdateErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.inner.Update(ctx, o)
}

func (m *MockOrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return m.inner.Get(ctx, id)
}

func (m *MockOrderStore) GetByChargeID(ctx context.Context, chargeID string) (*order.Order, error) {
	return m.inner.GetByChargeID(ctx, chargeID)
}

func (m *MockOrderStore) ListByBuyer(ctx context.Context, buyerID string) ([]*order.Order, error) {
	return m.inner.ListByBuyer(ctx, buyerID)
}

func (m *MockOrderStore) ListBySeller(ctx context.Context, sellerID string) ([]*order.Order, error) {
	return m.inner.ListBySeller(ctx, sellerID)
}
