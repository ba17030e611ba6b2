package store

import (
	"sync"

	"github.com/pondbot/market/internal/domain"
)

// OrderStore is a thread-safe in-memory store for orders, with a
// primary index by order id and a secondary index by user id. Orders
// are never deleted; fill accounting mutates them in place under the
// per-item book lock.
type OrderStore struct {
	mu         sync.RWMutex
	orders     map[string]*domain.Order
	userOrders map[string][]*domain.Order // user_id → orders (append-only)
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:     make(map[string]*domain.Order),
		userOrders: make(map[string][]*domain.Order),
	}
}

// Upsert persists a new or updated order. First sight of an order id
// also appends it to the owner's secondary index.
func (s *OrderStore) Upsert(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.OrderID]; !exists {
		s.userOrders[o.UserID] = append(s.userOrders[o.UserID], o)
	}
	s.orders[o.OrderID] = o
}

// Get retrieves an order by ID. It returns domain.ErrOrderNotFound if
// the order does not exist.
func (s *OrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// ListByUser returns orders for a user in reverse chronological order
// (newest first). If status is non-nil, only orders matching that status
// are included. Pagination is 1-based. Returns the matching orders for
// the requested page and the total count of matching orders.
func (s *OrderStore) ListByUser(userID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.userOrders[userID]

	filtered := make([]*domain.Order, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if status != nil && all[i].Status != *status {
			continue
		}
		filtered = append(filtered, all[i])
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return filtered[start:end], total
}
