package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/store"
)

// EventPublisher is an interface for announcing expired orders from the
// engine layer without depending on the streaming layer directly.
type EventPublisher interface {
	PublishOrderExpired(order *domain.Order)
}

// ExpiryManager tracks resting limit orders sorted by expires_at and
// periodically expires orders whose expiration time has passed,
// releasing the remaining reservation. Expiry is a background concern:
// it never surfaces to callers.
type ExpiryManager struct {
	interval     time.Duration
	books        *BookManager
	orders       *store.OrderStore
	ledger       Ledger
	events       EventPublisher
	logger       *slog.Logger
	activeOrders []*domain.Order // sorted by expires_at ASC
	mu           sync.Mutex      // protects activeOrders slice
}

// NewExpiryManager creates a new ExpiryManager with the given dependencies.
func NewExpiryManager(
	interval time.Duration,
	books *BookManager,
	orders *store.OrderStore,
	ledger Ledger,
	events EventPublisher,
	logger *slog.Logger,
) *ExpiryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryManager{
		interval:     interval,
		books:        books,
		orders:       orders,
		ledger:       ledger,
		events:       events,
		logger:       logger,
		activeOrders: make([]*domain.Order, 0),
	}
}

// Add inserts an order into the sorted activeOrders slice, maintaining
// expires_at ASC order. Only call this for limit orders that rest on
// the book.
func (e *ExpiryManager) Add(order *domain.Order) {
	if order.ExpiresAt == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	expiresAt := *order.ExpiresAt
	// Binary search for the insertion point.
	idx := sort.Search(len(e.activeOrders), func(i int) bool {
		return e.activeOrders[i].ExpiresAt.After(expiresAt)
	})
	e.activeOrders = append(e.activeOrders, nil)
	copy(e.activeOrders[idx+1:], e.activeOrders[idx:])
	e.activeOrders[idx] = order
}

// Remove deletes an order from the activeOrders slice by order ID.
func (e *ExpiryManager) Remove(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range e.activeOrders {
		if o.OrderID == orderID {
			e.activeOrders = append(e.activeOrders[:i], e.activeOrders[i+1:]...)
			return
		}
	}
}

// Start launches a background goroutine that ticks at the configured
// interval and expires orders. It stops when ctx is cancelled.
func (e *ExpiryManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				e.tick(t)
			}
		}
	}()
}

// tick iterates from the front of the sorted activeOrders slice and
// expires all orders where expires_at <= now.
func (e *ExpiryManager) tick(now time.Time) {
	e.mu.Lock()
	var toExpire []*domain.Order
	cutoff := 0
	for cutoff < len(e.activeOrders) {
		o := e.activeOrders[cutoff]
		if o.ExpiresAt == nil || o.ExpiresAt.After(now) {
			break
		}
		toExpire = append(toExpire, o)
		cutoff++
	}
	if cutoff > 0 {
		e.activeOrders = e.activeOrders[cutoff:]
	}
	e.mu.Unlock()

	for _, order := range toExpire {
		e.expireOrder(order)
	}
}

// expireOrder handles the expiration of a single order: acquires the
// per-item write lock so an order can never expire mid-match, re-checks
// status, transitions to expired, removes it from the book, and
// releases the reservation for the unfilled portion.
func (e *ExpiryManager) expireOrder(order *domain.Order) {
	book := e.books.GetOrCreate(order.ItemID)
	book.mu.Lock()

	// Re-check status (may have been filled/cancelled since last check).
	if order.Terminal() {
		book.mu.Unlock()
		return
	}

	order.CancelledQuantity = order.RemainingQuantity
	order.RemainingQuantity = 0
	order.Status = domain.OrderStatusExpired
	order.ExpiredAt = order.ExpiresAt

	book.Remove(order.OrderID)
	e.orders.Upsert(order)

	if err := e.ledger.Release(order.UserID, order.Side, order.ItemID, order.Price, order.CancelledQuantity); err != nil {
		e.logger.Error("failed to release expired order reservation",
			slog.String("order_id", order.OrderID),
			slog.String("error", err.Error()))
	}

	// Release the per-item lock before publishing so slow subscribers
	// cannot block the matching engine.
	book.mu.Unlock()

	if e.events != nil {
		e.events.PublishOrderExpired(order)
	}
}

// ActiveOrderCount returns the number of orders currently tracked for
// expiration. Useful for testing.
func (e *ExpiryManager) ActiveOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeOrders)
}
