package engine

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/pondbot/market/internal/domain"
)

// OrderBookEntry represents a single limit order resting on the book.
type OrderBookEntry struct {
	Price     int64
	CreatedAt time.Time
	OrderID   string
	Order     *domain.Order
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// buyLess defines ordering for the buy side: price descending, then
// created_at ascending, then order_id ascending. This means Min()
// returns the best bid (highest price, earliest time).
func buyLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// sellLess defines ordering for the sell side: price ascending, then
// created_at ascending, then order_id ascending. Min() returns the
// best ask (lowest price, earliest time).
func sellLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// OrderBook maintains the buy and sell sides for a single item using
// B-trees with a secondary index for O(log n) removal by order ID.
//
// The book mutex is the per-item serialization point: matching, cancels,
// and expiry all hold it for their entire pass, so two orders for the
// same item can never race for the same resting liquidity.
type OrderBook struct {
	itemID string
	mu     sync.RWMutex
	buys   *btree.BTreeG[OrderBookEntry]
	sells  *btree.BTreeG[OrderBookEntry]
	index  map[string]OrderBookEntry // order_id → entry
}

// NewOrderBook creates an order book for the given item.
func NewOrderBook(itemID string) *OrderBook {
	const degree = 32
	return &OrderBook{
		itemID: itemID,
		buys:   btree.NewG[OrderBookEntry](degree, buyLess),
		sells:  btree.NewG[OrderBookEntry](degree, sellLess),
		index:  make(map[string]OrderBookEntry),
	}
}

// RLock acquires the read lock on the order book.
func (ob *OrderBook) RLock() {
	ob.mu.RLock()
}

// RUnlock releases the read lock on the order book.
func (ob *OrderBook) RUnlock() {
	ob.mu.RUnlock()
}

// InsertBuy adds an entry to the buy side of the book.
func (ob *OrderBook) InsertBuy(entry OrderBookEntry) {
	ob.buys.ReplaceOrInsert(entry)
	ob.index[entry.OrderID] = entry
}

// InsertSell adds an entry to the sell side of the book.
func (ob *OrderBook) InsertSell(entry OrderBookEntry) {
	ob.sells.ReplaceOrInsert(entry)
	ob.index[entry.OrderID] = entry
}

// Remove deletes an order from the book by order ID using the
// secondary index. It tries both sides since the caller may not
// know which side the order is on.
func (ob *OrderBook) Remove(orderID string) {
	entry, ok := ob.index[orderID]
	if !ok {
		return
	}
	delete(ob.index, orderID)
	// Try both sides — Delete is a no-op if the entry isn't found.
	ob.buys.Delete(entry)
	ob.sells.Delete(entry)
}

// BestBuy returns the highest-priority buy (highest price, earliest time).
func (ob *OrderBook) BestBuy() (OrderBookEntry, bool) {
	return ob.buys.Min()
}

// BestSell returns the highest-priority sell (lowest price, earliest time).
func (ob *OrderBook) BestSell() (OrderBookEntry, bool) {
	return ob.sells.Min()
}

// TopBuys returns up to n aggregated price levels from the buy side,
// ordered by price descending.
func (ob *OrderBook) TopBuys(n int) []PriceLevel {
	return topLevels(ob.buys, n)
}

// TopSells returns up to n aggregated price levels from the sell side,
// ordered by price ascending.
func (ob *OrderBook) TopSells(n int) []PriceLevel {
	return topLevels(ob.sells, n)
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[OrderBookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry OrderBookEntry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += entry.Order.RemainingQuantity
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:         entry.Price,
			TotalQuantity: entry.Order.RemainingQuantity,
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// WalkSells iterates sells in priority order (lowest price first). The
// callback returns true to continue, false to stop.
func (ob *OrderBook) WalkSells(fn func(OrderBookEntry) bool) {
	ob.sells.Ascend(fn)
}

// WalkBuys iterates buys in priority order (highest price first). The
// callback returns true to continue, false to stop.
func (ob *OrderBook) WalkBuys(fn func(OrderBookEntry) bool) {
	ob.buys.Ascend(fn)
}

// BuyCount returns the number of individual buy orders on the book.
func (ob *OrderBook) BuyCount() int {
	return ob.buys.Len()
}

// SellCount returns the number of individual sell orders on the book.
func (ob *OrderBook) SellCount() int {
	return ob.sells.Len()
}

// BookManager is a thread-safe map of item id → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*OrderBook),
	}
}

// GetOrCreate returns the order book for the given item, creating one
// if it doesn't already exist.
func (bm *BookManager) GetOrCreate(itemID string) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[itemID]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = bm.books[itemID]; ok {
		return book
	}
	book = NewOrderBook(itemID)
	bm.books[itemID] = book
	return book
}
