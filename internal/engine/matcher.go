package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/store"
)

// Ledger is the asset ledger contract the engine settles against.
// Reserve and Release either fully succeed or leave state unchanged;
// Transfer settles out of already-reserved assets and fails only on an
// invariant violation.
type Ledger interface {
	Reserve(userID string, side domain.OrderSide, itemID string, price, qty int64) error
	Release(userID string, side domain.OrderSide, itemID string, price, qty int64) error
	ReserveFunds(userID string, amount int64) error
	ReleaseFunds(userID string, amount int64) error
	Transfer(buyerID, sellerID, itemID string, price, reservedPrice, qty int64) error
}

// QuotePriceLevel represents a single price level in a quote simulation.
type QuotePriceLevel struct {
	Price    int64
	Quantity int64
}

// QuoteResult holds the result of a market order simulation.
type QuoteResult struct {
	QuantityAvailable int64
	FullyFillable     bool
	EstimatedAvgPrice *int64 // nil when no liquidity
	EstimatedTotal    *int64 // nil when no liquidity
	PriceLevels       []QuotePriceLevel
}

// Matcher implements the matching engine for limit and market orders.
type Matcher struct {
	books  *BookManager
	ledger Ledger
	orders *store.OrderStore
	trades *store.TradeLedger
	items  *domain.ItemRegistry
	logger *slog.Logger
}

// NewMatcher creates a new Matcher with the given dependencies.
func NewMatcher(
	books *BookManager,
	ledger Ledger,
	orders *store.OrderStore,
	trades *store.TradeLedger,
	items *domain.ItemRegistry,
	logger *slog.Logger,
) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		books:  books,
		ledger: ledger,
		orders: orders,
		trades: trades,
		items:  items,
		logger: logger,
	}
}

// SubmitLimit processes an incoming limit order through the matching
// engine. It reserves the submitter's assets, runs the match loop
// against price-compatible resting orders on the opposite side, settles
// each pairing through the ledger, and rests any unfilled remainder on
// the book.
//
// The caller must provide an Order with UserID, Side, ItemID, Price,
// and Quantity set. The matcher assigns OrderID and CreatedAt and
// manages all status transitions.
//
// The per-item write lock is held for the entire matching pass.
func (m *Matcher) SubmitLimit(order *domain.Order) ([]*domain.TradeExecution, error) {
	book := m.books.GetOrCreate(order.ItemID)

	book.mu.Lock()
	defer book.mu.Unlock()

	// Reserve: coins for a buy, items for a sell. Fails with no side
	// effects on insufficient assets.
	if err := m.ledger.Reserve(order.UserID, order.Side, order.ItemID, order.Price, order.Quantity); err != nil {
		return nil, err
	}

	m.items.Register(order.ItemID)
	m.initOrder(order, domain.OrderTypeLimit)
	m.orders.Upsert(order)

	executions := m.matchLoop(book, order, true)

	// Rest the unfilled remainder. Market orders never reach here.
	if order.RemainingQuantity > 0 {
		book.insertResting(order)
	}

	return executions, nil
}

// SubmitMarket processes an incoming market order. Market orders have
// no price of their own: they execute at each resting order's price and
// use immediate-or-cancel semantics — whatever cannot be filled against
// the current book is discarded and its reservation released, never
// rested.
//
// For a market buy, the fillable cost is computed by walking the sell
// side under the lock, and exactly that amount is reserved. For a
// market sell, the full quantity of items is reserved up front.
//
// The per-item write lock is held for the entire matching pass.
func (m *Matcher) SubmitMarket(order *domain.Order) ([]*domain.TradeExecution, error) {
	book := m.books.GetOrCreate(order.ItemID)

	book.mu.Lock()
	defer book.mu.Unlock()

	var reservedCost int64
	if order.Side == domain.OrderSideBuy {
		// The book cannot change while we hold the lock, so the
		// simulated cost is exactly what the fills will consume.
		reservedCost = m.fillableCost(book, order.Quantity)
		if err := m.ledger.ReserveFunds(order.UserID, reservedCost); err != nil {
			return nil, err
		}
	} else {
		if err := m.ledger.Reserve(order.UserID, domain.OrderSideSell, order.ItemID, 0, order.Quantity); err != nil {
			return nil, err
		}
	}

	m.items.Register(order.ItemID)
	m.initOrder(order, domain.OrderTypeMarket)
	m.orders.Upsert(order)

	executions := m.matchLoop(book, order, false)

	// IOC: discard the remainder and release whatever part of the
	// reservation the fills did not consume.
	if order.Side == domain.OrderSideBuy {
		var consumed int64
		for _, e := range executions {
			consumed += e.Price * e.Quantity
		}
		if leftover := reservedCost - consumed; leftover > 0 {
			if err := m.ledger.ReleaseFunds(order.UserID, leftover); err != nil {
				m.logger.Error("failed to release market buy reservation",
					slog.String("order_id", order.OrderID),
					slog.Int64("leftover", leftover),
					slog.String("error", err.Error()))
			}
		}
	} else if order.RemainingQuantity > 0 {
		if err := m.ledger.Release(order.UserID, domain.OrderSideSell, order.ItemID, 0, order.RemainingQuantity); err != nil {
			m.logger.Error("failed to release market sell reservation",
				slog.String("order_id", order.OrderID),
				slog.Int64("quantity", order.RemainingQuantity),
				slog.String("error", err.Error()))
		}
	}

	if order.RemainingQuantity > 0 {
		order.CancelledQuantity = order.RemainingQuantity
		order.RemainingQuantity = 0
		if order.FilledQuantity == order.Quantity {
			order.Status = domain.OrderStatusFilled
		} else {
			order.Status = domain.OrderStatusCancelled
		}
	}

	return executions, nil
}

// initOrder assigns identity and zeroes the fill accounting.
func (m *Matcher) initOrder(order *domain.Order, typ domain.OrderType) {
	order.Type = typ
	order.OrderID = uuid.New().String()
	order.CreatedAt = time.Now()
	order.RemainingQuantity = order.Quantity
	order.FilledQuantity = 0
	order.CancelledQuantity = 0
	order.Status = domain.OrderStatusPending
	order.Executions = []*domain.TradeExecution{}
}

// matchLoop executes the incoming order against the opposite side of
// the book in price-time priority. limitPrices enables the price
// compatibility check for limit orders; market orders accept any price.
//
// Every pairing executes at the RESTING order's price. A failed ledger
// transfer skips the pairing without touching either order's fill
// accounting and moves on to the next candidate.
func (m *Matcher) matchLoop(book *OrderBook, order *domain.Order, limitPrices bool) []*domain.TradeExecution {
	executedAt := time.Now()
	var executions []*domain.TradeExecution
	var skipped map[string]bool

	for order.RemainingQuantity > 0 {
		entry, found := bestOpposing(book, order.Side, skipped)
		if !found {
			break
		}

		if limitPrices {
			if order.Side == domain.OrderSideBuy {
				if entry.Price > order.Price {
					break
				}
			} else {
				if entry.Price < order.Price {
					break
				}
			}
		}

		resting := entry.Order

		qty := order.RemainingQuantity
		if resting.RemainingQuantity < qty {
			qty = resting.RemainingQuantity
		}

		// The resting (older) order's price always wins.
		price := resting.Price

		var buyOrder, sellOrder *domain.Order
		if order.Side == domain.OrderSideBuy {
			buyOrder, sellOrder = order, resting
		} else {
			buyOrder, sellOrder = resting, order
		}

		// The buyer's coins were escrowed at the buy order's own
		// price; for a market buy that equals the execution price.
		reservedPrice := buyOrder.Price
		if buyOrder.Type == domain.OrderTypeMarket {
			reservedPrice = price
		}

		if err := m.ledger.Transfer(buyOrder.UserID, sellOrder.UserID, order.ItemID, price, reservedPrice, qty); err != nil {
			// Invariant violation on this pairing only: leave both
			// orders untouched and try the next candidate.
			m.logger.Error("transfer failed, skipping pairing",
				slog.String("item_id", order.ItemID),
				slog.String("buy_order_id", buyOrder.OrderID),
				slog.String("sell_order_id", sellOrder.OrderID),
				slog.Int64("price", price),
				slog.Int64("quantity", qty),
				slog.String("error", err.Error()))
			if skipped == nil {
				skipped = make(map[string]bool)
			}
			skipped[resting.OrderID] = true
			continue
		}

		order.RemainingQuantity -= qty
		order.FilledQuantity += qty
		resting.RemainingQuantity -= qty
		resting.FilledQuantity += qty

		order.Status = fillStatus(order)
		resting.Status = fillStatus(resting)

		exec := &domain.TradeExecution{
			ExecutionID: uuid.New().String(),
			BuyOrderID:  buyOrder.OrderID,
			SellOrderID: sellOrder.OrderID,
			BuyerID:     buyOrder.UserID,
			SellerID:    sellOrder.UserID,
			ItemID:      order.ItemID,
			Price:       price,
			Quantity:    qty,
			ExecutedAt:  executedAt,
		}

		order.Executions = append(order.Executions, exec)
		resting.Executions = append(resting.Executions, exec)
		executions = append(executions, exec)

		m.orders.Upsert(order)
		m.orders.Upsert(resting)

		if err := m.trades.Append(exec); err != nil {
			// The trade is settled; a journal write failure must not
			// unwind it.
			m.logger.Error("failed to journal execution",
				slog.String("execution_id", exec.ExecutionID),
				slog.String("error", err.Error()))
		}

		if resting.RemainingQuantity == 0 {
			book.Remove(resting.OrderID)
		}
	}

	return executions
}

// fillStatus derives the status from the fill accounting.
func fillStatus(o *domain.Order) domain.OrderStatus {
	if o.RemainingQuantity == 0 {
		return domain.OrderStatusFilled
	}
	return domain.OrderStatusPartiallyFilled
}

// bestOpposing returns the highest-priority resting order on the side
// opposite the incoming order, skipping orders that already failed a
// transfer this pass.
func bestOpposing(book *OrderBook, side domain.OrderSide, skipped map[string]bool) (OrderBookEntry, bool) {
	var result OrderBookEntry
	var found bool

	walk := book.WalkSells
	if side == domain.OrderSideSell {
		walk = book.WalkBuys
	}
	walk(func(entry OrderBookEntry) bool {
		if skipped[entry.OrderID] {
			return true
		}
		result = entry
		found = true
		return false
	})
	return result, found
}

// insertResting puts the unfilled remainder of a limit order on the book.
func (ob *OrderBook) insertResting(order *domain.Order) {
	entry := OrderBookEntry{
		Price:     order.Price,
		CreatedAt: order.CreatedAt,
		OrderID:   order.OrderID,
		Order:     order,
	}
	if order.Side == domain.OrderSideBuy {
		ob.InsertBuy(entry)
	} else {
		ob.InsertSell(entry)
	}
}

// fillableCost walks the sell side and sums the cost of filling up to
// qty units at resting prices. Caller must hold the book lock.
func (m *Matcher) fillableCost(book *OrderBook, qty int64) int64 {
	var cost int64
	remaining := qty
	book.WalkSells(func(entry OrderBookEntry) bool {
		if remaining <= 0 {
			return false
		}
		fill := remaining
		if entry.Order.RemainingQuantity < fill {
			fill = entry.Order.RemainingQuantity
		}
		cost += entry.Price * fill
		remaining -= fill
		return remaining > 0
	})
	return cost
}

// Cancel cancels a pending or partially filled order. It acquires the
// per-item write lock, re-validates the order status, removes the order
// from the book, updates order fields, and releases the reservation for
// exactly the unfilled portion.
//
// Returns ErrOrderNotFound if the order does not exist and
// ErrOrderNotCancellable if it is already terminal.
func (m *Matcher) Cancel(orderID string) (*domain.Order, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return nil, domain.ErrOrderNotFound
	}

	if order.Terminal() {
		return nil, domain.ErrOrderNotCancellable
	}

	book := m.books.GetOrCreate(order.ItemID)
	book.mu.Lock()
	defer book.mu.Unlock()

	// Re-check under lock (a concurrent match may have filled it).
	if order.Terminal() {
		return nil, domain.ErrOrderNotCancellable
	}

	book.Remove(order.OrderID)

	now := time.Now()
	order.CancelledQuantity = order.RemainingQuantity
	order.RemainingQuantity = 0
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	m.orders.Upsert(order)

	if err := m.ledger.Release(order.UserID, order.Side, order.ItemID, order.Price, order.CancelledQuantity); err != nil {
		m.logger.Error("failed to release cancelled order reservation",
			slog.String("order_id", order.OrderID),
			slog.String("error", err.Error()))
	}

	return order, nil
}

// SimulateMarket performs a read-only walk of the opposite side of the
// book to estimate the result of a market order without placing it.
func (m *Matcher) SimulateMarket(itemID string, side domain.OrderSide, quantity int64) *QuoteResult {
	book := m.books.GetOrCreate(itemID)

	book.mu.RLock()
	defer book.mu.RUnlock()

	result := &QuoteResult{
		PriceLevels: make([]QuotePriceLevel, 0),
	}

	remaining := quantity
	var totalCost int64

	walkFn := func(entry OrderBookEntry) bool {
		if remaining <= 0 {
			return false
		}
		fill := entry.Order.RemainingQuantity
		if fill > remaining {
			fill = remaining
		}
		totalCost += entry.Price * fill
		result.QuantityAvailable += fill
		remaining -= fill

		// Aggregate into price levels.
		if n := len(result.PriceLevels); n > 0 && result.PriceLevels[n-1].Price == entry.Price {
			result.PriceLevels[n-1].Quantity += fill
		} else {
			result.PriceLevels = append(result.PriceLevels, QuotePriceLevel{
				Price:    entry.Price,
				Quantity: fill,
			})
		}
		return true
	}

	if side == domain.OrderSideBuy {
		book.WalkSells(walkFn)
	} else {
		book.WalkBuys(walkFn)
	}

	if result.QuantityAvailable > 0 {
		avgPrice := totalCost / result.QuantityAvailable
		result.EstimatedAvgPrice = &avgPrice
		result.EstimatedTotal = &totalCost
	}
	result.FullyFillable = result.QuantityAvailable >= quantity

	return result
}
