// Package stats derives per-item market statistics from the order book
// and the trade ledger. Statistics are pure projections: nothing here
// is independently authored, so every figure can be discarded and
// rebuilt at any time.
package stats

import (
	"time"

	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/engine"
	"github.com/pondbot/market/internal/store"
)

// Tracker computes last price, best bid/ask, and trailing volume for
// an item. Volume is recomputed over the trailing window on every
// refresh rather than incrementally decayed, so it can never drift.
type Tracker struct {
	trades *store.TradeLedger
	books  *engine.BookManager
	window time.Duration
}

// NewTracker creates a Tracker with the given trailing volume window.
func NewTracker(trades *store.TradeLedger, books *engine.BookManager, window time.Duration) *Tracker {
	return &Tracker{
		trades: trades,
		books:  books,
		window: window,
	}
}

// Refresh recomputes the item's statistics from the trade ledger and
// the order book. The facade calls this after every matching pass that
// produced at least one execution.
func (t *Tracker) Refresh(itemID string) *domain.MarketStatistics {
	now := time.Now()
	s := &domain.MarketStatistics{
		ItemID:      itemID,
		LastUpdated: now,
	}

	execs := t.trades.ByItem(itemID)
	if len(execs) > 0 {
		last := execs[len(execs)-1]
		s.LastPrice = &last.Price
	}

	// Walk backwards from the tail until executions fall outside the
	// trailing window.
	windowStart := now.Add(-t.window)
	for i := len(execs) - 1; i >= 0; i-- {
		if execs[i].ExecutedAt.Before(windowStart) {
			break
		}
		s.Volume24h += execs[i].Quantity
	}

	// Resting orders always have remaining quantity — filled orders
	// are removed from the book as part of the matching pass.
	book := t.books.GetOrCreate(itemID)
	book.RLock()
	if best, ok := book.BestBuy(); ok {
		price := best.Price
		s.HighestBid = &price
	}
	if best, ok := book.BestSell(); ok {
		price := best.Price
		s.LowestAsk = &price
	}
	book.RUnlock()

	return s
}

// Get returns the item's current statistics. Values are always derived
// fresh, so they match a recomputation by construction.
func (t *Tracker) Get(itemID string) *domain.MarketStatistics {
	return t.Refresh(itemID)
}
