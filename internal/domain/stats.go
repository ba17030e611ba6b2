package domain

import "time"

// MarketStatistics holds the derived per-item market figures. The struct
// is a pure projection over the order book and the trade ledger; it is
// always safe to discard and recompute.
type MarketStatistics struct {
	ItemID      string
	LastPrice   *int64 // nil when the item has never traded
	HighestBid  *int64 // nil when no buy limit orders rest
	LowestAsk   *int64 // nil when no sell limit orders rest
	Volume24h   int64
	LastUpdated time.Time
}
