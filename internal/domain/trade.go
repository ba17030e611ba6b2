package domain

import "time"

// TradeExecution records a single matched pairing between a buy and a
// sell order. Executions are immutable: created exactly once per match,
// never updated or deleted. Price is always the resting order's price.
type TradeExecution struct {
	ExecutionID string
	BuyOrderID  string
	SellOrderID string
	BuyerID     string
	SellerID    string
	ItemID      string
	Price       int64 // coins per unit
	Quantity    int64
	ExecutedAt  time.Time
}
