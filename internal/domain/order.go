package domain

import "time"

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderSide indicates whether an order buys or sells an item.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// Order represents a buy or sell instruction submitted by a player.
// Orders are never deleted; they only transition to a terminal status.
type Order struct {
	OrderID           string
	Type              OrderType
	UserID            string
	Side              OrderSide
	ItemID            string
	Price             int64 // coins per unit, 0 for market orders
	Quantity          int64
	FilledQuantity    int64
	RemainingQuantity int64
	CancelledQuantity int64
	Status            OrderStatus
	ExpiresAt         *time.Time // nil for market orders
	CreatedAt         time.Time
	CancelledAt       *time.Time
	ExpiredAt         *time.Time
	Executions        []*TradeExecution
}

// Terminal reports whether the order has reached a final state and can
// no longer be filled or cancelled.
func (o *Order) Terminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// AveragePrice computes the volume-weighted average execution price as
// sum(execution.price × execution.quantity) / filled_quantity using
// integer arithmetic. Returns (price, true) when executions exist, or
// (0, false) when nothing has been filled.
func (o *Order) AveragePrice() (int64, bool) {
	if len(o.Executions) == 0 || o.FilledQuantity == 0 {
		return 0, false
	}
	var total int64
	for _, e := range o.Executions {
		total += e.Price * e.Quantity
	}
	return total / o.FilledQuantity, true
}
