package service

import (
	"fmt"
	"time"

	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/engine"
	"github.com/pondbot/market/internal/ledger"
	"github.com/pondbot/market/internal/stats"
	"github.com/pondbot/market/internal/store"
)

// ValidOrderStatuses lists all valid order status values for filtering.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPending:         true,
	domain.OrderStatusPartiallyFilled: true,
	domain.OrderStatusFilled:          true,
	domain.OrderStatusCancelled:       true,
	domain.OrderStatusExpired:         true,
}

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	Type      domain.OrderType
	UserID    string
	Side      domain.OrderSide
	ItemID    string
	Price     *int64     // required for limit, must be nil for market
	Quantity  int64
	ExpiresAt *time.Time // optional for limit, must be nil for market
}

// EventPublisher pushes market events to connected stream clients.
type EventPublisher interface {
	PublishTradeExecuted(exec *domain.TradeExecution)
	PublishOrderCancelled(order *domain.Order)
	PublishStats(stats *domain.MarketStatistics)
}

// MarketService handles order submission, retrieval, cancellation, and
// listing. It is the single entry point game code talks to: validation
// happens here, matching and settlement happen in the engine.
type MarketService struct {
	matcher    *engine.Matcher
	expiry     *engine.ExpiryManager
	wallet     *ledger.Wallet
	orderStore *store.OrderStore
	tracker    *stats.Tracker
	events     EventPublisher
}

// NewMarketService creates a new MarketService with the given dependencies.
func NewMarketService(
	matcher *engine.Matcher,
	expiry *engine.ExpiryManager,
	wallet *ledger.Wallet,
	orderStore *store.OrderStore,
	tracker *stats.Tracker,
	events EventPublisher,
) *MarketService {
	return &MarketService{
		matcher:    matcher,
		expiry:     expiry,
		wallet:     wallet,
		orderStore: orderStore,
		tracker:    tracker,
		events:     events,
	}
}

// SubmitOrder validates the request, runs the matching engine, and
// publishes events for any trades executed.
func (s *MarketService) SubmitOrder(req SubmitOrderRequest) (*domain.Order, error) {
	// Validate order type.
	if req.Type != domain.OrderTypeLimit && req.Type != domain.OrderTypeMarket {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: limit, market", req.Type),
		}
	}

	// Validate common fields.
	if !userIDRegex.MatchString(req.UserID) {
		return nil, &domain.ValidationError{
			Message: "user_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return nil, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}
	if !itemIDRegex.MatchString(req.ItemID) {
		return nil, &domain.ValidationError{
			Message: "item_id must match ^[a-z0-9_-]{1,64}$",
		}
	}
	if req.Quantity <= 0 {
		return nil, &domain.ValidationError{
			Message: "quantity must be a positive integer",
		}
	}

	if req.Type == domain.OrderTypeLimit {
		return s.submitLimitOrder(req)
	}
	return s.submitMarketOrder(req)
}

func (s *MarketService) submitLimitOrder(req SubmitOrderRequest) (*domain.Order, error) {
	if req.Price == nil {
		return nil, &domain.ValidationError{
			Message: "price is required for limit orders",
		}
	}
	if *req.Price <= 0 {
		return nil, &domain.ValidationError{
			Message: "price must be a positive integer",
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, &domain.ValidationError{
			Message: "expires_at must be a future timestamp",
		}
	}

	if !s.wallet.Exists(req.UserID) {
		return nil, domain.ErrUserNotFound
	}

	order := &domain.Order{
		UserID:    req.UserID,
		Side:      req.Side,
		ItemID:    req.ItemID,
		Price:     *req.Price,
		Quantity:  req.Quantity,
		ExpiresAt: req.ExpiresAt,
	}

	executions, err := s.matcher.SubmitLimit(order)
	if err != nil {
		return nil, err
	}

	// Only orders resting on the book with a deadline need sweeping.
	if !order.Terminal() && order.ExpiresAt != nil {
		s.expiry.Add(order)
	}

	s.publishExecutions(order.ItemID, executions)

	return order, nil
}

func (s *MarketService) submitMarketOrder(req SubmitOrderRequest) (*domain.Order, error) {
	// Market orders must NOT include price or expires_at.
	if req.Price != nil {
		return nil, &domain.ValidationError{
			Message: "market orders must not include price",
		}
	}
	if req.ExpiresAt != nil {
		return nil, &domain.ValidationError{
			Message: "market orders must not include expires_at",
		}
	}

	if !s.wallet.Exists(req.UserID) {
		return nil, domain.ErrUserNotFound
	}

	order := &domain.Order{
		UserID:   req.UserID,
		Side:     req.Side,
		ItemID:   req.ItemID,
		Quantity: req.Quantity,
	}

	executions, err := s.matcher.SubmitMarket(order)
	if err != nil {
		return nil, err
	}

	s.publishExecutions(order.ItemID, executions)

	return order, nil
}

// publishExecutions pushes trade events and a refreshed statistics
// snapshot after a matching pass. Skips publishing if events is nil.
func (s *MarketService) publishExecutions(itemID string, executions []*domain.TradeExecution) {
	if len(executions) == 0 {
		return
	}

	refreshed := s.tracker.Refresh(itemID)
	if s.events == nil {
		return
	}
	for _, exec := range executions {
		s.events.PublishTradeExecuted(exec)
	}
	s.events.PublishStats(refreshed)
}

// GetOrder retrieves an order by ID with all its executions.
func (s *MarketService) GetOrder(orderID string) (*domain.Order, error) {
	return s.orderStore.Get(orderID)
}

// CancelOrder cancels a pending or partially filled order. Only the
// order's owner may cancel it.
func (s *MarketService) CancelOrder(orderID, userID string) (*domain.Order, error) {
	order, err := s.orderStore.Get(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrNotOrderOwner
	}

	cancelled, err := s.matcher.Cancel(orderID)
	if err != nil {
		return nil, err
	}

	s.expiry.Remove(orderID)

	if s.events != nil {
		s.events.PublishOrderCancelled(cancelled)
	}

	return cancelled, nil
}

// ListOrders returns a paginated list of orders for a user with
// optional status filtering, newest first.
func (s *MarketService) ListOrders(userID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	if !s.wallet.Exists(userID) {
		return nil, 0, domain.ErrUserNotFound
	}

	if status != nil && !ValidOrderStatuses[*status] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: pending, partially_filled, filled, cancelled, expired", *status),
		}
	}

	if page < 1 {
		return nil, 0, &domain.ValidationError{
			Message: "page must be >= 1",
		}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{
			Message: "limit must be between 1 and 100",
		}
	}

	orders, total := s.orderStore.ListByUser(userID, status, page, limit)
	return orders, total, nil
}
