package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/service"
	"github.com/samber/lo"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	marketSvc *service.MarketService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(marketSvc *service.MarketService) *OrderHandler {
	return &OrderHandler{marketSvc: marketSvc}
}

// submitOrderRequest is the JSON request body for POST /orders.
type submitOrderRequest struct {
	Type      string  `json:"type"`
	UserID    string  `json:"user_id"`
	Side      string  `json:"side"`
	ItemID    string  `json:"item_id"`
	Price     *int64  `json:"price"`
	Quantity  int64   `json:"quantity"`
	ExpiresAt *string `json:"expires_at"`
}

// orderResponse is the JSON representation of an order. Market orders
// never carry price or expires_at, so both are nullable.
type orderResponse struct {
	OrderID           string              `json:"order_id"`
	Type              string              `json:"type"`
	UserID            string              `json:"user_id"`
	Side              string              `json:"side"`
	ItemID            string              `json:"item_id"`
	Price             *int64              `json:"price"`
	Quantity          int64               `json:"quantity"`
	FilledQuantity    int64               `json:"filled_quantity"`
	RemainingQuantity int64               `json:"remaining_quantity"`
	CancelledQuantity int64               `json:"cancelled_quantity"`
	Status            string              `json:"status"`
	ExpiresAt         *string             `json:"expires_at"`
	CreatedAt         string              `json:"created_at"`
	CancelledAt       *string             `json:"cancelled_at"`
	ExpiredAt         *string             `json:"expired_at"`
	AveragePrice      *int64              `json:"average_price"`
	Executions        []executionResponse `json:"executions"`
}

// executionResponse is a single execution in the order response.
type executionResponse struct {
	ExecutionID string `json:"execution_id"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
	ExecutedAt  string `json:"executed_at"`
}

// SubmitOrder handles POST /orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "expires_at must be a valid RFC 3339 timestamp")
			return
		}
		expiresAt = &t
	}

	order, err := h.marketSvc.SubmitOrder(service.SubmitOrderRequest{
		Type:      domain.OrderType(req.Type),
		UserID:    req.UserID,
		Side:      domain.OrderSide(req.Side),
		ItemID:    req.ItemID,
		Price:     req.Price,
		Quantity:  req.Quantity,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.marketSvc.GetOrder(orderID)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /orders/{order_id}. The caller identifies
// itself through the user_id query parameter; only the owner may cancel.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "user_id query parameter is required")
		return
	}

	order, err := h.marketSvc.CancelOrder(orderID, userID)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// buildOrderResponse converts a domain order to its JSON representation.
func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.OrderID,
		Type:              string(o.Type),
		UserID:            o.UserID,
		Side:              string(o.Side),
		ItemID:            o.ItemID,
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		CancelledQuantity: o.CancelledQuantity,
		Status:            string(o.Status),
		CreatedAt:         formatTime(o.CreatedAt),
		CancelledAt:       formatTimePtr(o.CancelledAt),
		ExpiredAt:         formatTimePtr(o.ExpiredAt),
		Executions: lo.Map(o.Executions, func(e *domain.TradeExecution, _ int) executionResponse {
			return executionResponse{
				ExecutionID: e.ExecutionID,
				Price:       e.Price,
				Quantity:    e.Quantity,
				ExecutedAt:  formatTime(e.ExecutedAt),
			}
		}),
	}

	if o.Type == domain.OrderTypeLimit {
		price := o.Price
		resp.Price = &price
		resp.ExpiresAt = formatTimePtr(o.ExpiresAt)
	}

	if avg, ok := o.AveragePrice(); ok {
		resp.AveragePrice = &avg
	}

	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// mapDomainError maps domain errors to HTTP responses.
func mapDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		WriteError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, domain.ErrUserAlreadyExists):
		WriteError(w, http.StatusConflict, "user_already_exists", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrNotOrderOwner):
		WriteError(w, http.StatusForbidden, "not_order_owner", err.Error())
	case errors.Is(err, domain.ErrOrderNotCancellable):
		WriteError(w, http.StatusConflict, "order_not_cancellable", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		WriteError(w, http.StatusConflict, "insufficient_funds", err.Error())
	case errors.Is(err, domain.ErrInsufficientItems):
		WriteError(w, http.StatusConflict, "insufficient_items", err.Error())
	case errors.Is(err, domain.ErrItemNotFound):
		WriteError(w, http.StatusNotFound, "item_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
