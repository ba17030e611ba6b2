package handler

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/service"
	"github.com/samber/lo"
)

// UserHandler handles HTTP requests for user endpoints.
type UserHandler struct {
	userSvc   *service.UserService
	marketSvc *service.MarketService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userSvc *service.UserService, marketSvc *service.MarketService) *UserHandler {
	return &UserHandler{userSvc: userSvc, marketSvc: marketSvc}
}

// createUserRequest is the JSON request body for POST /users.
type createUserRequest struct {
	UserID        string             `json:"user_id"`
	StartingCoins int64              `json:"starting_coins"`
	StartingItems []itemGrantRequest `json:"starting_items"`
}

// itemGrantRequest is a single item stack in a registration request.
type itemGrantRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

// walletResponse is the JSON response for the wallet endpoint.
type walletResponse struct {
	UserID        string                `json:"user_id"`
	Coins         int64                 `json:"coins"`
	ReservedCoins int64                 `json:"reserved_coins"`
	Items         []itemBalanceResponse `json:"items"`
	CreatedAt     string                `json:"created_at"`
}

// itemBalanceResponse is a single item stack in the wallet response.
type itemBalanceResponse struct {
	ItemID           string `json:"item_id"`
	Quantity         int64  `json:"quantity"`
	ReservedQuantity int64  `json:"reserved_quantity"`
}

// orderListResponse is the JSON response for the user orders endpoint.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// Create handles POST /users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := ParseJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	snap, err := h.userSvc.Create(service.CreateUserRequest{
		UserID:        req.UserID,
		StartingCoins: req.StartingCoins,
		StartingItems: lo.Map(req.StartingItems, func(g itemGrantRequest, _ int) service.ItemGrant {
			return service.ItemGrant{ItemID: g.ItemID, Quantity: g.Quantity}
		}),
	})
	if err != nil {
		mapDomainError(w, err)
		return
	}

	// Freshly created accounts have no reservations.
	items := make([]itemBalanceResponse, 0, len(snap.Items))
	for itemID, qty := range snap.Items {
		items = append(items, itemBalanceResponse{ItemID: itemID, Quantity: qty})
	}
	sortItemBalanceResponses(items)

	WriteJSON(w, http.StatusCreated, walletResponse{
		UserID:    snap.UserID,
		Coins:     snap.Coins,
		Items:     items,
		CreatedAt: formatTime(snap.CreatedAt),
	})
}

// GetWallet handles GET /users/{user_id}/wallet.
func (h *UserHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	wallet, err := h.userSvc.GetWallet(userID)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, walletResponse{
		UserID:        wallet.UserID,
		Coins:         wallet.Coins,
		ReservedCoins: wallet.ReservedCoins,
		Items: lo.Map(wallet.Items, func(b service.ItemBalance, _ int) itemBalanceResponse {
			return itemBalanceResponse{
				ItemID:           b.ItemID,
				Quantity:         b.Quantity,
				ReservedQuantity: b.ReservedQuantity,
			}
		}),
		CreatedAt: formatTime(wallet.CreatedAt),
	})
}

// ListOrders handles GET /users/{user_id}/orders.
func (h *UserHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	var statusFilter *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.OrderStatus(s)
		statusFilter = &status
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		var err error
		page, err = strconv.Atoi(p)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "page must be a valid integer")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit must be a valid integer")
			return
		}
	}

	orders, total, err := h.marketSvc.ListOrders(userID, statusFilter, page, limit)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, orderListResponse{
		Orders: lo.Map(orders, func(o *domain.Order, _ int) orderResponse {
			return buildOrderResponse(o)
		}),
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func sortItemBalanceResponses(items []itemBalanceResponse) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ItemID < items[j].ItemID
	})
}
