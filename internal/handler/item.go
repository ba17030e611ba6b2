package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/service"
	"github.com/samber/lo"
)

// ItemHandler handles HTTP requests for item endpoints.
type ItemHandler struct {
	itemSvc *service.ItemService
}

// NewItemHandler creates a new ItemHandler.
func NewItemHandler(itemSvc *service.ItemService) *ItemHandler {
	return &ItemHandler{itemSvc: itemSvc}
}

// bookLevelResponse is an aggregated price level in the book response.
type bookLevelResponse struct {
	Price         int64 `json:"price"`
	TotalQuantity int64 `json:"total_quantity"`
	OrderCount    int   `json:"order_count"`
}

// bookResponse is the JSON response for GET /items/{item_id}/book.
type bookResponse struct {
	ItemID     string              `json:"item_id"`
	Buys       []bookLevelResponse `json:"buys"`
	Sells      []bookLevelResponse `json:"sells"`
	Spread     *int64              `json:"spread"`
	SnapshotAt string              `json:"snapshot_at"`
}

// statsResponse is the JSON response for GET /items/{item_id}/stats.
type statsResponse struct {
	ItemID      string `json:"item_id"`
	LastPrice   *int64 `json:"last_price"`
	HighestBid  *int64 `json:"highest_bid"`
	LowestAsk   *int64 `json:"lowest_ask"`
	Volume24h   int64  `json:"volume_24h"`
	LastUpdated string `json:"last_updated"`
}

// quoteLevelResponse is a single price level in the quote response.
type quoteLevelResponse struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// quoteResponse is the JSON response for GET /items/{item_id}/quote.
type quoteResponse struct {
	ItemID            string               `json:"item_id"`
	Side              string               `json:"side"`
	QuantityRequested int64                `json:"quantity_requested"`
	QuantityAvailable int64                `json:"quantity_available"`
	FullyFillable     bool                 `json:"fully_fillable"`
	EstimatedAvgPrice *int64               `json:"estimated_avg_price"`
	EstimatedTotal    *int64               `json:"estimated_total"`
	PriceLevels       []quoteLevelResponse `json:"price_levels"`
	QuotedAt          string               `json:"quoted_at"`
}

// GetBook handles GET /items/{item_id}/book.
func (h *ItemHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")

	depth := 10
	if d := r.URL.Query().Get("depth"); d != "" {
		var err error
		depth, err = strconv.Atoi(d)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "depth must be a valid integer")
			return
		}
	}

	book, err := h.itemSvc.GetBook(itemID, depth)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	toLevels := func(levels []service.BookPriceLevel) []bookLevelResponse {
		return lo.Map(levels, func(pl service.BookPriceLevel, _ int) bookLevelResponse {
			return bookLevelResponse{
				Price:         pl.Price,
				TotalQuantity: pl.TotalQuantity,
				OrderCount:    pl.OrderCount,
			}
		})
	}

	WriteJSON(w, http.StatusOK, bookResponse{
		ItemID:     book.ItemID,
		Buys:       toLevels(book.Buys),
		Sells:      toLevels(book.Sells),
		Spread:     book.Spread,
		SnapshotAt: formatTime(book.SnapshotAt),
	})
}

// GetStats handles GET /items/{item_id}/stats.
func (h *ItemHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")

	stats, err := h.itemSvc.GetStatistics(itemID)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, statsResponse{
		ItemID:      stats.ItemID,
		LastPrice:   stats.LastPrice,
		HighestBid:  stats.HighestBid,
		LowestAsk:   stats.LowestAsk,
		Volume24h:   stats.Volume24h,
		LastUpdated: formatTime(stats.LastUpdated),
	})
}

// GetQuote handles GET /items/{item_id}/quote.
func (h *ItemHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")

	side := r.URL.Query().Get("side")
	if side == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "side query parameter is required")
		return
	}

	quantityStr := r.URL.Query().Get("quantity")
	if quantityStr == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity query parameter is required")
		return
	}
	quantity, err := strconv.ParseInt(quantityStr, 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity must be a valid integer")
		return
	}

	quote, err := h.itemSvc.GetQuote(itemID, domain.OrderSide(side), quantity)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, quoteResponse{
		ItemID:            quote.ItemID,
		Side:              string(quote.Side),
		QuantityRequested: quote.QuantityRequested,
		QuantityAvailable: quote.QuantityAvailable,
		FullyFillable:     quote.FullyFillable,
		EstimatedAvgPrice: quote.EstimatedAvgPrice,
		EstimatedTotal:    quote.EstimatedTotal,
		PriceLevels: lo.Map(quote.PriceLevels, func(pl service.QuotePriceLevel, _ int) quoteLevelResponse {
			return quoteLevelResponse{Price: pl.Price, Quantity: pl.Quantity}
		}),
		QuotedAt: formatTime(quote.QuotedAt),
	})
}
