package service

import (
	"time"

	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/engine"
	"github.com/pondbot/market/internal/stats"
)

// BookPriceLevel represents an aggregated price level in the book response.
type BookPriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// BookResponse represents the response for the item book endpoint.
type BookResponse struct {
	ItemID     string
	Buys       []BookPriceLevel
	Sells      []BookPriceLevel
	Spread     *int64 // nil if either side empty
	SnapshotAt time.Time
}

// QuotePriceLevel represents a single price level in the quote response.
type QuotePriceLevel struct {
	Price    int64
	Quantity int64
}

// QuoteResponse represents the response for the item quote endpoint.
type QuoteResponse struct {
	ItemID            string
	Side              domain.OrderSide
	QuantityRequested int64
	QuantityAvailable int64
	FullyFillable     bool
	EstimatedAvgPrice *int64 // nil when no liquidity
	EstimatedTotal    *int64 // nil when no liquidity
	PriceLevels       []QuotePriceLevel
	QuotedAt          time.Time
}

// ItemService handles book, statistics, and quote queries for items.
type ItemService struct {
	books   *engine.BookManager
	matcher *engine.Matcher
	tracker *stats.Tracker
	items   *domain.ItemRegistry
}

// NewItemService creates a new ItemService with the given dependencies.
func NewItemService(
	books *engine.BookManager,
	matcher *engine.Matcher,
	tracker *stats.Tracker,
	items *domain.ItemRegistry,
) *ItemService {
	return &ItemService{
		books:   books,
		matcher: matcher,
		tracker: tracker,
		items:   items,
	}
}

// GetBook returns the top N price levels of the order book for an item.
func (s *ItemService) GetBook(itemID string, depth int) (*BookResponse, error) {
	if !s.items.Exists(itemID) {
		return nil, domain.ErrItemNotFound
	}

	if depth < 1 || depth > 50 {
		return nil, &domain.ValidationError{
			Message: "depth must be between 1 and 50",
		}
	}

	book := s.books.GetOrCreate(itemID)

	book.RLock()
	defer book.RUnlock()

	topBuys := book.TopBuys(depth)
	topSells := book.TopSells(depth)

	buys := make([]BookPriceLevel, len(topBuys))
	for i, pl := range topBuys {
		buys[i] = BookPriceLevel{
			Price:         pl.Price,
			TotalQuantity: pl.TotalQuantity,
			OrderCount:    pl.OrderCount,
		}
	}

	sells := make([]BookPriceLevel, len(topSells))
	for i, pl := range topSells {
		sells[i] = BookPriceLevel{
			Price:         pl.Price,
			TotalQuantity: pl.TotalQuantity,
			OrderCount:    pl.OrderCount,
		}
	}

	resp := &BookResponse{
		ItemID:     itemID,
		Buys:       buys,
		Sells:      sells,
		SnapshotAt: time.Now(),
	}

	// Spread = lowest ask - highest bid (null if either side empty).
	if len(topBuys) > 0 && len(topSells) > 0 {
		spread := topSells[0].Price - topBuys[0].Price
		resp.Spread = &spread
	}

	return resp, nil
}

// GetStatistics returns the item's current market statistics.
func (s *ItemService) GetStatistics(itemID string) (*domain.MarketStatistics, error) {
	if !s.items.Exists(itemID) {
		return nil, domain.ErrItemNotFound
	}
	return s.tracker.Get(itemID), nil
}

// GetQuote simulates a market order against the current book and
// returns the estimated result without placing an order.
func (s *ItemService) GetQuote(itemID string, side domain.OrderSide, quantity int64) (*QuoteResponse, error) {
	if !s.items.Exists(itemID) {
		return nil, domain.ErrItemNotFound
	}

	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return nil, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}

	if quantity <= 0 {
		return nil, &domain.ValidationError{
			Message: "quantity must be a positive integer",
		}
	}

	result := s.matcher.SimulateMarket(itemID, side, quantity)

	priceLevels := make([]QuotePriceLevel, len(result.PriceLevels))
	for i, pl := range result.PriceLevels {
		priceLevels[i] = QuotePriceLevel{
			Price:    pl.Price,
			Quantity: pl.Quantity,
		}
	}

	return &QuoteResponse{
		ItemID:            itemID,
		Side:              side,
		QuantityRequested: quantity,
		QuantityAvailable: result.QuantityAvailable,
		FullyFillable:     result.FullyFillable,
		EstimatedAvgPrice: result.EstimatedAvgPrice,
		EstimatedTotal:    result.EstimatedTotal,
		PriceLevels:       priceLevels,
		QuotedAt:          time.Now(),
	}, nil
}
