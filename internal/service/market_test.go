package service

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/engine"
	"github.com/pondbot/market/internal/ledger"
	"github.com/pondbot/market/internal/stats"
	"github.com/pondbot/market/internal/store"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	trades    []*domain.TradeExecution
	cancelled []*domain.Order
	stats     []*domain.MarketStatistics
}

func (p *capturePublisher) PublishTradeExecuted(exec *domain.TradeExecution) {
	p.trades = append(p.trades, exec)
}

func (p *capturePublisher) PublishOrderCancelled(order *domain.Order) {
	p.cancelled = append(p.cancelled, order)
}

func (p *capturePublisher) PublishStats(s *domain.MarketStatistics) {
	p.stats = append(p.stats, s)
}

type rig struct {
	wallet  *ledger.Wallet
	assets  *ledger.AssetLedger
	books   *engine.BookManager
	orders  *store.OrderStore
	expiry  *engine.ExpiryManager
	events  *capturePublisher
	users   *UserService
	market  *MarketService
	itemSvc *ItemService
}

func newRig(t *testing.T) *rig {
	t.Helper()

	wallet := ledger.NewWallet()
	assets := ledger.NewAssetLedger(wallet, wallet)
	items := domain.NewItemRegistry()
	books := engine.NewBookManager()
	orders := store.NewOrderStore()
	trades, err := store.NewTradeLedger(nil)
	if err != nil {
		t.Fatalf("NewTradeLedger: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	matcher := engine.NewMatcher(books, assets, orders, trades, items, logger)
	expiry := engine.NewExpiryManager(time.Second, books, orders, assets, nil, logger)
	tracker := stats.NewTracker(trades, books, 24*time.Hour)
	events := &capturePublisher{}

	return &rig{
		wallet:  wallet,
		assets:  assets,
		books:   books,
		orders:  orders,
		expiry:  expiry,
		events:  events,
		users:   NewUserService(wallet, assets, items),
		market:  NewMarketService(matcher, expiry, wallet, orders, tracker, events),
		itemSvc: NewItemService(books, matcher, tracker, items),
	}
}

func (r *rig) addUser(t *testing.T, userID string, coins int64, items ...ItemGrant) {
	t.Helper()
	if _, err := r.users.Create(CreateUserRequest{
		UserID:        userID,
		StartingCoins: coins,
		StartingItems: items,
	}); err != nil {
		t.Fatalf("create user %s: %v", userID, err)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestSubmitOrder_ValidationErrors(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000)

	tests := []struct {
		name string
		req  SubmitOrderRequest
	}{
		{"unknown type", SubmitOrderRequest{Type: "stop", UserID: "alice", Side: domain.OrderSideBuy, ItemID: "wood", Quantity: 1}},
		{"bad user id", SubmitOrderRequest{Type: domain.OrderTypeLimit, UserID: "no spaces", Side: domain.OrderSideBuy, ItemID: "wood", Price: int64Ptr(10), Quantity: 1}},
		{"bad side", SubmitOrderRequest{Type: domain.OrderTypeLimit, UserID: "alice", Side: "long", ItemID: "wood", Price: int64Ptr(10), Quantity: 1}},
		{"bad item id", SubmitOrderRequest{Type: domain.OrderTypeLimit, UserID: "alice", Side: domain.OrderSideBuy, ItemID: "WOOD!", Price: int64Ptr(10), Quantity: 1}},
		{"zero quantity", SubmitOrderRequest{Type: domain.OrderTypeLimit, UserID: "alice", Side: domain.OrderSideBuy, ItemID: "wood", Price: int64Ptr(10), Quantity: 0}},
		{"limit without price", SubmitOrderRequest{Type: domain.OrderTypeLimit, UserID: "alice", Side: domain.OrderSideBuy, ItemID: "wood", Quantity: 1}},
		{"limit zero price", SubmitOrderRequest{Type: domain.OrderTypeLimit, UserID: "alice", Side: domain.OrderSideBuy, ItemID: "wood", Price: int64Ptr(0), Quantity: 1}},
		{"market with price", SubmitOrderRequest{Type: domain.OrderTypeMarket, UserID: "alice", Side: domain.OrderSideBuy, ItemID: "wood", Price: int64Ptr(10), Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.market.SubmitOrder(tt.req)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestSubmitOrder_PastExpiryRejected(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000)

	past := time.Now().Add(-time.Minute)
	_, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:      domain.OrderTypeLimit,
		UserID:    "alice",
		Side:      domain.OrderSideBuy,
		ItemID:    "wood",
		Price:     int64Ptr(10),
		Quantity:  1,
		ExpiresAt: &past,
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestSubmitOrder_UnknownUser(t *testing.T) {
	r := newRig(t)

	_, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:     domain.OrderTypeLimit,
		UserID:   "ghost",
		Side:     domain.OrderSideBuy,
		ItemID:   "wood",
		Price:    int64Ptr(10),
		Quantity: 1,
	})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
}

func TestSubmitOrder_RestsAndTracksExpiry(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000)

	expires := time.Now().Add(time.Hour)
	order, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:      domain.OrderTypeLimit,
		UserID:    "alice",
		Side:      domain.OrderSideBuy,
		ItemID:    "wood",
		Price:     int64Ptr(10),
		Quantity:  5,
		ExpiresAt: &expires,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	if r.expiry.ActiveOrderCount() != 1 {
		t.Fatalf("expiry tracking %d orders, want 1", r.expiry.ActiveOrderCount())
	}
}

func TestSubmitOrder_NoDeadlineNotTrackedForExpiry(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000)

	if _, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:     domain.OrderTypeLimit,
		UserID:   "alice",
		Side:     domain.OrderSideBuy,
		ItemID:   "wood",
		Price:    int64Ptr(10),
		Quantity: 5,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.expiry.ActiveOrderCount() != 0 {
		t.Fatalf("expiry tracking %d orders, want 0", r.expiry.ActiveOrderCount())
	}
}

func TestSubmitOrder_MatchPublishesEvents(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000)
	r.addUser(t, "bob", 0, ItemGrant{ItemID: "wood", Quantity: 10})

	if _, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:     domain.OrderTypeLimit,
		UserID:   "bob",
		Side:     domain.OrderSideSell,
		ItemID:   "wood",
		Price:    int64Ptr(10),
		Quantity: 5,
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}

	order, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:     domain.OrderTypeLimit,
		UserID:   "alice",
		Side:     domain.OrderSideBuy,
		ItemID:   "wood",
		Price:    int64Ptr(10),
		Quantity: 5,
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Fatalf("status = %s, want filled", order.Status)
	}

	if len(r.events.trades) != 1 {
		t.Fatalf("published %d trade events, want 1", len(r.events.trades))
	}
	if r.events.trades[0].Price != 10 || r.events.trades[0].Quantity != 5 {
		t.Fatalf("trade event = %+v", r.events.trades[0])
	}
	if len(r.events.stats) != 1 {
		t.Fatalf("published %d stats events, want 1", len(r.events.stats))
	}
	if r.events.stats[0].LastPrice == nil || *r.events.stats[0].LastPrice != 10 {
		t.Fatalf("stats event last price = %v, want 10", r.events.stats[0].LastPrice)
	}
}

func TestCancelOrder_OwnershipEnforced(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000)
	r.addUser(t, "mallory", 1000)

	order, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:     domain.OrderTypeLimit,
		UserID:   "alice",
		Side:     domain.OrderSideBuy,
		ItemID:   "wood",
		Price:    int64Ptr(10),
		Quantity: 5,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := r.market.CancelOrder(order.OrderID, "mallory"); !errors.Is(err, domain.ErrNotOrderOwner) {
		t.Fatalf("got %v, want ErrNotOrderOwner", err)
	}

	cancelled, err := r.market.CancelOrder(order.OrderID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if len(r.events.cancelled) != 1 {
		t.Fatalf("published %d cancel events, want 1", len(r.events.cancelled))
	}

	// The reservation came back to the spendable balance.
	balance, err := r.wallet.GetBalance("alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 1000 {
		t.Fatalf("balance = %d, want 1000", balance)
	}
}

func TestCancelOrder_Unknown(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000)

	if _, err := r.market.CancelOrder("nope", "alice"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("got %v, want ErrOrderNotFound", err)
	}
}

func TestListOrders_Validation(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000)

	if _, _, err := r.market.ListOrders("ghost", nil, 1, 10); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}

	bad := domain.OrderStatus("frozen")
	if _, _, err := r.market.ListOrders("alice", &bad, 1, 10); err == nil {
		t.Fatal("expected error for invalid status filter")
	}
	if _, _, err := r.market.ListOrders("alice", nil, 0, 10); err == nil {
		t.Fatal("expected error for page 0")
	}
	if _, _, err := r.market.ListOrders("alice", nil, 1, 101); err == nil {
		t.Fatal("expected error for limit > 100")
	}
}

func TestListOrders_FilterAndPaginate(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000)

	var first *domain.Order
	for i := 0; i < 3; i++ {
		order, err := r.market.SubmitOrder(SubmitOrderRequest{
			Type:     domain.OrderTypeLimit,
			UserID:   "alice",
			Side:     domain.OrderSideBuy,
			ItemID:   "wood",
			Price:    int64Ptr(10),
			Quantity: 1,
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if first == nil {
			first = order
		}
	}
	if _, err := r.market.CancelOrder(first.OrderID, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	pending := domain.OrderStatusPending
	orders, total, err := r.market.ListOrders("alice", &pending, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(orders) != 2 {
		t.Fatalf("got %d/%d pending orders, want 2/2", len(orders), total)
	}

	orders, total, err = r.market.ListOrders("alice", nil, 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(orders) != 1 {
		t.Fatalf("page 2 returned %d of %d, want 1 of 3", len(orders), total)
	}
}

func TestMarketOrder_NoLiquidityCancelled(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 0, ItemGrant{ItemID: "wood", Quantity: 5})

	order, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:     domain.OrderTypeMarket,
		UserID:   "alice",
		Side:     domain.OrderSideSell,
		ItemID:   "wood",
		Quantity: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", order.Status)
	}
	if len(r.events.trades) != 0 {
		t.Fatalf("published %d trade events, want 0", len(r.events.trades))
	}
}
