package service

import (
	"errors"
	"testing"

	"github.com/pondbot/market/internal/domain"
)

func TestCreateUser_Success(t *testing.T) {
	r := newRig(t)

	snap, err := r.users.Create(CreateUserRequest{
		UserID:        "alice",
		StartingCoins: 500,
		StartingItems: []ItemGrant{
			{ItemID: "wood", Quantity: 10},
			{ItemID: "wood", Quantity: 5}, // duplicate grants accumulate
			{ItemID: "stone", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Coins != 500 {
		t.Errorf("coins = %d, want 500", snap.Coins)
	}
	if snap.Items["wood"] != 15 {
		t.Errorf("wood = %d, want 15", snap.Items["wood"])
	}
	if snap.Items["stone"] != 2 {
		t.Errorf("stone = %d, want 2", snap.Items["stone"])
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 100)

	_, err := r.users.Create(CreateUserRequest{UserID: "alice", StartingCoins: 0})
	if !errors.Is(err, domain.ErrUserAlreadyExists) {
		t.Fatalf("got %v, want ErrUserAlreadyExists", err)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	r := newRig(t)

	tests := []struct {
		name string
		req  CreateUserRequest
	}{
		{"bad user id", CreateUserRequest{UserID: "has spaces"}},
		{"negative coins", CreateUserRequest{UserID: "alice", StartingCoins: -1}},
		{"bad item id", CreateUserRequest{UserID: "alice", StartingItems: []ItemGrant{{ItemID: "Wood", Quantity: 1}}}},
		{"zero item quantity", CreateUserRequest{UserID: "alice", StartingItems: []ItemGrant{{ItemID: "wood", Quantity: 0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.users.Create(tt.req)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestGetWallet_ReportsReservations(t *testing.T) {
	r := newRig(t)
	r.addUser(t, "alice", 1000, ItemGrant{ItemID: "wood", Quantity: 10})

	// Reserve 6*10 coins for a buy and 4 wood for a sell.
	if _, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:     domain.OrderTypeLimit,
		UserID:   "alice",
		Side:     domain.OrderSideBuy,
		ItemID:   "stone",
		Price:    int64Ptr(10),
		Quantity: 6,
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := r.market.SubmitOrder(SubmitOrderRequest{
		Type:     domain.OrderTypeLimit,
		UserID:   "alice",
		Side:     domain.OrderSideSell,
		ItemID:   "wood",
		Price:    int64Ptr(3),
		Quantity: 4,
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}

	wallet, err := r.users.GetWallet("alice")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if wallet.Coins != 940 {
		t.Errorf("coins = %d, want 940", wallet.Coins)
	}
	if wallet.ReservedCoins != 60 {
		t.Errorf("reserved coins = %d, want 60", wallet.ReservedCoins)
	}

	var wood *ItemBalance
	for i := range wallet.Items {
		if wallet.Items[i].ItemID == "wood" {
			wood = &wallet.Items[i]
		}
	}
	if wood == nil {
		t.Fatal("wood missing from wallet response")
	}
	if wood.Quantity != 6 || wood.ReservedQuantity != 4 {
		t.Errorf("wood = %d reserved %d, want 6 reserved 4", wood.Quantity, wood.ReservedQuantity)
	}
}

func TestGetWallet_UnknownUser(t *testing.T) {
	r := newRig(t)

	if _, err := r.users.GetWallet("ghost"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
}
