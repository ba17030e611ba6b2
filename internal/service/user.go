package service

import (
	"regexp"
	"sort"
	"time"

	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/ledger"
)

var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	itemIDRegex = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
)

// CreateUserRequest represents the input for user registration.
type CreateUserRequest struct {
	UserID        string
	StartingCoins int64
	StartingItems []ItemGrant
}

// ItemGrant represents a single item stack granted at registration.
type ItemGrant struct {
	ItemID   string
	Quantity int64
}

// WalletResponse represents the response for the wallet endpoint. Coins
// and item quantities reserved for open orders are reported separately
// from the spendable balances.
type WalletResponse struct {
	UserID        string
	Coins         int64
	ReservedCoins int64
	Items         []ItemBalance
	CreatedAt     time.Time
}

// ItemBalance represents a single item stack in the wallet response.
type ItemBalance struct {
	ItemID           string
	Quantity         int64
	ReservedQuantity int64
}

// UserService handles user registration and wallet queries.
type UserService struct {
	wallet *ledger.Wallet
	assets *ledger.AssetLedger
	items  *domain.ItemRegistry
}

// NewUserService creates a new UserService.
func NewUserService(wallet *ledger.Wallet, assets *ledger.AssetLedger, items *domain.ItemRegistry) *UserService {
	return &UserService{
		wallet: wallet,
		assets: assets,
		items:  items,
	}
}

// Create validates the request, creates the user's wallet, and registers
// any granted items.
func (s *UserService) Create(req CreateUserRequest) (*ledger.WalletSnapshot, error) {
	if !userIDRegex.MatchString(req.UserID) {
		return nil, &domain.ValidationError{
			Message: "user_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if req.StartingCoins < 0 {
		return nil, &domain.ValidationError{
			Message: "starting_coins must be >= 0",
		}
	}

	items := make(map[string]int64, len(req.StartingItems))
	for _, grant := range req.StartingItems {
		if !itemIDRegex.MatchString(grant.ItemID) {
			return nil, &domain.ValidationError{
				Message: "item_id must match ^[a-z0-9_-]{1,64}$",
			}
		}
		if grant.Quantity <= 0 {
			return nil, &domain.ValidationError{
				Message: "item quantity must be a positive integer",
			}
		}
		items[grant.ItemID] += grant.Quantity
	}

	if err := s.wallet.CreateAccount(req.UserID, req.StartingCoins, items); err != nil {
		return nil, err
	}

	for itemID := range items {
		s.items.Register(itemID)
	}

	return s.wallet.Snapshot(req.UserID)
}

// GetWallet returns the user's spendable balances alongside the amounts
// currently reserved for open orders.
func (s *UserService) GetWallet(userID string) (*WalletResponse, error) {
	snap, err := s.wallet.Snapshot(userID)
	if err != nil {
		return nil, err
	}

	reservedCoins, reservedItems := s.assets.Reserved(userID)

	resp := &WalletResponse{
		UserID:        snap.UserID,
		Coins:         snap.Coins,
		ReservedCoins: reservedCoins,
		CreatedAt:     snap.CreatedAt,
	}

	seen := make(map[string]bool, len(snap.Items))
	for itemID, qty := range snap.Items {
		seen[itemID] = true
		resp.Items = append(resp.Items, ItemBalance{
			ItemID:           itemID,
			Quantity:         qty,
			ReservedQuantity: reservedItems[itemID],
		})
	}
	// Items held entirely in reservation no longer appear in the wallet
	// snapshot but still belong to the user.
	for itemID, qty := range reservedItems {
		if !seen[itemID] && qty > 0 {
			resp.Items = append(resp.Items, ItemBalance{
				ItemID:           itemID,
				ReservedQuantity: qty,
			})
		}
	}
	sortItemBalances(resp.Items)

	return resp, nil
}

// Exists reports whether the user has a wallet.
func (s *UserService) Exists(userID string) bool {
	return s.wallet.Exists(userID)
}

func sortItemBalances(items []ItemBalance) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ItemID < items[j].ItemID
	})
}
