package ledger

import (
	"sync"
	"time"

	"github.com/pondbot/market/internal/domain"
)

// BalanceService provides access to a user's spendable coin balance.
type BalanceService interface {
	GetBalance(userID string) (int64, error)
	AdjustBalance(userID string, delta int64) error
}

// InventoryService provides access to a user's tradable item counts.
type InventoryService interface {
	GetQuantity(userID, itemID string) (int64, error)
	AddItems(userID, itemID string, qty int64) error
	RemoveItems(userID, itemID string, qty int64) error
}

// account holds one user's coins and items. The per-account mutex makes
// each balance/inventory mutation atomic with respect to concurrent reads.
type account struct {
	mu        sync.Mutex
	coins     int64
	items     map[string]int64
	createdAt time.Time
}

// Wallet is a thread-safe in-memory implementation of BalanceService and
// InventoryService, keyed by user id.
type Wallet struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

// NewWallet creates an empty Wallet.
func NewWallet() *Wallet {
	return &Wallet{
		accounts: make(map[string]*account),
	}
}

// CreateAccount registers a user with a starting coin balance and item
// inventory. It returns domain.ErrUserAlreadyExists if the user id is
// already taken.
func (w *Wallet) CreateAccount(userID string, coins int64, items map[string]int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.accounts[userID]; exists {
		return domain.ErrUserAlreadyExists
	}
	acct := &account{
		coins:     coins,
		items:     make(map[string]int64, len(items)),
		createdAt: time.Now(),
	}
	for itemID, qty := range items {
		acct.items[itemID] = qty
	}
	w.accounts[userID] = acct
	return nil
}

// Exists returns true if an account with the given user id exists.
func (w *Wallet) Exists(userID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, ok := w.accounts[userID]
	return ok
}

func (w *Wallet) account(userID string) (*account, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	acct, ok := w.accounts[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return acct, nil
}

// GetBalance returns the user's spendable coin balance.
func (w *Wallet) GetBalance(userID string) (int64, error) {
	acct, err := w.account(userID)
	if err != nil {
		return 0, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.coins, nil
}

// AdjustBalance applies delta to the user's coin balance. A negative
// delta that would take the balance below zero fails with
// domain.ErrInsufficientFunds and leaves the balance unchanged.
func (w *Wallet) AdjustBalance(userID string, delta int64) error {
	acct, err := w.account(userID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.coins+delta < 0 {
		return domain.ErrInsufficientFunds
	}
	acct.coins += delta
	return nil
}

// GetQuantity returns how many units of an item the user holds.
func (w *Wallet) GetQuantity(userID, itemID string) (int64, error) {
	acct, err := w.account(userID)
	if err != nil {
		return 0, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.items[itemID], nil
}

// AddItems grants qty units of an item to the user.
func (w *Wallet) AddItems(userID, itemID string, qty int64) error {
	acct, err := w.account(userID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.items[itemID] += qty
	return nil
}

// RemoveItems takes qty units of an item from the user. It fails with
// domain.ErrInsufficientItems and leaves the inventory unchanged when
// the user holds fewer than qty units.
func (w *Wallet) RemoveItems(userID, itemID string, qty int64) error {
	acct, err := w.account(userID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.items[itemID] < qty {
		return domain.ErrInsufficientItems
	}
	acct.items[itemID] -= qty
	if acct.items[itemID] == 0 {
		delete(acct.items, itemID)
	}
	return nil
}

// WalletSnapshot is a point-in-time copy of one user's holdings.
type WalletSnapshot struct {
	UserID    string
	Coins     int64
	Items     map[string]int64
	CreatedAt time.Time
}

// Snapshot returns a copy of the user's current coins and items.
func (w *Wallet) Snapshot(userID string) (*WalletSnapshot, error) {
	acct, err := w.account(userID)
	if err != nil {
		return nil, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	items := make(map[string]int64, len(acct.items))
	for itemID, qty := range acct.items {
		items[itemID] = qty
	}
	return &WalletSnapshot{
		UserID:    userID,
		Coins:     acct.coins,
		Items:     items,
		CreatedAt: acct.createdAt,
	}, nil
}
