package ledger

import (
	"fmt"
	"sync"

	"github.com/pondbot/market/internal/domain"
)

// AssetLedger layers reservation accounting on top of the balance and
// inventory collaborators. Reserving moves coins or items out of the
// user's spendable pool into an escrow owned by the ledger; a transfer
// settles out of escrow, and a release returns the escrowed remainder.
//
// Reserve, Release, and Transfer are atomic with respect to each other
// for any given user: each user's escrow carries its own mutex, and
// Transfer locks both parties in a stable order.
type AssetLedger struct {
	balances  BalanceService
	inventory InventoryService

	mu      sync.Mutex
	escrows map[string]*escrow
}

// escrow holds a user's reserved-but-unsettled coins and items.
type escrow struct {
	mu    sync.Mutex
	coins int64
	items map[string]int64
}

// NewAssetLedger creates an AssetLedger over the given collaborators.
func NewAssetLedger(balances BalanceService, inventory InventoryService) *AssetLedger {
	return &AssetLedger{
		balances:  balances,
		inventory: inventory,
		escrows:   make(map[string]*escrow),
	}
}

func (l *AssetLedger) escrowFor(userID string) *escrow {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.escrows[userID]
	if !ok {
		e = &escrow{items: make(map[string]int64)}
		l.escrows[userID] = e
	}
	return e
}

// Reserve sets aside the assets an order needs to settle: for a buy,
// price×qty coins; for a sell, qty units of the item. It either fully
// succeeds or leaves all state unchanged, returning
// domain.ErrInsufficientFunds or domain.ErrInsufficientItems.
func (l *AssetLedger) Reserve(userID string, side domain.OrderSide, itemID string, price, qty int64) error {
	if side == domain.OrderSideBuy {
		return l.ReserveFunds(userID, price*qty)
	}
	return l.ReserveItems(userID, itemID, qty)
}

// Release returns an unconsumed reservation to the user: for a buy,
// price×qty coins; for a sell, qty units of the item. Called on cancel,
// expiry, or the unfilled remainder of a market order.
func (l *AssetLedger) Release(userID string, side domain.OrderSide, itemID string, price, qty int64) error {
	if side == domain.OrderSideBuy {
		return l.ReleaseFunds(userID, price*qty)
	}
	return l.ReleaseItems(userID, itemID, qty)
}

// ReserveFunds moves amount coins from the user's spendable balance
// into escrow.
func (l *AssetLedger) ReserveFunds(userID string, amount int64) error {
	e := l.escrowFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := l.balances.AdjustBalance(userID, -amount); err != nil {
		return err
	}
	e.coins += amount
	return nil
}

// ReleaseFunds returns amount escrowed coins to the user's spendable
// balance. Releasing more than is escrowed is an invariant violation.
func (l *AssetLedger) ReleaseFunds(userID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	e := l.escrowFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.coins < amount {
		return fmt.Errorf("%w: release of %d coins exceeds escrow %d for user %s",
			domain.ErrTransferFailed, amount, e.coins, userID)
	}
	e.coins -= amount
	return l.balances.AdjustBalance(userID, amount)
}

// ReserveItems moves qty units of an item from the user's tradable
// inventory into escrow.
func (l *AssetLedger) ReserveItems(userID, itemID string, qty int64) error {
	e := l.escrowFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := l.inventory.RemoveItems(userID, itemID, qty); err != nil {
		return err
	}
	e.items[itemID] += qty
	return nil
}

// ReleaseItems returns qty escrowed units of an item to the user's
// inventory. Releasing more than is escrowed is an invariant violation.
func (l *AssetLedger) ReleaseItems(userID, itemID string, qty int64) error {
	if qty == 0 {
		return nil
	}
	e := l.escrowFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.items[itemID] < qty {
		return fmt.Errorf("%w: release of %d %s exceeds escrow %d for user %s",
			domain.ErrTransferFailed, qty, itemID, e.items[itemID], userID)
	}
	e.items[itemID] -= qty
	return l.inventory.AddItems(userID, itemID, qty)
}

// Transfer settles one matched pairing: qty units of the item move from
// the seller's escrow to the buyer's inventory, and price×qty coins move
// from the buyer's escrow to the seller's balance. reservedPrice is the
// unit price at which the buyer's coins were escrowed (the buy order's
// limit price); when the execution price is better, the difference goes
// straight back to the buyer's spendable balance.
//
// Transfer never re-checks sufficiency against the wallet — both sides
// were reserved at submission. Any shortfall found here is an invariant
// violation reported as domain.ErrTransferFailed.
func (l *AssetLedger) Transfer(buyerID, sellerID, itemID string, price, reservedPrice, qty int64) error {
	buyer := l.escrowFor(buyerID)
	seller := l.escrowFor(sellerID)

	// Lock both escrows in user-id order so concurrent transfers
	// between the same pair cannot deadlock.
	if buyerID == sellerID {
		buyer.mu.Lock()
		defer buyer.mu.Unlock()
	} else if buyerID < sellerID {
		buyer.mu.Lock()
		defer buyer.mu.Unlock()
		seller.mu.Lock()
		defer seller.mu.Unlock()
	} else {
		seller.mu.Lock()
		defer seller.mu.Unlock()
		buyer.mu.Lock()
		defer buyer.mu.Unlock()
	}

	cost := reservedPrice * qty
	if buyer.coins < cost {
		return fmt.Errorf("%w: buyer %s escrow holds %d coins, pairing needs %d",
			domain.ErrTransferFailed, buyerID, buyer.coins, cost)
	}
	if seller.items[itemID] < qty {
		return fmt.Errorf("%w: seller %s escrow holds %d %s, pairing needs %d",
			domain.ErrTransferFailed, sellerID, seller.items[itemID], itemID, qty)
	}

	buyer.coins -= cost
	seller.items[itemID] -= qty

	if err := l.balances.AdjustBalance(sellerID, price*qty); err != nil {
		return fmt.Errorf("%w: crediting seller %s: %v", domain.ErrTransferFailed, sellerID, err)
	}
	if refund := (reservedPrice - price) * qty; refund > 0 {
		if err := l.balances.AdjustBalance(buyerID, refund); err != nil {
			return fmt.Errorf("%w: refunding buyer %s: %v", domain.ErrTransferFailed, buyerID, err)
		}
	}
	if err := l.inventory.AddItems(buyerID, itemID, qty); err != nil {
		return fmt.Errorf("%w: delivering to buyer %s: %v", domain.ErrTransferFailed, buyerID, err)
	}
	return nil
}

// Reserved returns a copy of the user's escrowed coins and items, for
// wallet display.
func (l *AssetLedger) Reserved(userID string) (int64, map[string]int64) {
	e := l.escrowFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	items := make(map[string]int64, len(e.items))
	for itemID, qty := range e.items {
		if qty > 0 {
			items[itemID] = qty
		}
	}
	return e.coins, items
}
