package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrUserAlreadyExists   = errors.New("user_already_exists")
	ErrUserNotFound        = errors.New("user_not_found")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrOrderNotCancellable = errors.New("order_not_cancellable")
	ErrNotOrderOwner       = errors.New("not_order_owner")
	ErrInsufficientFunds   = errors.New("insufficient_funds")
	ErrInsufficientItems   = errors.New("insufficient_items")
	ErrItemNotFound        = errors.New("item_not_found")
)

// ErrTransferFailed indicates that settlement of a single pairing hit a
// ledger invariant violation after both sides were reserved. The engine
// skips the pairing and logs it; the error never reaches callers.
var ErrTransferFailed = errors.New("transfer_failed")

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
