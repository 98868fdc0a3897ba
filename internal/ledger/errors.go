package ledger

import "errors"

var (
	// ErrInsufficientInventory rejects a sale larger than the remaining count.
	ErrInsufficientInventory = errors.New("ledger: insufficient inventory")
	// ErrInvalidInput rejects non-positive quantities and negative resync values.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrStoreUnavailable surfaces after the bounded retry budget is spent.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
)
