package txn

import "errors"

// Store-level step failures the composer surfaces unchanged. They are
// sentinels so callers can classify a rolled-back commit without
// string matching.
var (
	ErrInsufficientFunds = errors.New("balance would go negative")
	ErrInsufficientItems = errors.New("inventory would go negative")
	ErrNotHeld           = errors.New("resource not held")
	ErrTaskNotClaimable  = errors.New("task not in SCHEDULED state")
)
