package payments

import "errors"

var (
	// ErrNotFound indicates no local transaction matches.
	ErrNotFound = errors.New("payments: transaction not found")
	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("payments: invalid status transition")
	// ErrInvalidAmount indicates a non-positive or over-limit amount.
	ErrInvalidAmount = errors.New("payments: invalid amount")
	// ErrDuplicateOrder indicates the order id is already taken.
	ErrDuplicateOrder = errors.New("payments: duplicate order id")
	// ErrMissingReference indicates neither order id nor session token was given.
	ErrMissingReference = errors.New("payments: order id or session token required")
)
