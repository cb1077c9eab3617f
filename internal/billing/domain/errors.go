package billing

import "errors"

var (
	// ErrConflict indicates a definition already exists for the tenant and period.
	ErrConflict = errors.New("billing: definition already exists for period")
	// ErrAlreadySent indicates the definition was dispatched and is now frozen.
	ErrAlreadySent = errors.New("billing: definition already sent")
	// ErrNotFound indicates the definition or due does not exist.
	ErrNotFound = errors.New("billing: not found")
	// ErrInvalidPeriod indicates a malformed billing period.
	ErrInvalidPeriod = errors.New("billing: invalid period")
	// ErrNoExpenseItems indicates an empty expense list.
	ErrNoExpenseItems = errors.New("billing: no expense items")
	// ErrNegativeAmount indicates a negative expense amount.
	ErrNegativeAmount = errors.New("billing: negative amount")
	// ErrEmptyItemName indicates an expense item without a name.
	ErrEmptyItemName = errors.New("billing: empty expense item name")
	// ErrNoApartments indicates the tenant has no apartments to allocate to.
	ErrNoApartments = errors.New("billing: apartment count must be positive")
	// ErrMissingDueDate indicates the definition has no due date.
	ErrMissingDueDate = errors.New("billing: missing due date")
	// ErrAmountMismatch indicates a supplied per-apartment amount disagrees with the computed one.
	ErrAmountMismatch = errors.New("billing: per-apartment amount does not match allocation")
	// ErrInvalidTransition indicates an illegal apartment due status change.
	ErrInvalidTransition = errors.New("billing: invalid status transition")
)
