package domain

import "errors"

var (
	// Account errors
	ErrAccountNotFound        = errors.New("account not found")
	ErrInvalidOperation       = errors.New("invalid operation")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInsufficientFunds      = errors.New("insufficient funds")

	// Money errors
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidCurrency  = errors.New("invalid currency code")

	// Transfer errors
	ErrSameAccount = errors.New("cannot transfer to same account")

	// Persistence errors
	ErrConcurrencyConflict    = errors.New("concurrency conflict: aggregate version changed")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// Event errors
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrCorruptEventStream = errors.New("corrupt event stream")

	// Dispatch errors
	ErrMessageBusUnavailable = errors.New("message bus unavailable")
)
