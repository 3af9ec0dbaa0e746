package domain

import "errors"

var (
	ErrNotFound                    = errors.New("not found")
	ErrInvalidAmount               = errors.New("amount must be greater than zero")
	ErrInvalidCurrency             = errors.New("invalid currency")
	ErrInvalidRequest              = errors.New("invalid request")
	ErrDuplicateReference          = errors.New("external reference already attached to another payment")
	ErrIllegalTransition           = errors.New("illegal status transition")
	ErrSignatureInvalid            = errors.New("webhook signature verification failed")
	ErrInsufficientAmountAfterFees = errors.New("insufficient amount after fees")
	ErrAlreadyCompleted            = errors.New("payment already completed")
	ErrProviderUnavailable         = errors.New("payment provider unavailable")
	ErrConversionInProgress        = errors.New("conversion already in progress")
	ErrUnknownProvider             = errors.New("unknown provider")
)
