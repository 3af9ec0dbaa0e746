package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount          = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInvalidCurrency        = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrInvalidSignature       = &AppError{http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature is invalid"}
	ErrDuplicateReference     = &AppError{http.StatusConflict, "DUPLICATE_REFERENCE", "External reference already attached to another payment"}
	ErrIllegalTransition      = &AppError{http.StatusConflict, "ILLEGAL_TRANSITION", "Payment status does not allow this operation"}
	ErrAlreadyCompleted       = &AppError{http.StatusConflict, "ALREADY_COMPLETED", "Payment already completed"}
	ErrConversionInProgress   = &AppError{http.StatusConflict, "CONVERSION_IN_PROGRESS", "A conversion is already running for this payment"}
	ErrProviderUnavailable    = &AppError{http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "Payment provider is unavailable"}
	ErrInsufficientSettlement = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_AMOUNT_AFTER_FEES", "Amount after fees is too small to settle"}
	ErrIdempotencyConflict    = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
)
