package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/settleworks/paygate/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

func RespondDomainError(w http.ResponseWriter, err error) {
	var appErr *AppError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		appErr = ErrResourceNotFound
	case errors.Is(err, domain.ErrUnknownProvider):
		appErr = ErrResourceNotFound
	case errors.Is(err, domain.ErrInvalidAmount):
		appErr = ErrInvalidAmount
	case errors.Is(err, domain.ErrInvalidCurrency):
		appErr = ErrInvalidCurrency
	case errors.Is(err, domain.ErrInvalidRequest):
		appErr = ErrInvalidRequest
	case errors.Is(err, domain.ErrDuplicateReference):
		appErr = ErrDuplicateReference
	case errors.Is(err, domain.ErrIllegalTransition):
		appErr = ErrIllegalTransition
	case errors.Is(err, domain.ErrAlreadyCompleted):
		appErr = ErrAlreadyCompleted
	case errors.Is(err, domain.ErrConversionInProgress):
		appErr = ErrConversionInProgress
	case errors.Is(err, domain.ErrProviderUnavailable):
		appErr = ErrProviderUnavailable
	case errors.Is(err, domain.ErrInsufficientAmountAfterFees):
		appErr = ErrInsufficientSettlement
	case errors.Is(err, domain.ErrSignatureInvalid):
		appErr = ErrInvalidSignature
	default:
		slog.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}

	RespondAppError(w, appErr, nil)
}
