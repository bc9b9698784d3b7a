package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// As extracts the *AppError from err's chain, or nil.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode reports whether err carries an AppError with the given code.
func IsCode(err error, code string) bool {
	appErr := As(err)
	return appErr != nil && appErr.Code == code
}

const (
	CodeValidation        = "VAL_001"
	CodeInsufficientFunds = "VAL_002"
	CodeAmountMismatch    = "VAL_003"
	CodeNotFound          = "NF_001"
	CodeConflict          = "CONF_001"
	CodeInvalidTransition = "STATE_001"
	CodeSignatureMissing  = "PROV_001"
	CodeSignatureInvalid  = "PROV_002"
	CodeUnknownProvider   = "PROV_003"
	CodeMalformedPayload  = "PROV_004"
	CodeInvalidToken      = "AUTH_001"
	CodeForbidden         = "AUTH_002"
	CodeRateLimitExceeded = "RATE_001"
	CodePersistence       = "SYS_001"
	CodeInternal          = "SYS_002"
)

// ---- Validation (VAL) ----

// Validation rejects input before any state mutation.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New(CodeValidation, "amount must be positive", http.StatusBadRequest)
}

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "insufficient_funds", http.StatusUnprocessableEntity)
}

func ErrAmountMismatch() *AppError {
	return New(CodeAmountMismatch, "amount_mismatch", http.StatusUnprocessableEntity)
}

// ---- Lookup (NF) ----

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Idempotency (CONF) ----

func ErrConflict(message string) *AppError {
	return New(CodeConflict, message, http.StatusConflict)
}

func ErrIdempotencyRace(err error) *AppError {
	return Wrap(CodeConflict, "idempotency key race could not be resolved", http.StatusConflict, err)
}

// ---- State machine (STATE) ----

func ErrInvalidTransition(entity, from, to string) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf("%s cannot move from %s to %s", entity, from, to), http.StatusConflict)
}

// ---- Provider notifications (PROV) ----

func ErrSignatureMissing() *AppError {
	return New(CodeSignatureMissing, "webhook signature missing", http.StatusUnauthorized)
}

func ErrSignatureInvalid() *AppError {
	return New(CodeSignatureInvalid, "webhook signature invalid", http.StatusUnauthorized)
}

func ErrUnknownProvider(provider string) *AppError {
	return New(CodeUnknownProvider, fmt.Sprintf("provider %q is not configured", provider), http.StatusNotFound)
}

func ErrMalformedPayload(err error) *AppError {
	return Wrap(CodeMalformedPayload, "webhook payload could not be parsed", http.StatusBadRequest, err)
}

// ---- Identity (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "insufficient role tier", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// ErrPersistence marks a retryable storage failure. Callers resend with the same idempotency key.
func ErrPersistence(err error) *AppError {
	return Wrap(CodePersistence, "storage unavailable", http.StatusServiceUnavailable, err)
}

// InternalError wraps an unexpected error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}
