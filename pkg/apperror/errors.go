package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses. The Message is
// what LNURL clients see in the `reason` field, so it must stay human-readable.
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

// ---- Card cryptography (CRYPTO) ----
// These always fail closed: no partially-trusted tap data leaves the crypto layer.

func ErrMalformedHex() *AppError {
	return New("CRYPTO_001", "Malformed hex parameter", http.StatusBadRequest)
}

func ErrCardAuthFailed() *AppError {
	return New("CRYPTO_002", "Card authentication failed", http.StatusUnauthorized)
}

func ErrUIDMismatch() *AppError {
	return New("CRYPTO_003", "Card UID mismatch", http.StatusUnauthorized)
}

// ---- Replay protection (REPLAY) ----

func ErrCounterReplay() *AppError {
	return New("REPLAY_001", "Tap counter already used", http.StatusUnauthorized)
}

// ---- Spending limits (LIMIT) ----
// Reported to the LNURL client verbatim; the card stays usable.

func ErrInsufficientBalance() *AppError {
	return New("LIMIT_001", "Insufficient balance", http.StatusPaymentRequired)
}

func ErrMaxTxAmountExceeded() *AppError {
	return New("LIMIT_002", "Transaction amount above card limit", http.StatusUnprocessableEntity)
}

func ErrDailyLimitReached() *AppError {
	return New("LIMIT_003", "Daily spending limit reached", http.StatusUnprocessableEntity)
}

// ---- Wallet backend (PAYMENT) ----

func ErrPaymentFailed(err error) *AppError {
	return Wrap("PAYMENT_001", "Payment failed", http.StatusBadGateway, err)
}

func ErrInvoiceCreationFailed(err error) *AppError {
	return Wrap("PAYMENT_002", "Invoice creation failed", http.StatusBadGateway, err)
}

func ErrInvalidInvoice(reason string) *AppError {
	return New("PAYMENT_003", fmt.Sprintf("Invalid invoice: %s", reason), http.StatusBadRequest)
}

// ---- Card / registration state (STATE) ----

func ErrCardNotFound() *AppError {
	return New("STATE_001", "Card not found", http.StatusNotFound)
}

func ErrCardNotActive() *AppError {
	return New("STATE_002", "Card is not active", http.StatusForbidden)
}

func ErrCardCannotTopUp() *AppError {
	return New("STATE_003", "Card cannot be topped up", http.StatusForbidden)
}

func ErrRegistrationInvalid() *AppError {
	return New("STATE_004", "Registration expired or already used", http.StatusGone)
}

func ErrUIDOwnedByOther() *AppError {
	return New("STATE_005", "Card UID is registered to another owner", http.StatusConflict)
}

func ErrTopUpNotFound() *AppError {
	return New("STATE_006", "Pending top-up not found", http.StatusNotFound)
}

// ---- System & infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_002", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("SYS_004", message, http.StatusBadRequest)
}

// Reason extracts the client-facing reason string for LNURL error envelopes.
// Unknown errors collapse to a generic message so internals never leak.
func Reason(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}
