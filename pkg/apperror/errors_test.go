package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	e := New("LIMIT_001", "Insufficient balance", http.StatusPaymentRequired)
	assert.Equal(t, "[LIMIT_001] Insufficient balance", e.Error())

	wrapped := Wrap("SYS_002", "Internal database error", http.StatusInternalServerError, errors.New("conn refused"))
	assert.Equal(t, "[SYS_002] Internal database error: conn refused", wrapped.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	e := InternalError(inner)
	assert.True(t, errors.Is(e, inner))
}

func TestAppError_StatusCodes(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{ErrCardAuthFailed(), http.StatusUnauthorized},
		{ErrCounterReplay(), http.StatusUnauthorized},
		{ErrInsufficientBalance(), http.StatusPaymentRequired},
		{ErrDailyLimitReached(), http.StatusUnprocessableEntity},
		{ErrCardNotFound(), http.StatusNotFound},
		{ErrCardNotActive(), http.StatusForbidden},
		{ErrRegistrationInvalid(), http.StatusGone},
		{ErrUIDOwnedByOther(), http.StatusConflict},
		{ErrPaymentFailed(errors.New("x")), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
}

func TestReason(t *testing.T) {
	assert.Equal(t, "Daily spending limit reached", Reason(ErrDailyLimitReached()))
	assert.Equal(t, "Internal server error", Reason(errors.New("raw internal thing")))
	assert.Equal(t, "Invalid invoice: missing amount", Reason(ErrInvalidInvoice("missing amount")))
	assert.Equal(t, "Internal server error", Reason(fmt.Errorf("wrapped: %w", errors.New("x"))))
}
