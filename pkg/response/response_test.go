package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"boltcard-service/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestOK_Envelope(t *testing.T) {
	c, w := newTestContext()
	OK(c, gin.H{"balance": 1000})

	assert.Equal(t, http.StatusOK, w.Code)
	var body SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
	assert.NotEmpty(t, body.Timestamp)
}

func TestError_AppError(t *testing.T) {
	c, w := newTestContext()
	Error(c, apperror.ErrCardNotFound())

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "STATE_001", body.ErrorCode)
}

func TestError_UnknownError(t *testing.T) {
	c, w := newTestContext()
	Error(c, errors.New("something leaked"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SYS_000", body.ErrorCode)
	assert.Equal(t, "Internal server error", body.Message)
}

func TestLnurlFail_AlwaysHTTP200(t *testing.T) {
	c, w := newTestContext()
	LnurlFail(c, apperror.ErrDailyLimitReached())

	assert.Equal(t, http.StatusOK, w.Code)
	var body LnurlError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ERROR", body.Status)
	assert.Equal(t, "Daily spending limit reached", body.Reason)
}

func TestLnurlFail_HidesInternals(t *testing.T) {
	c, w := newTestContext()
	LnurlFail(c, errors.New("pq: connection refused"))

	var body LnurlError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Internal server error", body.Reason)
}
