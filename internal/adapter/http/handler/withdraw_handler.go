package handler

import (
	"strings"

	"boltcard-service/internal/adapter/http/dto"
	"boltcard-service/internal/core/ports"
	"boltcard-service/pkg/apperror"
	"boltcard-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// WithdrawHandler serves the LNURL-withdraw (LUD-03) endpoints hit by the
// paying wallet after a card tap. Everything here speaks the LUD wire form:
// errors are HTTP 200 with {"status":"ERROR"}.
type WithdrawHandler struct {
	withdrawSvc ports.WithdrawService
	baseURL     string
}

// NewWithdrawHandler creates a new WithdrawHandler. baseURL is the public
// base of this service, without a trailing slash.
func NewWithdrawHandler(withdrawSvc ports.WithdrawService, baseURL string) *WithdrawHandler {
	return &WithdrawHandler{
		withdrawSvc: withdrawSvc,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// Request handles GET /ln/withdraw/:idHash — the tap itself. The chip
// appends the encrypted PICC data (p) and the SunMAC (c) as query params.
func (h *WithdrawHandler) Request(c *gin.Context) {
	idHash := c.Param("idHash")
	piccHex := c.Query("p")
	macHex := c.Query("c")

	if piccHex == "" || macHex == "" {
		response.LnurlFail(c, apperror.ErrMalformedHex())
		return
	}

	callback := h.baseURL + "/ln/withdraw/" + idHash + "/callback"
	result, err := h.withdrawSvc.HandleRequest(c.Request.Context(), idHash, piccHex, macHex, callback)
	if err != nil {
		response.LnurlFail(c, err)
		return
	}

	response.Lnurl(c, dto.WithdrawResponse{
		Tag:                "withdrawRequest",
		Callback:           result.Callback,
		K1:                 result.K1,
		MinWithdrawable:    result.MinWithdrawableMsat,
		MaxWithdrawable:    result.MaxWithdrawableMsat,
		DefaultDescription: result.DefaultDescription,
	})
}

// Callback handles GET /ln/withdraw/:idHash/callback — the wallet presents
// its invoice (pr) together with the k1 from the offer.
func (h *WithdrawHandler) Callback(c *gin.Context) {
	idHash := c.Param("idHash")
	k1 := c.Query("k1")
	invoice := c.Query("pr")

	// k1 is the card id hash handed out in the offer; a mismatch means the
	// wallet crossed two withdraw flows.
	if invoice == "" || k1 == "" || k1 != idHash {
		response.LnurlFail(c, apperror.Validation("missing or mismatched callback parameters"))
		return
	}

	paymentHash, err := h.withdrawSvc.HandleCallback(c.Request.Context(), idHash, invoice)
	if err != nil {
		response.LnurlFail(c, err)
		return
	}

	response.Lnurl(c, dto.LnurlOK{Status: "OK", PaymentHash: paymentHash})
}
