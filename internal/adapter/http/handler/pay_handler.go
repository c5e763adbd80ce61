package handler

import (
	"strconv"
	"strings"

	"boltcard-service/internal/adapter/http/dto"
	"boltcard-service/internal/core/ports"
	"boltcard-service/pkg/apperror"
	"boltcard-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// PayHandler serves the LNURL-pay (LUD-06) endpoints used to top a card up.
// Like the withdraw side, all responses are the LUD wire form at HTTP 200.
type PayHandler struct {
	topUpSvc ports.TopUpService
	baseURL  string
}

// NewPayHandler creates a new PayHandler.
func NewPayHandler(topUpSvc ports.TopUpService, baseURL string) *PayHandler {
	return &PayHandler{
		topUpSvc: topUpSvc,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Request handles GET /ln/pay/:idHash — the pay offer with sendable bounds
// and metadata.
func (h *PayHandler) Request(c *gin.Context) {
	idHash := c.Param("idHash")

	callback := h.baseURL + "/ln/pay/" + idHash + "/callback"
	result, err := h.topUpSvc.PayRequest(c.Request.Context(), idHash, callback)
	if err != nil {
		response.LnurlFail(c, err)
		return
	}

	response.Lnurl(c, dto.PayResponse{
		Tag:            "payRequest",
		Callback:       result.Callback,
		MinSendable:    result.MinSendableMsat,
		MaxSendable:    result.MaxSendableMsat,
		Metadata:       result.Metadata,
		CommentAllowed: result.CommentAllowed,
	})
}

// Callback handles GET /ln/pay/:idHash/callback?amount=<msat> — creates the
// invoice the sender will pay.
func (h *PayHandler) Callback(c *gin.Context) {
	idHash := c.Param("idHash")

	amountMsat, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil {
		response.LnurlFail(c, apperror.Validation("invalid amount"))
		return
	}

	result, err := h.topUpSvc.PayCallback(c.Request.Context(), idHash, amountMsat, c.Query("comment"))
	if err != nil {
		response.LnurlFail(c, err)
		return
	}

	resp := dto.PayCallbackResponse{
		PR:     result.PaymentRequest,
		Routes: []interface{}{},
	}
	if result.SuccessMessage != "" {
		resp.SuccessAction = &dto.SuccessAction{Tag: "message", Message: result.SuccessMessage}
	}
	response.Lnurl(c, resp)
}
