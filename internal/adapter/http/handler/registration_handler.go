package handler

import (
	"time"

	"boltcard-service/internal/adapter/http/dto"
	"boltcard-service/internal/core/domain"
	"boltcard-service/internal/core/ports"
	"boltcard-service/pkg/apperror"
	"boltcard-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegistrationHandler handles the card registration lifecycle: create the
// intent, hand keys to the NFC-programming app, cancel.
type RegistrationHandler struct {
	regSvc ports.RegistrationService
}

// NewRegistrationHandler creates a new RegistrationHandler.
func NewRegistrationHandler(regSvc ports.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{regSvc: regSvc}
}

// Create handles POST /api/v1/registrations.
func (h *RegistrationHandler) Create(c *gin.Context) {
	var req dto.CreateRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	reg, deeplink, err := h.regSvc.CreatePending(c.Request.Context(), ports.CreateRegistrationParams{
		OwnerPubkey: req.OwnerPubkey,
		WalletID:    req.WalletID,
		BtcWalletID: req.BtcWalletID,
		APIKey:      req.APIKey,
		Currency:    domain.Currency(req.Currency),
		MaxTxAmount: req.MaxTxAmount,
		DailyLimit:  req.DailyLimit,
		Environment: req.Environment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RegistrationResponse{
		ID:              reg.ID.String(),
		Status:          string(reg.Status),
		ExpiresAt:       reg.ExpiresAt.UTC().Format(time.RFC3339),
		ProgramDeeplink: deeplink,
	})
}

// Keys handles GET /api/v1/registrations/:id/keys?uid=<hex> — called by the
// NFC app once it has read the chip UID. This is the one-shot completion:
// it mints (or re-programs) the card and returns the slot keys.
func (h *RegistrationHandler) Keys(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid registration id"))
		return
	}

	uid := c.Query("uid")
	if uid == "" {
		response.Error(c, apperror.Validation("uid query parameter required"))
		return
	}

	result, err := h.regSvc.Complete(c.Request.Context(), id, uid)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.CardKeysResponse{
		LNURLW: result.LNURLW,
		K0:     result.K0,
		K1:     result.K1,
		K2:     result.K2,
		K3:     result.K3,
		K4:     result.K4,
	})
}

// Cancel handles DELETE /api/v1/registrations/:id.
func (h *RegistrationHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid registration id"))
		return
	}

	if err := h.regSvc.Cancel(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"status": "CANCELLED"})
}
