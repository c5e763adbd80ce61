package handler

import (
	"context"
	"strconv"
	"time"

	"boltcard-service/internal/adapter/http/dto"
	"boltcard-service/internal/core/ports"
	"boltcard-service/pkg/apperror"
	"boltcard-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CardHandler handles card management endpoints: lifecycle transitions,
// balance and transaction queries, and top-up reconciliation.
type CardHandler struct {
	ledgerSvc ports.LedgerService
	topUpSvc  ports.TopUpService
	regSvc    ports.RegistrationService
}

// NewCardHandler creates a new CardHandler.
func NewCardHandler(ledgerSvc ports.LedgerService, topUpSvc ports.TopUpService, regSvc ports.RegistrationService) *CardHandler {
	return &CardHandler{ledgerSvc: ledgerSvc, topUpSvc: topUpSvc, regSvc: regSvc}
}

func (h *CardHandler) cardID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid card id"))
		return uuid.Nil, false
	}
	return id, true
}

// Get handles GET /api/v1/cards/:id.
func (h *CardHandler) Get(c *gin.Context) {
	id, ok := h.cardID(c)
	if !ok {
		return
	}

	card, err := h.ledgerSvc.GetCard(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.CardFromDomain(card))
}

// Activate handles POST /api/v1/cards/:id/activate.
func (h *CardHandler) Activate(c *gin.Context) {
	h.transition(c, h.ledgerSvc.ActivateCard)
}

// Disable handles POST /api/v1/cards/:id/disable.
func (h *CardHandler) Disable(c *gin.Context) {
	h.transition(c, h.ledgerSvc.DisableCard)
}

// Enable handles POST /api/v1/cards/:id/enable.
func (h *CardHandler) Enable(c *gin.Context) {
	h.transition(c, h.ledgerSvc.EnableCard)
}

func (h *CardHandler) transition(c *gin.Context, fn func(ctx context.Context, id uuid.UUID) error) {
	id, ok := h.cardID(c)
	if !ok {
		return
	}

	if err := fn(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}

	card, err := h.ledgerSvc.GetCard(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.CardFromDomain(card))
}

// Wipe handles POST /api/v1/cards/:id/wipe. The response carries the
// boltcard://reset deeplink for clearing the physical chip.
func (h *CardHandler) Wipe(c *gin.Context) {
	id, ok := h.cardID(c)
	if !ok {
		return
	}

	if err := h.ledgerSvc.WipeCard(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}

	card, err := h.ledgerSvc.GetCard(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.WipeResponse{
		Status:        string(card.Status),
		ResetDeeplink: h.regSvc.ResetDeeplink(card),
	})
}

// Balance handles GET /api/v1/cards/:id/balance.
func (h *CardHandler) Balance(c *gin.Context) {
	id, ok := h.cardID(c)
	if !ok {
		return
	}

	card, err := h.ledgerSvc.GetCard(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		Balance:         card.Balance,
		Currency:        string(card.Currency),
		DailySpent:      card.EffectiveDailySpent(time.Now()),
		MaxWithdrawable: card.MaxWithdrawable(time.Now()),
	})
}

// Transactions handles GET /api/v1/cards/:id/transactions?limit=.
func (h *CardHandler) Transactions(c *gin.Context) {
	id, ok := h.cardID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, apperror.Validation("invalid limit"))
			return
		}
		limit = parsed
	}

	txns, err := h.ledgerSvc.ListTransactions(c.Request.Context(), id, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.TransactionsFromDomain(txns))
}

// CheckTopUps handles POST /api/v1/cards/:id/topups/check — polls the wallet
// backend for the card's outstanding invoices and credits settled ones.
func (h *CardHandler) CheckTopUps(c *gin.Context) {
	id, ok := h.cardID(c)
	if !ok {
		return
	}

	card, err := h.ledgerSvc.GetCard(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	credited, err := h.topUpSvc.CheckPending(c.Request.Context(), card.IDHash)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.CheckTopUpsResponse{Credited: credited})
}
