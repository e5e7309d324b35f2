// internal/handlers/order.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/handoff-backend/internal/i18n"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

type OrderHandler struct {
	orderService  *services.OrderService
	ledgerService *services.LedgerService
}

func NewOrderHandler(orderService *services.OrderService, ledgerService *services.LedgerService) *OrderHandler {
	return &OrderHandler{
		orderService:  orderService,
		ledgerService: ledgerService,
	}
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// loadForParty fetches the order named in the path and checks that the
// caller is one of its parties or an admin.
func (h *OrderHandler) loadForParty(c *gin.Context) (*models.Order, uuid.UUID, bool) {
	userID, ok := caller(c)
	if !ok {
		return nil, uuid.Nil, false
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return nil, uuid.Nil, false
	}

	order, err := h.orderService.Get(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return nil, uuid.Nil, false
	}
	if !utils.IsAdmin(c) && !services.IsParty(order, userID) {
		respondError(c, services.ErrNotOrderParty)
		return nil, uuid.Nil, false
	}
	return order, userID, true
}

// GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, _, ok := h.loadForParty(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, order)
}

// POST /orders/:id/complete
// The buyer confirms receipt; escrow is released to the seller.
func (h *OrderHandler) CompleteOrder(c *gin.Context) {
	order, userID, ok := h.loadForParty(c)
	if !ok {
		return
	}
	if order.BuyerID != userID && !utils.IsAdmin(c) {
		respondError(c, services.ErrNotOrderParty)
		return
	}

	completed, err := h.orderService.Complete(c.Request.Context(), order.ID, &userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyOrderCompleted),
		"order":   completed,
	})
}

// POST /orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, userID, ok := h.loadForParty(c)
	if !ok {
		return
	}
	if order.RiderID != nil && *order.RiderID == userID {
		respondError(c, services.ErrNotOrderParty)
		return
	}

	var req CancelOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	cancelled, err := h.orderService.Cancel(c.Request.Context(), order.ID, &userID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyOrderCancelled),
		"order":   cancelled,
	})
}

// GET /orders/:id/ledger
func (h *OrderHandler) GetLedger(c *gin.Context) {
	order, _, ok := h.loadForParty(c)
	if !ok {
		return
	}

	entries, err := h.ledgerService.Entries(c.Request.Context(), order.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	balances, err := h.ledgerService.Balances(c.Request.Context(), order.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"entries":  entries,
		"balances": balances,
	})
}
