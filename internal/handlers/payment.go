// internal/handlers/payment.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/handoff-backend/internal/i18n"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// POST /payments/confirm
// The buyer reports a captured payment intent; the order, its escrow hold
// and both delivery tokens are created from it.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	buyerID, ok := caller(c)
	if !ok {
		return
	}

	var req services.ConfirmPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.paymentService.ConfirmPayment(c.Request.Context(), buyerID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPaymentConfirmed),
		"order":   order,
	})
}

// GET /payments/balance
func (h *PaymentHandler) GetBalance(c *gin.Context) {
	sellerID, ok := caller(c)
	if !ok {
		return
	}

	balance, err := h.paymentService.GetSellerBalance(c.Request.Context(), sellerID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, balance)
}
