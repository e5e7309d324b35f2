// internal/handlers/verification.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

type VerificationHandler struct {
	deliveryService *services.DeliveryService
}

func NewVerificationHandler(deliveryService *services.DeliveryService) *VerificationHandler {
	return &VerificationHandler{
		deliveryService: deliveryService,
	}
}

type VerifyPayloadRequest struct {
	Payload string `json:"payload" validate:"required"`
}

// POST /deliveries/verify
// Scanner pre-check: is this payload genuine and redeemable right now.
func (h *VerificationHandler) VerifyPayload(c *gin.Context) {
	var req VerifyPayloadRequest
	if !bindJSON(c, &req) {
		return
	}

	check, err := h.deliveryService.VerifyPayload(c.Request.Context(), req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, check)
}

// GET /deliveries/:id/tokens/:kind
func (h *VerificationHandler) GetToken(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	kind := models.TokenKind(c.Param("kind"))
	if kind != models.TokenKindPickup && kind != models.TokenKindDelivery {
		utils.BadRequestResponse(c, "Unknown token kind", nil)
		return
	}

	token, slots, err := h.deliveryService.Token(c.Request.Context(), orderID, kind, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"token": token,
		"slots": slots,
	})
}
