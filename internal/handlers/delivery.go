// internal/handlers/delivery.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/handoff-backend/internal/i18n"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

type DeliveryHandler struct {
	deliveryService *services.DeliveryService
}

func NewDeliveryHandler(deliveryService *services.DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{
		deliveryService: deliveryService,
	}
}

// UpdateStatusRequest is a rider reporting a handoff. The token is presented
// either as the typed verification code or as the scanned payload.
type UpdateStatusRequest struct {
	Status           models.OrderStatus `json:"status" validate:"required,oneof=picked_up delivered"`
	Notes            string             `json:"notes,omitempty" validate:"max=1000"`
	VerificationCode string             `json:"verification_code,omitempty" validate:"required_without=Payload,verification_code"`
	Payload          string             `json:"payload,omitempty"`
	Location         string             `json:"location,omitempty" validate:"max=255"`
}

// status reported by the rider -> token that proves it
var statusTokens = map[models.OrderStatus]models.TokenKind{
	models.OrderStatusPickedUp:  models.TokenKindPickup,
	models.OrderStatusDelivered: models.TokenKindDelivery,
}

// GET /deliveries/pending
func (h *DeliveryHandler) GetPendingDeliveries(c *gin.Context) {
	orders, err := h.deliveryService.PendingDeliveries(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	params := utils.GetPaginationParams(c)
	start, end := params.Bounds(len(orders))
	utils.PaginatedResponse(c, utils.CreatePaginationResult(orders[start:end], int64(len(orders)), params))
}

// GET /deliveries/assigned
func (h *DeliveryHandler) GetAssignedDeliveries(c *gin.Context) {
	riderID, ok := caller(c)
	if !ok {
		return
	}

	orders, err := h.deliveryService.AssignedDeliveries(c.Request.Context(), riderID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, orders)
}

// POST /deliveries/:id/assign
func (h *DeliveryHandler) AssignDelivery(c *gin.Context) {
	riderID, ok := caller(c)
	if !ok {
		return
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	order, err := h.deliveryService.AssignRider(c.Request.Context(), orderID, riderID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, order)
}

// PUT /deliveries/:id/status
func (h *DeliveryHandler) UpdateDeliveryStatus(c *gin.Context) {
	riderID, ok := caller(c)
	if !ok {
		return
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	kind, supported := statusTokens[req.Status]
	if !supported {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyDeliveryStatusBad), nil)
		return
	}

	result, err := h.deliveryService.Redeem(c.Request.Context(), &services.RedeemRequest{
		OrderID:  orderID,
		Kind:     kind,
		Code:     req.VerificationCode,
		Payload:  req.Payload,
		RiderID:  riderID,
		Notes:    req.Notes,
		Location: req.Location,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// GET /deliveries/:id/history
func (h *DeliveryHandler) GetDeliveryHistory(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	history, err := h.deliveryService.History(c.Request.Context(), orderID, userID, utils.IsAdmin(c))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, history)
}
