// internal/handlers/schedule.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/handoff-backend/internal/i18n"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

// ScheduleHandler serves the slot-picking forms linked from notifications.
// Responses are HTML pages, not JSON envelopes.
type ScheduleHandler struct {
	deliveryService *services.DeliveryService
}

func NewScheduleHandler(deliveryService *services.DeliveryService) *ScheduleHandler {
	return &ScheduleHandler{
		deliveryService: deliveryService,
	}
}

type scheduleForm struct {
	OrderID      string `form:"order_id"`
	Slot         string `form:"slot"`
	Address      string `form:"address"`
	Instructions string `form:"instructions"`
}

type scheduleFunc func(c *gin.Context, holderID uuid.UUID, req *services.ScheduleRequest) (*services.ScheduleResult, error)

// POST /deliveries/schedule-pickup
func (h *ScheduleHandler) SchedulePickup(c *gin.Context) {
	h.handle(c, "Pickup scheduled", func(c *gin.Context, holderID uuid.UUID, req *services.ScheduleRequest) (*services.ScheduleResult, error) {
		return h.deliveryService.SchedulePickup(c.Request.Context(), holderID, req)
	})
}

// POST /deliveries/schedule-delivery
func (h *ScheduleHandler) ScheduleDelivery(c *gin.Context) {
	h.handle(c, "Delivery scheduled", func(c *gin.Context, holderID uuid.UUID, req *services.ScheduleRequest) (*services.ScheduleResult, error) {
		return h.deliveryService.ScheduleDelivery(c.Request.Context(), holderID, req)
	})
}

func (h *ScheduleHandler) handle(c *gin.Context, title string, schedule scheduleFunc) {
	lang := utils.GetLangFromContext(c)

	holderID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		h.renderError(c, http.StatusUnauthorized, "UNAUTHORIZED", i18n.T(lang, i18n.KeyAuthRequired))
		return
	}

	var form scheduleForm
	if err := c.ShouldBind(&form); err != nil {
		h.renderError(c, http.StatusBadRequest, "BAD_REQUEST", i18n.T(lang, i18n.KeyValidationInvalid, "form"))
		return
	}
	orderID, err := uuid.Parse(form.OrderID)
	if err != nil {
		h.renderError(c, http.StatusBadRequest, "BAD_REQUEST", i18n.T(lang, i18n.KeyValidationInvalid, "order_id"))
		return
	}

	req := &services.ScheduleRequest{
		OrderID:      orderID,
		Slot:         form.Slot,
		Address:      form.Address,
		Instructions: form.Instructions,
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		h.renderError(c, http.StatusBadRequest, "VALIDATION_ERROR", validationErrors[0].Message)
		return
	}

	result, err := schedule(c, holderID, req)
	if err != nil {
		f := classify(c, err)
		_ = c.Error(err)
		h.renderError(c, f.status, f.code, f.message)
		return
	}

	c.HTML(http.StatusOK, "schedule_ack.html", gin.H{
		"Lang":    lang,
		"Title":   title,
		"Message": i18n.T(lang, i18n.KeyDeliveryScheduled),
		"OrderID": result.Order.ID,
		"Slot":    result.Slot.Label,
		"Address": result.Schedule.Address,
	})
}

func (h *ScheduleHandler) renderError(c *gin.Context, status int, code, message string) {
	c.HTML(status, "schedule_error.html", gin.H{
		"Lang":    utils.GetLangFromContext(c),
		"Code":    code,
		"Message": message,
	})
}
