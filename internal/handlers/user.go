// internal/handlers/user.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// GET /users/me
func (h *UserHandler) GetContact(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	user, err := h.userService.GetContact(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, user)
}

// PUT /admin/contacts/:id
// Called by the identity provider's sync job with admin credentials.
func (h *UserHandler) SyncContact(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.SyncContactRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.SyncContact(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, user)
}

// GET /notifications
func (h *UserHandler) GetNotifications(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	notifications, total, err := h.userService.ListNotifications(c.Request.Context(), userID, c.Query("unread") == "true", params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(notifications, total, params))
}

// PUT /notifications/:id/read
func (h *UserHandler) MarkNotificationRead(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	notificationID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.userService.MarkNotificationRead(c.Request.Context(), userID, notificationID); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"id": notificationID, "status": "read"})
}
