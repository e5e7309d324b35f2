// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

type AdminHandler struct {
	adminService *services.AdminService
}

func NewAdminHandler(adminService *services.AdminService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
	}
}

// GET /admin/dashboard/stats
func (h *AdminHandler) GetDashboardStats(c *gin.Context) {
	stats, err := h.adminService.GetDashboardStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"stats": stats,
	})
}

// GET /admin/orders
func (h *AdminHandler) GetOrders(c *gin.Context) {
	filter := services.AdminOrderFilter{
		PaginationParams: utils.GetPaginationParams(c),
	}

	if status := c.Query("status"); status != "" {
		s := models.OrderStatus(status)
		filter.Status = &s
	}
	filter.BuyerID = queryUUID(c, "buyer_id")
	filter.SellerID = queryUUID(c, "seller_id")
	filter.RiderID = queryUUID(c, "rider_id")

	orders, total, err := h.adminService.GetOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(orders, total, filter.PaginationParams))
}

// GET /admin/disputes
func (h *AdminHandler) GetDisputes(c *gin.Context) {
	filter := services.AdminDisputeFilter{
		PaginationParams: utils.GetPaginationParams(c),
	}

	if status := c.Query("status"); status != "" {
		s := models.DisputeStatus(status)
		filter.Status = &s
	}
	if priority := c.Query("priority"); priority != "" {
		p := models.DisputePriority(priority)
		filter.Priority = &p
	}

	disputes, total, err := h.adminService.GetDisputes(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(disputes, total, filter.PaginationParams))
}

// GET /admin/audit-logs
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	filter := services.AdminAuditFilter{
		PaginationParams: utils.GetPaginationParams(c),
		ResourceType:     c.Query("resource_type"),
		UserID:           queryUUID(c, "user_id"),
		ResourceID:       queryUUID(c, "resource_id"),
	}

	logs, total, err := h.adminService.GetAuditLogs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(logs, total, filter.PaginationParams))
}

// GET /admin/ledger/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	imbalances, err := h.adminService.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"balanced":   len(imbalances) == 0,
		"imbalances": imbalances,
	})
}

func queryUUID(c *gin.Context, name string) *uuid.UUID {
	if v := c.Query(name); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			return &id
		}
	}
	return nil
}
