// internal/services/admin_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/handoff-backend/internal/database"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/utils"
)

// AdminService backs the operator console: queues, audit trail and ledger
// reconciliation.
type AdminService struct {
	db     *gorm.DB
	ledger *LedgerService
	logger *logrus.Logger
}

type AdminDashboardStats struct {
	OrdersByStatus  map[models.OrderStatus]int64 `json:"orders_by_status"`
	OpenDisputes    int64                        `json:"open_disputes"`
	HeldEscrow      int64                        `json:"held_escrow"`
	UnassignedPaid  int64                        `json:"unassigned_paid"`
	CompletedToday  int64                        `json:"completed_today"`
	PlatformRevenue int64                        `json:"platform_revenue"`
}

type AdminOrderFilter struct {
	utils.PaginationParams
	Status   *models.OrderStatus `json:"status,omitempty"`
	BuyerID  *uuid.UUID          `json:"buyer_id,omitempty"`
	SellerID *uuid.UUID          `json:"seller_id,omitempty"`
	RiderID  *uuid.UUID          `json:"rider_id,omitempty"`
}

type AdminDisputeFilter struct {
	utils.PaginationParams
	Status   *models.DisputeStatus   `json:"status,omitempty"`
	Priority *models.DisputePriority `json:"priority,omitempty"`
}

type AdminAuditFilter struct {
	utils.PaginationParams
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   *uuid.UUID `json:"resource_id,omitempty"`
}

func NewAdminService(db *gorm.DB, ledger *LedgerService, logger *logrus.Logger) *AdminService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdminService{
		db:     db,
		ledger: ledger,
		logger: logger,
	}
}

func (s *AdminService) GetDashboardStats(ctx context.Context) (*AdminDashboardStats, error) {
	db := database.Conn(ctx, s.db)
	stats := &AdminDashboardStats{OrdersByStatus: make(map[models.OrderStatus]int64)}

	var rows []struct {
		Status models.OrderStatus
		Count  int64
	}
	if err := db.Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	for _, r := range rows {
		stats.OrdersByStatus[r.Status] = r.Count
	}

	if err := db.Model(&models.Dispute{}).
		Where("status IN ?", []models.DisputeStatus{models.DisputeStatusOpen, models.DisputeStatusInvestigating}).
		Count(&stats.OpenDisputes).Error; err != nil {
		return nil, fmt.Errorf("failed to count disputes: %w", err)
	}

	if err := db.Model(&models.Order{}).
		Where("rider_id IS NULL AND status IN ?", []models.OrderStatus{models.OrderStatusPaid, models.OrderStatusPickupScheduled}).
		Count(&stats.UnassignedPaid).Error; err != nil {
		return nil, fmt.Errorf("failed to count unassigned orders: %w", err)
	}

	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	if err := db.Model(&models.Order{}).
		Where("status = ? AND completed_at >= ?", models.OrderStatusCompleted, startOfDay).
		Count(&stats.CompletedToday).Error; err != nil {
		return nil, fmt.Errorf("failed to count completed orders: %w", err)
	}

	// Escrow still held across all orders: platform entries other than fees.
	if err := db.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("party = ? AND type <> ?", models.PartyPlatform, models.LedgerEntryPayout).
		Scan(&stats.HeldEscrow).Error; err != nil {
		return nil, fmt.Errorf("failed to sum held escrow: %w", err)
	}

	if err := db.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("party = ? AND type = ?", models.PartyPlatform, models.LedgerEntryPayout).
		Scan(&stats.PlatformRevenue).Error; err != nil {
		return nil, fmt.Errorf("failed to sum platform revenue: %w", err)
	}

	return stats, nil
}

func (s *AdminService) GetOrders(ctx context.Context, filter AdminOrderFilter) ([]models.Order, int64, error) {
	query := database.Conn(ctx, s.db).Model(&models.Order{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.BuyerID != nil {
		query = query.Where("buyer_id = ?", *filter.BuyerID)
	}
	if filter.SellerID != nil {
		query = query.Where("seller_id = ?", *filter.SellerID)
	}
	if filter.RiderID != nil {
		query = query.Where("rider_id = ?", *filter.RiderID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []models.Order
	if err := utils.ApplyPagination(query.Order("created_at DESC"), filter.PaginationParams).
		Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch orders: %w", err)
	}

	return orders, total, nil
}

// GetDisputes is the resolution queue, highest priority and oldest first.
func (s *AdminService) GetDisputes(ctx context.Context, filter AdminDisputeFilter) ([]models.Dispute, int64, error) {
	query := database.Conn(ctx, s.db).Model(&models.Dispute{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Priority != nil {
		query = query.Where("priority = ?", *filter.Priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count disputes: %w", err)
	}

	var disputes []models.Dispute
	if err := utils.ApplyPagination(
		query.Order("CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END").Order("created_at ASC"),
		filter.PaginationParams,
	).Find(&disputes).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch disputes: %w", err)
	}

	return disputes, total, nil
}

func (s *AdminService) GetAuditLogs(ctx context.Context, filter AdminAuditFilter) ([]models.AuditLog, int64, error) {
	query := database.Conn(ctx, s.db).Model(&models.AuditLog{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.ResourceType != "" {
		query = query.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != nil {
		query = query.Where("resource_id = ?", *filter.ResourceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	var logs []models.AuditLog
	if err := utils.ApplyPagination(query.Order("created_at DESC"), filter.PaginationParams).
		Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch audit logs: %w", err)
	}

	return logs, total, nil
}

// Reconcile reports settled orders whose ledger does not sum to zero.
func (s *AdminService) Reconcile(ctx context.Context) ([]Imbalance, error) {
	imbalances, err := s.ledger.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	if len(imbalances) > 0 {
		s.logger.WithField("orders", len(imbalances)).Error("Ledger reconciliation found unbalanced orders")
	}
	return imbalances, nil
}
