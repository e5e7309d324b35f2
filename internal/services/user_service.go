// internal/services/user_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/handoff-backend/internal/database"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/utils"
)

// UserService keeps the contact directory notifications are addressed from
// and the participants' in-app inboxes.
type UserService struct {
	db *gorm.DB
}

// SyncContactRequest mirrors a participant from the identity provider.
type SyncContactRequest struct {
	Username string          `json:"username" validate:"required,min=3,max=50"`
	Email    string          `json:"email" validate:"required,email"`
	UserType models.UserType `json:"user_type" validate:"required,oneof=buyer seller rider admin"`
	Phone    string          `json:"phone,omitempty" validate:"omitempty,max=32"`
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{
		db: db,
	}
}

// SyncContact creates or replaces the directory entry for userID.
func (s *UserService) SyncContact(ctx context.Context, userID uuid.UUID, req *SyncContactRequest) (*models.User, error) {
	user := &models.User{
		BaseModel: models.BaseModel{ID: userID},
		Username:  req.Username,
		Email:     req.Email,
		UserType:  req.UserType,
		Phone:     req.Phone,
	}

	if err := database.Conn(ctx, s.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "email", "user_type", "phone", "updated_at"}),
	}).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to sync contact: %w", err)
	}

	return s.GetContact(ctx, userID)
}

func (s *UserService) GetContact(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := database.Conn(ctx, s.db).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &user, nil
}

// ListNotifications returns the caller's inbox, newest first.
func (s *UserService) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, params utils.PaginationParams) ([]models.Notification, int64, error) {
	query := database.Conn(ctx, s.db).Model(&models.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("status = ?", models.NotificationStatusUnread)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	var notifications []models.Notification
	if err := utils.ApplyPagination(query.Order("created_at DESC"), params).
		Find(&notifications).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch notifications: %w", err)
	}

	return notifications, total, nil
}

// MarkNotificationRead is idempotent; only the recipient may mark it.
func (s *UserService) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	now := time.Now().UTC()
	res := database.Conn(ctx, s.db).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Updates(map[string]interface{}{"status": models.NotificationStatusRead, "read_at": now, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to update notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
