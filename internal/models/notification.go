// internal/models/notification.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusUnread NotificationStatus = "unread"
	NotificationStatusRead   NotificationStatus = "read"
)

// Notification is the in-app copy of a message sent to a participant.
type Notification struct {
	BaseModel
	UserID  uuid.UUID          `json:"user_id" gorm:"type:uuid;not null;index"`
	Type    string             `json:"type" gorm:"type:varchar(50);not null;index"`
	Title   string             `json:"title" gorm:"size:255;not null"`
	Message string             `json:"message" gorm:"type:text;not null"`
	Data    JSONB              `json:"data,omitempty" gorm:"type:jsonb"`
	Status  NotificationStatus `json:"status" gorm:"type:varchar(20);default:'unread';index"`
	OrderID *uuid.UUID         `json:"order_id,omitempty" gorm:"type:uuid;index"`
	ReadAt  *time.Time         `json:"read_at,omitempty"`
}
