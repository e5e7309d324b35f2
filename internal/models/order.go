// internal/models/order.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order is a single sale. Amounts are in minor units (cents).
type Order struct {
	BaseModel
	BuyerID          uuid.UUID   `json:"buyer_id" gorm:"type:uuid;not null;index"`
	SellerID         uuid.UUID   `json:"seller_id" gorm:"type:uuid;not null;index"`
	ItemID           uuid.UUID   `json:"item_id" gorm:"type:uuid;not null;index"`
	RiderID          *uuid.UUID  `json:"rider_id,omitempty" gorm:"type:uuid;index"`
	TotalAmount      int64       `json:"total_amount" gorm:"not null"`
	PlatformFee      int64       `json:"platform_fee" gorm:"not null"`
	SellerNetAmount  int64       `json:"seller_net_amount" gorm:"not null"`
	Currency         string      `json:"currency" gorm:"size:3;not null;default:'usd'"`
	Status           OrderStatus `json:"status" gorm:"type:varchar(32);not null;index"`
	PaymentReference string      `json:"payment_reference" gorm:"size:255;not null;uniqueIndex"`
	DeliveredAt      *time.Time  `json:"delivered_at,omitempty" gorm:"index"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// OrderStatusChange is one row of the ordered status-change log.
type OrderStatusChange struct {
	ID         uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	OrderID    uuid.UUID        `json:"order_id" gorm:"type:uuid;not null;index"`
	FromStatus OrderStatus      `json:"from_status" gorm:"type:varchar(32)"`
	ToStatus   OrderStatus      `json:"to_status" gorm:"type:varchar(32);not null"`
	ActorID    *uuid.UUID       `json:"actor_id,omitempty" gorm:"type:uuid"`
	Origin     TransitionOrigin `json:"origin" gorm:"type:varchar(32);not null"`
	Notes      string           `json:"notes,omitempty" gorm:"type:text"`
	Location   string           `json:"location,omitempty" gorm:"size:255"`
	CreatedAt  time.Time        `json:"created_at" gorm:"index"`
}

func (OrderStatusChange) TableName() string {
	return "order_status_history"
}

func (c *OrderStatusChange) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
