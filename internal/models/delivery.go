// internal/models/delivery.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryToken is a single-use proof-of-custody credential. There is exactly
// one row per (order, kind). RedeemedAt moves from nil to set exactly once.
type DeliveryToken struct {
	BaseModel
	OrderID        uuid.UUID  `json:"order_id" gorm:"type:uuid;not null;uniqueIndex:idx_delivery_tokens_order_kind"`
	Kind           TokenKind  `json:"kind" gorm:"type:varchar(20);not null;uniqueIndex:idx_delivery_tokens_order_kind"`
	HolderID       uuid.UUID  `json:"holder_id" gorm:"type:uuid;not null;index"`
	CodeHash       string     `json:"-" gorm:"size:255;not null"`
	PayloadHash    string     `json:"-" gorm:"size:64;not null"`
	IssuedAt       time.Time  `json:"issued_at" gorm:"not null"`
	SlotsOfferedAt *time.Time `json:"slots_offered_at,omitempty"`
	RedeemedAt     *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy     *uuid.UUID `json:"redeemed_by,omitempty" gorm:"type:uuid"`
}

// IsRedeemed reports whether the token has already been used.
func (t *DeliveryToken) IsRedeemed() bool {
	return t.RedeemedAt != nil
}

// DeliverySchedule records the slot a holder picked for a handoff.
type DeliverySchedule struct {
	BaseModel
	OrderID      uuid.UUID `json:"order_id" gorm:"type:uuid;not null;uniqueIndex:idx_delivery_schedules_order_kind"`
	Kind         TokenKind `json:"kind" gorm:"type:varchar(20);not null;uniqueIndex:idx_delivery_schedules_order_kind"`
	ScheduledBy  uuid.UUID `json:"scheduled_by" gorm:"type:uuid;not null"`
	SlotStart    time.Time `json:"slot_start" gorm:"not null"`
	SlotEnd      time.Time `json:"slot_end" gorm:"not null"`
	Address      string    `json:"address,omitempty" gorm:"type:text"`
	Instructions string    `json:"instructions,omitempty" gorm:"type:text"`
}
