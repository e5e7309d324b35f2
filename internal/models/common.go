// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Base model with common fields. Rows in this service are never deleted,
// so there is no soft-delete column.
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return nil
}

// StringArray maps to a Postgres text[] column through lib/pq. Other
// dialects store the same array literal in a text column.
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	return pq.StringArray(a).Value()
}

func (a *StringArray) Scan(src interface{}) error {
	return (*pq.StringArray)(a).Scan(src)
}

func (StringArray) GormDataType() string {
	return "text"
}

func (StringArray) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Enums
type UserType string

const (
	UserTypeBuyer  UserType = "buyer"
	UserTypeSeller UserType = "seller"
	UserTypeRider  UserType = "rider"
	UserTypeAdmin  UserType = "admin"
)

type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusPaid              OrderStatus = "paid"
	OrderStatusPickupScheduled   OrderStatus = "pickup_scheduled"
	OrderStatusPickedUp          OrderStatus = "picked_up"
	OrderStatusDeliveryScheduled OrderStatus = "delivery_scheduled"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusDisputed          OrderStatus = "disputed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusRefunded          OrderStatus = "refunded"
)

// IsTerminal reports whether no further transition can leave the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

type LedgerEntryType string

const (
	LedgerEntryCredit        LedgerEntryType = "credit"
	LedgerEntryDebit         LedgerEntryType = "debit"
	LedgerEntryEscrowHold    LedgerEntryType = "escrow_hold"
	LedgerEntryEscrowRelease LedgerEntryType = "escrow_release"
	LedgerEntryPayout        LedgerEntryType = "payout"
	LedgerEntryRefund        LedgerEntryType = "refund"
)

type LedgerParty string

const (
	PartyBuyer    LedgerParty = "buyer"
	PartySeller   LedgerParty = "seller"
	PartyPlatform LedgerParty = "platform"
)

type LedgerEntryStatus string

const (
	LedgerEntryStatusPending   LedgerEntryStatus = "pending"
	LedgerEntryStatusCompleted LedgerEntryStatus = "completed"
	LedgerEntryStatusFailed    LedgerEntryStatus = "failed"
)

type TokenKind string

const (
	TokenKindPickup   TokenKind = "pickup"
	TokenKindDelivery TokenKind = "delivery"
)

type DisputeStatus string

const (
	DisputeStatusOpen          DisputeStatus = "open"
	DisputeStatusInvestigating DisputeStatus = "investigating"
	DisputeStatusResolved      DisputeStatus = "resolved"
	DisputeStatusClosed        DisputeStatus = "closed"
)

// IsUnresolved reports whether the dispute still freezes settlement.
func (s DisputeStatus) IsUnresolved() bool {
	return s == DisputeStatusOpen || s == DisputeStatusInvestigating
}

type DisputePriority string

const (
	DisputePriorityLow    DisputePriority = "low"
	DisputePriorityMedium DisputePriority = "medium"
	DisputePriorityHigh   DisputePriority = "high"
)

type TransitionOrigin string

const (
	OriginPayment           TransitionOrigin = "payment"
	OriginSchedule          TransitionOrigin = "schedule"
	OriginRedemption        TransitionOrigin = "redemption"
	OriginSettlement        TransitionOrigin = "settlement"
	OriginCancellation      TransitionOrigin = "cancellation"
	OriginDisputeOpened     TransitionOrigin = "dispute_opened"
	OriginDisputeResolution TransitionOrigin = "dispute_resolution"
)
