// internal/models/dispute.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispute is a hold placed on settlement. At most one non-closed dispute may
// exist per order; a partial unique index enforces it.
type Dispute struct {
	BaseModel
	OrderID      uuid.UUID       `json:"order_id" gorm:"type:uuid;not null;index"`
	ReporterID   uuid.UUID       `json:"reporter_id" gorm:"type:uuid;not null;index"`
	ReportedID   uuid.UUID       `json:"reported_id" gorm:"type:uuid;not null"`
	Category     string          `json:"category" gorm:"size:50;not null"`
	Description  string          `json:"description" gorm:"type:text;not null"`
	Status       DisputeStatus   `json:"status" gorm:"type:varchar(20);not null;index"`
	Priority     DisputePriority `json:"priority" gorm:"type:varchar(20);not null;default:'medium'"`
	ResolverID   *uuid.UUID      `json:"resolver_id,omitempty" gorm:"type:uuid"`
	Resolution   string          `json:"resolution,omitempty" gorm:"type:text"`
	RefundAmount *int64          `json:"refund_amount,omitempty"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`

	// Relationships
	Evidence []DisputeEvidence `json:"evidence,omitempty" gorm:"foreignKey:DisputeID"`
	Messages []DisputeMessage  `json:"messages,omitempty" gorm:"foreignKey:DisputeID"`
}

type DisputeEvidence struct {
	BaseModel
	DisputeID   uuid.UUID   `json:"dispute_id" gorm:"type:uuid;not null;index"`
	SubmittedBy uuid.UUID   `json:"submitted_by" gorm:"type:uuid;not null"`
	Description string      `json:"description" gorm:"type:text"`
	Attachments StringArray `json:"attachments"`
}

func (DisputeEvidence) TableName() string {
	return "dispute_evidence"
}

type DisputeMessage struct {
	BaseModel
	DisputeID uuid.UUID `json:"dispute_id" gorm:"type:uuid;not null;index"`
	AuthorID  uuid.UUID `json:"author_id" gorm:"type:uuid;not null"`
	Body      string    `json:"body" gorm:"type:text;not null"`
}
