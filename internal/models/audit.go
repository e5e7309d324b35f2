// internal/models/audit.go
package models

import "github.com/google/uuid"

// AuditLog records one mutating API call. Body holds the redacted JSON
// request, when there was one.
type AuditLog struct {
	BaseModel
	UserID       *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	Method       string     `json:"method" gorm:"size:10;not null"`
	Route        string     `json:"route" gorm:"size:255;not null;index"`
	ResourceType string     `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   *uuid.UUID `json:"resource_id,omitempty" gorm:"type:uuid;index"`
	StatusCode   int        `json:"status_code"`
	LatencyMs    int64      `json:"latency_ms"`
	ClientIP     string     `json:"client_ip" gorm:"size:45"`
	UserAgent    string     `json:"user_agent" gorm:"type:text"`
	Body         JSONB      `json:"body,omitempty" gorm:"type:jsonb"`
}

func (a *AuditLog) Action() string {
	return a.Method + " " + a.Route
}
