// internal/models/ledger.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerEntry is an immutable financial fact. Amount is signed: credits are
// positive, debits negative, so a party's balance is the plain sum.
//
// PostingKey groups the legs written by one ledger operation; (PostingKey, Leg)
// is unique, which is what makes every posting idempotent at the store level.
type LedgerEntry struct {
	ID          uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	OrderID     uuid.UUID         `json:"order_id" gorm:"type:uuid;not null;index"`
	Type        LedgerEntryType   `json:"type" gorm:"type:varchar(20);not null;index"`
	Party       LedgerParty       `json:"party" gorm:"type:varchar(20);not null"`
	Amount      int64             `json:"amount" gorm:"not null"`
	Status      LedgerEntryStatus `json:"status" gorm:"type:varchar(20);not null"`
	PostingKey  string            `json:"posting_key" gorm:"size:160;not null;uniqueIndex:idx_ledger_posting_leg"`
	Leg         int               `json:"leg" gorm:"not null;uniqueIndex:idx_ledger_posting_leg"`
	Description string            `json:"description,omitempty" gorm:"size:255"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *LedgerEntry) BeforeUpdate(tx *gorm.DB) error {
	return gorm.ErrInvalidData
}

func (e *LedgerEntry) BeforeDelete(tx *gorm.DB) error {
	return gorm.ErrInvalidData
}
