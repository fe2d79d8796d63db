package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AccountBalance mirrors the account_balances table.
type AccountBalance struct {
	UserID         string    `gorm:"primaryKey;size:255"`
	Balance        int64     `gorm:"not null;default:0"`
	GraceLimitUsed bool      `gorm:"not null;default:false"`
	LastSequence   int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (AccountBalance) TableName() string { return "account_balances" }

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID        string         `gorm:"type:uuid;primaryKey"`
	UserID         string         `gorm:"size:255;not null;uniqueIndex:uniq_ledger_entries_user_sequence,priority:1;uniqueIndex:uniq_ledger_entries_user_source_key,priority:1"`
	Sequence       int64          `gorm:"not null;uniqueIndex:uniq_ledger_entries_user_sequence,priority:2"`
	Type           string         `gorm:"size:16;not null"`
	Amount         int64          `gorm:"not null"`
	BalanceAfter   int64          `gorm:"not null"`
	Source         string         `gorm:"size:64;not null;uniqueIndex:uniq_ledger_entries_user_source_key,priority:2"`
	Description    string         `gorm:"not null;default:''"`
	IdempotencyKey *string        `gorm:"size:255;uniqueIndex:uniq_ledger_entries_user_source_key,priority:3"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `gorm:"not null;autoCreateTime:false;index"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		generated, err := uuid.NewV7()
		if err != nil {
			return err
		}
		entry.EntryID = generated.String()
	}
	return nil
}
