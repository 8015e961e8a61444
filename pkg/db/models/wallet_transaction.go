package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

// WalletTransaction is an append-only ledger entry. Only a hold credit's
// Status ever changes after insert (hold -> available on unlock).
type WalletTransaction struct {
	ID             uuid.UUID                     `gorm:"column:id;type:uuid;primaryKey"`
	WalletID       uuid.UUID                     `gorm:"column:wallet_id;type:uuid;not null;index"`
	VendorID       uuid.UUID                     `gorm:"column:vendor_id;type:uuid;not null;index"`
	OrderID        *uuid.UUID                    `gorm:"column:order_id;type:uuid"`
	SubOrderID     *uuid.UUID                    `gorm:"column:sub_order_id;type:uuid"`
	OrderCode      string                        `gorm:"column:order_code;type:varchar(64)"`
	IdempotencyKey string                        `gorm:"column:idempotency_key;type:varchar(255);not null;uniqueIndex"`
	Type           enums.WalletTransactionType   `gorm:"column:type;type:varchar(32);not null"`
	Status         enums.WalletTransactionStatus `gorm:"column:status;type:varchar(16);not null"`
	Direction      enums.LedgerDirection         `gorm:"column:direction;type:varchar(8);not null"`
	AmountCents    int64                         `gorm:"column:amount_cents;not null"`
	EffectiveAt    time.Time                     `gorm:"column:effective_at;not null"`
	UnlockAt       *time.Time                    `gorm:"column:unlock_at;index"`
	SourceTxnID    *uuid.UUID                    `gorm:"column:source_txn_id;type:uuid"`
	Note           string                        `gorm:"column:note;type:text"`
	Metadata       types.JSONMap                 `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time                     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                     `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *WalletTransaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
