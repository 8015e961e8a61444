package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VendorWallet holds the aggregate balances for one vendor. Rows are only
// mutated while locked, together with the WalletTransaction that explains the
// change.
type VendorWallet struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	VendorID          uuid.UUID  `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex"`
	HoldCents         int64      `gorm:"column:hold_cents;not null;default:0"`
	AvailableCents    int64      `gorm:"column:available_cents;not null;default:0"`
	PaidCents         int64      `gorm:"column:paid_cents;not null;default:0"`
	TotalCreditsCents int64      `gorm:"column:total_credits_cents;not null;default:0"`
	TotalDebitsCents  int64      `gorm:"column:total_debits_cents;not null;default:0"`
	LastTransactionAt *time.Time `gorm:"column:last_transaction_at"`
	Version           int64      `gorm:"column:version;not null;default:0"`
	// UnlockFailedAt is set when the last unlock attempt for this wallet
	// failed and cleared by the next one that commits.
	UnlockFailedAt *time.Time `gorm:"column:unlock_failed_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *VendorWallet) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
