package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-settlement/internal/repo"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// ErrStaleWallet is returned when a balance update loses the version race.
var ErrStaleWallet = errors.New("wallet version changed concurrently")

// Repository manages persistence for vendor wallets and their transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertWalletIfMissing(ctx context.Context, vendorID uuid.UUID) error
	LockWalletByVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error)
	LockWalletByID(ctx context.Context, walletID uuid.UUID) (*models.VendorWallet, error)
	FindWalletByVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error)
	SaveBalances(ctx context.Context, wallet *models.VendorWallet) error
	FindTransactionByKey(ctx context.Context, key string) (*models.WalletTransaction, error)
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error)
	CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error
	MarkHoldAvailable(ctx context.Context, txnID uuid.UUID) (bool, error)
	ListWalletIDsWithDueHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	SetUnlockFailedAt(ctx context.Context, walletID uuid.UUID, at *time.Time) error
	ListDueHolds(ctx context.Context, walletIDs []uuid.UUID, now time.Time) ([]models.WalletTransaction, error)
	FindWalletsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.VendorWallet, error)
	ListTransactions(ctx context.Context, vendorID uuid.UUID, filter TransactionFilter) ([]models.WalletTransaction, int64, error)
}

// TransactionFilter narrows a wallet history page.
type TransactionFilter struct {
	Status *enums.WalletTransactionStatus
	Type   *enums.WalletTransactionType
	Offset int
	Limit  int
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// InsertWalletIfMissing creates a zeroed wallet unless one exists. Concurrent
// first use collapses onto the unique vendor_id index.
func (r *repository) InsertWalletIfMissing(ctx context.Context, vendorID uuid.UUID) error {
	wallet := &models.VendorWallet{VendorID: vendorID}
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vendor_id"}},
			DoNothing: true,
		}).
		Create(wallet).Error
}

func (r *repository) LockWalletByVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error) {
	var wallet models.VendorWallet
	if err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("vendor_id = ?", vendorID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) LockWalletByID(ctx context.Context, walletID uuid.UUID) (*models.VendorWallet, error) {
	var wallet models.VendorWallet
	if err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindWalletByVendor(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error) {
	var wallet models.VendorWallet
	if err := r.DB(ctx).
		Where("vendor_id = ?", vendorID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// SaveBalances writes the in-memory balances back, guarded by the version the
// wallet was read at. On success wallet.Version is advanced.
func (r *repository) SaveBalances(ctx context.Context, wallet *models.VendorWallet) error {
	res := r.DB(ctx).
		Model(&models.VendorWallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]any{
			"hold_cents":          wallet.HoldCents,
			"available_cents":     wallet.AvailableCents,
			"paid_cents":          wallet.PaidCents,
			"total_credits_cents": wallet.TotalCreditsCents,
			"total_debits_cents":  wallet.TotalDebitsCents,
			"last_transaction_at": wallet.LastTransactionAt,
			"version":             gorm.Expr("version + 1"),
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWallet
	}
	wallet.Version++
	return nil
}

func (r *repository) FindTransactionByKey(ctx context.Context, key string) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	if err := r.DB(ctx).
		Where("idempotency_key = ?", key).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	if err := r.DB(ctx).
		Where("id = ?", id).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	return r.DB(ctx).Create(txn).Error
}

// MarkHoldAvailable flips a hold credit in place. It reports false when the
// row was no longer in HOLD.
func (r *repository) MarkHoldAvailable(ctx context.Context, txnID uuid.UUID) (bool, error) {
	res := r.DB(ctx).
		Model(&models.WalletTransaction{}).
		Where("id = ? AND status = ?", txnID, enums.WalletTxnStatusHold).
		Updates(map[string]any{
			"status":     enums.WalletTxnStatusAvailable,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) dueHolds(ctx context.Context) *gorm.DB {
	return r.DB(ctx).Model(&models.WalletTransaction{}).
		Where("status = ? AND type = ? AND unlock_at IS NOT NULL",
			enums.WalletTxnStatusHold, enums.WalletTxnDeliveredHoldCredit)
}

// ListWalletIDsWithDueHolds picks the next batch of wallets to unlock.
// Wallets whose last attempt failed go behind every healthy wallet, oldest
// failure first, so a wallet that keeps failing cannot hold a batch slot
// forever. Within each group the oldest due hold wins.
func (r *repository) ListWalletIDsWithDueHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.DB(ctx).
		Table("wallet_transactions").
		Joins("JOIN vendor_wallets ON vendor_wallets.id = wallet_transactions.wallet_id").
		Where("wallet_transactions.status = ? AND wallet_transactions.type = ?",
			enums.WalletTxnStatusHold, enums.WalletTxnDeliveredHoldCredit).
		Where("wallet_transactions.unlock_at IS NOT NULL AND wallet_transactions.unlock_at <= ?", now).
		Group("wallet_transactions.wallet_id, vendor_wallets.unlock_failed_at").
		Order("CASE WHEN vendor_wallets.unlock_failed_at IS NULL THEN 0 ELSE 1 END ASC").
		Order("vendor_wallets.unlock_failed_at ASC").
		Order("MIN(wallet_transactions.unlock_at) ASC").
		Order("wallet_transactions.wallet_id ASC").
		Limit(limit).
		Pluck("wallet_transactions.wallet_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) SetUnlockFailedAt(ctx context.Context, walletID uuid.UUID, at *time.Time) error {
	return r.DB(ctx).
		Model(&models.VendorWallet{}).
		Where("id = ?", walletID).
		Update("unlock_failed_at", at).Error
}

func (r *repository) ListDueHolds(ctx context.Context, walletIDs []uuid.UUID, now time.Time) ([]models.WalletTransaction, error) {
	if len(walletIDs) == 0 {
		return nil, nil
	}
	var holds []models.WalletTransaction
	if err := r.dueHolds(ctx).
		Where("wallet_id IN ? AND unlock_at <= ?", walletIDs, now).
		Order("unlock_at ASC").
		Order("id ASC").
		Find(&holds).Error; err != nil {
		return nil, err
	}
	return holds, nil
}

func (r *repository) FindWalletsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.VendorWallet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var wallets []models.VendorWallet
	if err := r.DB(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&wallets).Error; err != nil {
		return nil, err
	}
	return wallets, nil
}

func (r *repository) ListTransactions(ctx context.Context, vendorID uuid.UUID, filter TransactionFilter) ([]models.WalletTransaction, int64, error) {
	query := r.DB(ctx).
		Model(&models.WalletTransaction{}).
		Where("vendor_id = ?", vendorID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.WalletTransaction
	if err := query.
		Order("effective_at DESC").
		Order("created_at DESC").
		Order("id DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
