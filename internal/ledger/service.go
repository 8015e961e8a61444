package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// DefaultDueHoldLimit bounds QueryDueHolds when the caller passes no limit.
const DefaultDueHoldLimit = 100

// Store is the only component that reads or writes wallet balances.
type Store interface {
	EnsureWallet(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error)
	Append(ctx context.Context, input AppendInput) (*AppendResult, error)
	QueryDueHolds(ctx context.Context, now time.Time, limit int) ([]DueWallet, error)
	PromoteHoldToAvailable(ctx context.Context, walletID, holdTxnID uuid.UUID, now time.Time) (*PromotionResult, error)
	PromoteWalletHolds(ctx context.Context, walletID uuid.UUID, holdTxnIDs []uuid.UUID, now time.Time) (*PromotionResult, error)
	MarkUnlockFailed(ctx context.Context, walletID uuid.UUID, at time.Time) error
	FindTransactionByKey(ctx context.Context, key string) (*models.WalletTransaction, error)
	GetVendorWallet(ctx context.Context, query WalletQuery) (*WalletView, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// AppendInput describes one ledger entry. Direction and Status together pick
// the balance buckets that move; see applyMutation.
type AppendInput struct {
	VendorID       uuid.UUID
	IdempotencyKey string
	Type           enums.WalletTransactionType
	Direction      enums.LedgerDirection
	Status         enums.WalletTransactionStatus
	AmountCents    int64
	// ReleaseAll resolves the amount to the whole available balance while
	// the wallet is locked. Only valid for PAID debits.
	ReleaseAll  bool
	OrderID     *uuid.UUID
	SubOrderID  *uuid.UUID
	OrderCode   string
	EffectiveAt time.Time
	UnlockAt    *time.Time
	SourceTxnID *uuid.UUID
	Note        string
	Metadata    map[string]any
}

// AppendResult carries the wallet after the call and the entry for the key.
// Replayed is true when the key already existed and nothing moved.
type AppendResult struct {
	Wallet      models.VendorWallet
	Transaction models.WalletTransaction
	Replayed    bool
}

// DueWallet is a wallet with the hold credits that may be unlocked now.
type DueWallet struct {
	Wallet models.VendorWallet
	Holds  []models.WalletTransaction
}

// PromotionResult summarizes one wallet's unlock unit.
type PromotionResult struct {
	WalletID    uuid.UUID
	VendorID    uuid.UUID
	Promoted    int
	Skipped     int
	AmountCents int64
	Wallet      models.VendorWallet
}

var errDuplicateKey = errors.New("idempotency key inserted concurrently")

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxEmitter
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires the ledger store. The outbox emitter and metrics are
// optional.
func NewService(repo Repository, tx txRunner, emitter outboxEmitter, m *metrics.SettlementMetrics, logg *logger.Logger) (Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  emitter,
		metrics: m,
		logg:    logg,
		now:     time.Now,
	}, nil
}

func (s *service) EnsureWallet(ctx context.Context, vendorID uuid.UUID) (*models.VendorWallet, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	var wallet *models.VendorWallet
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.InsertWalletIfMissing(ctx, vendorID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
		}
		found, err := repo.FindWalletByVendor(ctx, vendorID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
		}
		wallet = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *service) Append(ctx context.Context, input AppendInput) (*AppendResult, error) {
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if err := validateAppend(input); err != nil {
		s.metrics.ObserveMutation(string(input.Type), metrics.OutcomeRejected, 0)
		return nil, err
	}
	if input.EffectiveAt.IsZero() {
		input.EffectiveAt = s.now()
	}
	input.EffectiveAt = input.EffectiveAt.UTC()

	var result *AppendResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := lockOrCreateWallet(ctx, repo, input.VendorID)
		if err != nil {
			return err
		}
		txn, replayed, err := s.appendLocked(ctx, tx, repo, wallet, input)
		if err != nil {
			return err
		}
		result = &AppendResult{Wallet: *wallet, Transaction: *txn, Replayed: replayed}
		return nil
	})
	if errors.Is(err, errDuplicateKey) {
		result, err = s.replay(ctx, input)
	}
	if err != nil {
		s.metrics.ObserveMutation(string(input.Type), metrics.OutcomeRejected, 0)
		return nil, err
	}

	s.observeAppend(ctx, result)
	return result, nil
}

func validateAppend(in AppendInput) error {
	switch {
	case in.VendorID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	case in.IdempotencyKey == "":
		return pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonMissingReference, "idempotency key is required")
	case !in.Type.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", in.Type))
	case !in.Direction.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid direction %q", in.Direction))
	case !in.Status.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction status %q", in.Status))
	case in.ReleaseAll && in.Status != enums.WalletTxnStatusPaid:
		return pkgerrors.New(pkgerrors.CodeValidation, "release-all is only valid for payouts")
	case !in.ReleaseAll && in.AmountCents <= 0:
		return pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonNonPositiveAmount, "amount must be positive")
	case in.Status == enums.WalletTxnStatusHold && in.UnlockAt == nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "hold credits require an unlock time")
	}
	return nil
}

func lockOrCreateWallet(ctx context.Context, repo Repository, vendorID uuid.UUID) (*models.VendorWallet, error) {
	wallet, err := repo.LockWalletByVendor(ctx, vendorID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
	}
	if err := repo.InsertWalletIfMissing(ctx, vendorID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	wallet, err = repo.LockWalletByVendor(ctx, vendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
	}
	return wallet, nil
}

// appendLocked runs with the wallet row locked by the surrounding tx. The key
// lookup happens under the lock so concurrent duplicates serialize onto the
// first writer's result.
func (s *service) appendLocked(ctx context.Context, tx *gorm.DB, repo Repository, wallet *models.VendorWallet, in AppendInput) (*models.WalletTransaction, bool, error) {
	existing, err := repo.FindTransactionByKey(ctx, in.IdempotencyKey)
	switch {
	case err == nil:
		if existing.VendorID != wallet.VendorID {
			return nil, false, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key belongs to another vendor")
		}
		return existing, true, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup idempotency key")
	}

	mut, err := applyMutation(wallet, in, in.EffectiveAt)
	if err != nil {
		return nil, false, err
	}

	metadata := make(map[string]any, len(in.Metadata)+len(mut.metadata))
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	for k, v := range mut.metadata {
		metadata[k] = v
	}

	txn := &models.WalletTransaction{
		WalletID:       wallet.ID,
		VendorID:       wallet.VendorID,
		OrderID:        in.OrderID,
		SubOrderID:     in.SubOrderID,
		OrderCode:      in.OrderCode,
		IdempotencyKey: in.IdempotencyKey,
		Type:           in.Type,
		Status:         in.Status,
		Direction:      in.Direction,
		AmountCents:    mut.amount,
		EffectiveAt:    in.EffectiveAt,
		UnlockAt:       utcPtr(in.UnlockAt),
		SourceTxnID:    in.SourceTxnID,
		Note:           in.Note,
		Metadata:       metadata,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, false, errDuplicateKey
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert wallet transaction")
	}

	if err := repo.SaveBalances(ctx, wallet); err != nil {
		if errors.Is(err, ErrStaleWallet) {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "wallet changed concurrently")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balances")
	}

	if s.outbox != nil {
		event := outbox.DomainEvent{
			EventType:     enums.EventWalletTransactionRecorded,
			AggregateType: enums.AggregateVendorWallet,
			AggregateID:   wallet.ID,
			Version:       1,
			OccurredAt:    in.EffectiveAt,
			Data:          walletTransactionPayload(wallet, txn),
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit wallet transaction event")
		}
	}
	return txn, false, nil
}

func (s *service) replay(ctx context.Context, in AppendInput) (*AppendResult, error) {
	txn, err := s.repo.FindTransactionByKey(ctx, in.IdempotencyKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load replayed transaction")
	}
	if txn.VendorID != in.VendorID {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key belongs to another vendor")
	}
	wallet, err := s.repo.FindWalletByVendor(ctx, in.VendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return &AppendResult{Wallet: *wallet, Transaction: *txn, Replayed: true}, nil
}

func (s *service) observeAppend(ctx context.Context, result *AppendResult) {
	txn := result.Transaction
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"vendor_id":       txn.VendorID.String(),
		"wallet_id":       txn.WalletID.String(),
		"txn_id":          txn.ID.String(),
		"txn_type":        txn.Type,
		"idempotency_key": txn.IdempotencyKey,
		"amount_cents":    txn.AmountCents,
	})
	if result.Replayed {
		s.metrics.ObserveMutation(string(txn.Type), metrics.OutcomeReplayed, 0)
		s.logg.Info(logCtx, "wallet transaction replayed")
		return
	}
	s.metrics.ObserveMutation(string(txn.Type), metrics.OutcomeApplied, txn.AmountCents)
	if short, ok := txn.Metadata.Int64(MetaUnrecovered); ok && short > 0 {
		s.metrics.ObserveUnrecovered(short)
		s.logg.Warn(s.logg.WithField(logCtx, "unrecovered_cents", short), "deduction exceeded wallet balance")
		return
	}
	s.logg.Info(logCtx, "wallet transaction recorded")
}

func (s *service) QueryDueHolds(ctx context.Context, now time.Time, limit int) ([]DueWallet, error) {
	if limit <= 0 {
		limit = DefaultDueHoldLimit
	}
	now = now.UTC()

	walletIDs, err := s.repo.ListWalletIDsWithDueHolds(ctx, now, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallets with due holds")
	}
	if len(walletIDs) == 0 {
		return nil, nil
	}
	wallets, err := s.repo.FindWalletsByIDs(ctx, walletIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallets")
	}
	holds, err := s.repo.ListDueHolds(ctx, walletIDs, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load due holds")
	}

	byWallet := make(map[uuid.UUID][]models.WalletTransaction, len(wallets))
	for _, hold := range holds {
		byWallet[hold.WalletID] = append(byWallet[hold.WalletID], hold)
	}
	due := make([]DueWallet, 0, len(wallets))
	for _, wallet := range wallets {
		if len(byWallet[wallet.ID]) == 0 {
			continue
		}
		due = append(due, DueWallet{Wallet: wallet, Holds: byWallet[wallet.ID]})
	}
	return due, nil
}

func (s *service) PromoteHoldToAvailable(ctx context.Context, walletID, holdTxnID uuid.UUID, now time.Time) (*PromotionResult, error) {
	return s.PromoteWalletHolds(ctx, walletID, []uuid.UUID{holdTxnID}, now)
}

// PromoteWalletHolds unlocks the given hold credits of one wallet as a single
// atomic unit. Holds that were already promoted are skipped.
func (s *service) PromoteWalletHolds(ctx context.Context, walletID uuid.UUID, holdTxnIDs []uuid.UUID, now time.Time) (*PromotionResult, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	}
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()

	result := &PromotionResult{WalletID: walletID}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := repo.LockWalletByID(ctx, walletID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
		}
		result.VendorID = wallet.VendorID

		for _, holdID := range holdTxnIDs {
			amount, promoted, err := s.promoteLocked(ctx, tx, repo, wallet, holdID, now)
			if err != nil {
				return err
			}
			if !promoted {
				result.Skipped++
				continue
			}
			result.Promoted++
			result.AmountCents += amount
		}
		if wallet.UnlockFailedAt != nil {
			if err := repo.SetUnlockFailedAt(ctx, wallet.ID, nil); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear unlock failure")
			}
			wallet.UnlockFailedAt = nil
		}
		result.Wallet = *wallet
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Promoted > 0 {
		s.metrics.ObservePromotion(result.Promoted, result.AmountCents)
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"wallet_id":    walletID.String(),
			"vendor_id":    result.VendorID.String(),
			"promoted":     result.Promoted,
			"amount_cents": result.AmountCents,
		}), "wallet holds promoted")
	}
	return result, nil
}

// MarkUnlockFailed records a failed unlock attempt so the wallet is scheduled
// after healthy ones on the next run.
func (s *service) MarkUnlockFailed(ctx context.Context, walletID uuid.UUID, at time.Time) error {
	if walletID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	}
	at = at.UTC()
	if err := s.repo.SetUnlockFailedAt(ctx, walletID, &at); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record unlock failure")
	}
	return nil
}

func (s *service) promoteLocked(ctx context.Context, tx *gorm.DB, repo Repository, wallet *models.VendorWallet, holdID uuid.UUID, now time.Time) (int64, bool, error) {
	hold, err := repo.FindTransaction(ctx, holdID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, pkgerrors.New(pkgerrors.CodeNotFound, "hold transaction not found")
		}
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load hold transaction")
	}
	if hold.WalletID != wallet.ID || hold.Type != enums.WalletTxnDeliveredHoldCredit {
		return 0, false, pkgerrors.New(pkgerrors.CodeValidation, "transaction is not a hold credit of this wallet")
	}

	if _, err := repo.FindTransactionByKey(ctx, UnlockKey(hold.ID)); err == nil {
		return 0, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup unlock transaction")
	}
	if hold.Status != enums.WalletTxnStatusHold {
		return 0, false, nil
	}
	if hold.UnlockAt == nil || hold.UnlockAt.After(now) {
		return 0, false, pkgerrors.New(pkgerrors.CodeStateConflict, "hold is not due for unlock").
			WithDetails(map[string]any{"hold_txn_id": hold.ID.String(), "unlock_at": hold.UnlockAt})
	}

	holdTxnID := hold.ID
	unlockTxn, _, err := s.appendLocked(ctx, tx, repo, wallet, AppendInput{
		VendorID:       wallet.VendorID,
		IdempotencyKey: UnlockKey(hold.ID),
		Type:           enums.WalletTxnHoldToAvailable,
		Direction:      enums.LedgerDirectionCredit,
		Status:         enums.WalletTxnStatusAvailable,
		AmountCents:    hold.AmountCents,
		OrderID:        hold.OrderID,
		SubOrderID:     hold.SubOrderID,
		OrderCode:      hold.OrderCode,
		EffectiveAt:    now,
		SourceTxnID:    &holdTxnID,
		Note:           "hold period elapsed",
	})
	if err != nil {
		return 0, false, err
	}

	flipped, err := repo.MarkHoldAvailable(ctx, hold.ID)
	if err != nil {
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark hold available")
	}
	if !flipped {
		return 0, false, pkgerrors.New(pkgerrors.CodeStateConflict, "hold transaction changed concurrently")
	}
	if short, ok := unlockTxn.Metadata.Int64(MetaHoldShortfall); ok && short > 0 {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"hold_txn_id":     hold.ID.String(),
			"shortfall_cents": short,
		}), "hold credit partly consumed by deductions before unlock")
	}
	return unlockTxn.AmountCents, true, nil
}

func (s *service) FindTransactionByKey(ctx context.Context, key string) (*models.WalletTransaction, error) {
	txn, err := s.repo.FindTransactionByKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet transaction")
	}
	return txn, nil
}

func walletTransactionPayload(wallet *models.VendorWallet, txn *models.WalletTransaction) payloads.WalletTransactionRecorded {
	return payloads.WalletTransactionRecorded{
		TransactionID:  txn.ID,
		WalletID:       wallet.ID,
		VendorID:       wallet.VendorID,
		OrderID:        txn.OrderID,
		SubOrderID:     txn.SubOrderID,
		Type:           txn.Type,
		Status:         txn.Status,
		Direction:      txn.Direction,
		AmountCents:    txn.AmountCents,
		HoldCents:      wallet.HoldCents,
		AvailableCents: wallet.AvailableCents,
		PaidCents:      wallet.PaidCents,
		EffectiveAt:    txn.EffectiveAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
