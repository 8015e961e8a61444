package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// WalletQuery selects a page of a vendor's wallet history.
type WalletQuery struct {
	VendorID uuid.UUID
	Page     int
	Limit    int
	Status   *enums.WalletTransactionStatus
	Type     *enums.WalletTransactionType
}

type Balances struct {
	HoldCents      int64  `json:"hold_cents"`
	AvailableCents int64  `json:"available_cents"`
	PaidCents      int64  `json:"paid_cents"`
	Hold           string `json:"hold"`
	Available      string `json:"available"`
	Paid           string `json:"paid"`
}

type Stats struct {
	TotalCreditsCents int64      `json:"total_credits_cents"`
	TotalDebitsCents  int64      `json:"total_debits_cents"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
}

type TransactionView struct {
	ID             uuid.UUID                     `json:"id"`
	IdempotencyKey string                        `json:"idempotency_key"`
	OrderID        *uuid.UUID                    `json:"order_id,omitempty"`
	SubOrderID     *uuid.UUID                    `json:"sub_order_id,omitempty"`
	OrderCode      string                        `json:"order_code,omitempty"`
	Type           enums.WalletTransactionType   `json:"type"`
	Status         enums.WalletTransactionStatus `json:"status"`
	Direction      enums.LedgerDirection         `json:"direction"`
	AmountCents    int64                         `json:"amount_cents"`
	Amount         string                        `json:"amount"`
	EffectiveAt    time.Time                     `json:"effective_at"`
	UnlockAt       *time.Time                    `json:"unlock_at,omitempty"`
	SourceTxnID    *uuid.UUID                    `json:"source_txn_id,omitempty"`
	Note           string                        `json:"note,omitempty"`
	Metadata       map[string]any                `json:"metadata,omitempty"`
}

type WalletView struct {
	VendorID     uuid.UUID         `json:"vendor_id"`
	WalletID     *uuid.UUID        `json:"wallet_id,omitempty"`
	Balances     Balances          `json:"balances"`
	Stats        Stats             `json:"stats"`
	Transactions []TransactionView `json:"transactions"`
	Page         int               `json:"page"`
	Limit        int               `json:"limit"`
	Total        int64             `json:"total"`
}

// NewBalances renders wallet balances in cents and major units.
func NewBalances(w models.VendorWallet) Balances {
	return Balances{
		HoldCents:      w.HoldCents,
		AvailableCents: w.AvailableCents,
		PaidCents:      w.PaidCents,
		Hold:           money.FormatCents(w.HoldCents),
		Available:      money.FormatCents(w.AvailableCents),
		Paid:           money.FormatCents(w.PaidCents),
	}
}

func NewTransactionView(t models.WalletTransaction) TransactionView {
	return TransactionView{
		ID:             t.ID,
		IdempotencyKey: t.IdempotencyKey,
		OrderID:        t.OrderID,
		SubOrderID:     t.SubOrderID,
		OrderCode:      t.OrderCode,
		Type:           t.Type,
		Status:         t.Status,
		Direction:      t.Direction,
		AmountCents:    t.AmountCents,
		Amount:         money.FormatCents(t.AmountCents),
		EffectiveAt:    t.EffectiveAt,
		UnlockAt:       t.UnlockAt,
		SourceTxnID:    t.SourceTxnID,
		Note:           t.Note,
		Metadata:       t.Metadata,
	}
}

// GetVendorWallet never creates a wallet; an unknown vendor gets a zeroed view.
func (s *service) GetVendorWallet(ctx context.Context, query WalletQuery) (*WalletView, error) {
	if query.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	page := pagination.Params{Page: query.Page, Limit: query.Limit}.Normalize()

	view := &WalletView{
		VendorID:     query.VendorID,
		Balances:     NewBalances(models.VendorWallet{}),
		Transactions: []TransactionView{},
		Page:         page.Page,
		Limit:        page.Limit,
	}

	wallet, err := s.repo.FindWalletByVendor(ctx, query.VendorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return view, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	walletID := wallet.ID
	view.WalletID = &walletID
	view.Balances = NewBalances(*wallet)
	view.Stats = Stats{
		TotalCreditsCents: wallet.TotalCreditsCents,
		TotalDebitsCents:  wallet.TotalDebitsCents,
		LastTransactionAt: wallet.LastTransactionAt,
	}

	rows, total, err := s.repo.ListTransactions(ctx, query.VendorID, TransactionFilter{
		Status: query.Status,
		Type:   query.Type,
		Offset: page.Offset(),
		Limit:  page.Limit,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}
	view.Total = total
	for _, row := range rows {
		view.Transactions = append(view.Transactions, NewTransactionView(row))
	}
	return view, nil
}
