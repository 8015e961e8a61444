package settlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// DefaultHoldPeriod is how long a delivered credit stays on hold.
const DefaultHoldPeriod = 10 * 24 * time.Hour

// Engine maps a sub-order event to the single ledger entry it produces. It
// does no I/O.
type Engine struct {
	HoldPeriod time.Duration
}

func NewEngine(holdPeriod time.Duration) Engine {
	if holdPeriod <= 0 {
		holdPeriod = DefaultHoldPeriod
	}
	return Engine{HoldPeriod: holdPeriod}
}

// ForDelivered returns a hold credit unlocking HoldPeriod after delivery.
// The bool is false when there is nothing to settle.
func (e Engine) ForDelivered(orderCode string, sub *models.SubOrder, deliveredAt time.Time) (ledger.AppendInput, bool) {
	amount := Amount(sub)
	if sub == nil || sub.VendorID == nil || amount <= 0 {
		return ledger.AppendInput{}, false
	}
	deliveredAt = deliveredAt.UTC()
	unlockAt := deliveredAt.Add(e.HoldPeriod)
	return ledger.AppendInput{
		VendorID:       *sub.VendorID,
		IdempotencyKey: ledger.SettlementKey(*sub.VendorID, sub.ID, ledger.EventDelivered),
		Type:           enums.WalletTxnDeliveredHoldCredit,
		Direction:      enums.LedgerDirectionCredit,
		Status:         enums.WalletTxnStatusHold,
		AmountCents:    amount,
		OrderID:        uuidPtr(sub.OrderID),
		SubOrderID:     uuidPtr(sub.ID),
		OrderCode:      orderCode,
		EffectiveAt:    deliveredAt,
		UnlockAt:       &unlockAt,
		Note:           "sub order delivered",
	}, true
}

// ForCancelled reverses the settlement amount through the hold then
// available cascade.
func (e Engine) ForCancelled(orderCode string, sub *models.SubOrder, cancelledAt time.Time) (ledger.AppendInput, bool) {
	amount := Amount(sub)
	if sub == nil || sub.VendorID == nil || amount <= 0 {
		return ledger.AppendInput{}, false
	}
	return ledger.AppendInput{
		VendorID:       *sub.VendorID,
		IdempotencyKey: ledger.SettlementKey(*sub.VendorID, sub.ID, ledger.EventCancel),
		Type:           enums.WalletTxnCancelDeduct,
		Direction:      enums.LedgerDirectionDebit,
		Status:         enums.WalletTxnStatusReversed,
		AmountCents:    amount,
		OrderID:        uuidPtr(sub.OrderID),
		SubOrderID:     uuidPtr(sub.ID),
		OrderCode:      orderCode,
		EffectiveAt:    cancelledAt.UTC(),
		Note:           "sub order cancelled",
	}, true
}

// ForReturn deducts amountCents for a returned delivered sub-order.
func (e Engine) ForReturn(orderCode string, sub *models.SubOrder, amountCents int64, reason string, at time.Time) (ledger.AppendInput, bool) {
	if sub == nil || sub.VendorID == nil || amountCents <= 0 {
		return ledger.AppendInput{}, false
	}
	return ledger.AppendInput{
		VendorID:       *sub.VendorID,
		IdempotencyKey: ledger.SettlementKey(*sub.VendorID, sub.ID, ledger.EventReturn),
		Type:           enums.WalletTxnReturnDeduct,
		Direction:      enums.LedgerDirectionDebit,
		Status:         enums.WalletTxnStatusReversed,
		AmountCents:    amountCents,
		OrderID:        uuidPtr(sub.OrderID),
		SubOrderID:     uuidPtr(sub.ID),
		OrderCode:      orderCode,
		EffectiveAt:    at.UTC(),
		Note:           reason,
		Metadata:       map[string]any{"settlement_amount_cents": Amount(sub)},
	}, true
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
