package payloads

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// SubOrderStatusChanged is emitted once per sub-order touched by a status
// write. It is also what the settlement dispatcher consumes.
type SubOrderStatusChanged struct {
	OrderID        uuid.UUID         `json:"order_id"`
	OrderCode      string            `json:"order_code"`
	SubOrderID     uuid.UUID         `json:"sub_order_id"`
	VendorID       *uuid.UUID        `json:"vendor_id,omitempty"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	Status         enums.OrderStatus `json:"status"`
	OrderStatus    enums.OrderStatus `json:"order_status"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// CODConfirmed records an operator confirming a cash-on-delivery order.
type CODConfirmed struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderCode   string    `json:"order_code"`
	ConfirmedBy uuid.UUID `json:"confirmed_by"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// WalletTransactionRecorded mirrors a ledger append with the balances right
// after it.
type WalletTransactionRecorded struct {
	TransactionID  uuid.UUID                     `json:"transaction_id"`
	WalletID       uuid.UUID                     `json:"wallet_id"`
	VendorID       uuid.UUID                     `json:"vendor_id"`
	OrderID        *uuid.UUID                    `json:"order_id,omitempty"`
	SubOrderID     *uuid.UUID                    `json:"sub_order_id,omitempty"`
	Type           enums.WalletTransactionType   `json:"type"`
	Status         enums.WalletTransactionStatus `json:"status"`
	Direction      enums.LedgerDirection         `json:"direction"`
	AmountCents    int64                         `json:"amount_cents"`
	HoldCents      int64                         `json:"hold_cents"`
	AvailableCents int64                         `json:"available_cents"`
	PaidCents      int64                         `json:"paid_cents"`
	EffectiveAt    time.Time                     `json:"effective_at"`
}

func (p SubOrderStatusChanged) Validate() error {
	switch {
	case p.OrderID == uuid.Nil:
		return errors.New("order_id is required")
	case p.SubOrderID == uuid.Nil:
		return errors.New("sub_order_id is required")
	case !p.Status.IsValid():
		return fmt.Errorf("unknown status %q", p.Status)
	}
	return nil
}

func (p CODConfirmed) Validate() error {
	if p.OrderID == uuid.Nil {
		return errors.New("order_id is required")
	}
	return nil
}

func (p WalletTransactionRecorded) Validate() error {
	switch {
	case p.TransactionID == uuid.Nil:
		return errors.New("transaction_id is required")
	case p.WalletID == uuid.Nil:
		return errors.New("wallet_id is required")
	case !p.Type.IsValid():
		return fmt.Errorf("unknown transaction type %q", p.Type)
	case p.AmountCents <= 0:
		return errors.New("amount_cents must be positive")
	}
	return nil
}
