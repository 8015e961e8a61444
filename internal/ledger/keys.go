package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Settlement event labels used in idempotency keys.
const (
	EventDelivered = "DELIVERED"
	EventCancel    = "CANCEL"
	EventReturn    = "RETURN"
)

// SettlementKey identifies one settlement event for a vendor sub-order.
func SettlementKey(vendorID, subOrderID uuid.UUID, event string) string {
	return fmt.Sprintf("settle:%s:%s:%s", vendorID, subOrderID, event)
}

// UnlockKey is derived from the hold credit being promoted, never from the
// clock, so re-running an unlock batch cannot double-credit.
func UnlockKey(holdTxnID uuid.UUID) string {
	return "unlock:" + holdTxnID.String()
}

func PayoutKey(vendorID uuid.UUID, reference string) string {
	return fmt.Sprintf("payout:%s:%s", vendorID, reference)
}

func PayoutFailedKey(vendorID uuid.UUID, reference string) string {
	return fmt.Sprintf("payout-failed:%s:%s", vendorID, reference)
}

func AdjustmentKey(vendorID uuid.UUID, reference string) string {
	return fmt.Sprintf("adjust:%s:%s", vendorID, reference)
}
