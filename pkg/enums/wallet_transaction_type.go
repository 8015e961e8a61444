package enums

import (
	"fmt"
	"strings"
)

// WalletTransactionType names the business event behind a ledger entry.
type WalletTransactionType string

const (
	WalletTxnDeliveredHoldCredit WalletTransactionType = "delivered_hold_credit"
	WalletTxnCancelDeduct        WalletTransactionType = "cancel_deduct"
	WalletTxnReturnDeduct        WalletTransactionType = "return_deduct"
	WalletTxnHoldToAvailable     WalletTransactionType = "hold_to_available"
	WalletTxnPayoutReleased      WalletTransactionType = "payout_released"
	WalletTxnPayoutFailed        WalletTransactionType = "payout_failed"
	WalletTxnAdjustment          WalletTransactionType = "adjustment"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTxnDeliveredHoldCredit,
	WalletTxnCancelDeduct,
	WalletTxnReturnDeduct,
	WalletTxnHoldToAvailable,
	WalletTxnPayoutReleased,
	WalletTxnPayoutFailed,
	WalletTxnAdjustment,
}

// String implements fmt.Stringer.
func (t WalletTransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known WalletTransactionType.
func (t WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseWalletTransactionType converts raw input into a WalletTransactionType. Matching ignores case and
// surrounding whitespace.
func ParseWalletTransactionType(value string) (WalletTransactionType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validWalletTransactionTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}

// IsDeduction reports whether the type claws back previously settled funds.
func (t WalletTransactionType) IsDeduction() bool {
	return t == WalletTxnCancelDeduct || t == WalletTxnReturnDeduct
}
