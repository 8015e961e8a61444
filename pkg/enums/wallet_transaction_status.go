package enums

import (
	"fmt"
	"strings"
)

// WalletTransactionStatus is the bucket a ledger entry settled into.
type WalletTransactionStatus string

const (
	WalletTxnStatusHold      WalletTransactionStatus = "hold"
	WalletTxnStatusAvailable WalletTransactionStatus = "available"
	WalletTxnStatusPaid      WalletTransactionStatus = "paid"
	WalletTxnStatusReversed  WalletTransactionStatus = "reversed"
	WalletTxnStatusFailed    WalletTransactionStatus = "failed"
)

var validWalletTransactionStatuses = []WalletTransactionStatus{
	WalletTxnStatusHold,
	WalletTxnStatusAvailable,
	WalletTxnStatusPaid,
	WalletTxnStatusReversed,
	WalletTxnStatusFailed,
}

// String implements fmt.Stringer.
func (s WalletTransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known WalletTransactionStatus.
func (s WalletTransactionStatus) IsValid() bool {
	for _, candidate := range validWalletTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseWalletTransactionStatus converts raw input into a WalletTransactionStatus. Matching ignores case and
// surrounding whitespace.
func ParseWalletTransactionStatus(value string) (WalletTransactionStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validWalletTransactionStatuses {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction status %q", value)
}
