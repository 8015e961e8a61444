package enums

import (
	"fmt"
	"strings"
)

// PayoutMethod is the rail used to send funds to a vendor.
type PayoutMethod string

const (
	PayoutMethodBankTransfer PayoutMethod = "bank_transfer"
	PayoutMethodUPI          PayoutMethod = "upi"
	PayoutMethodCheque       PayoutMethod = "cheque"
	PayoutMethodCash         PayoutMethod = "cash"
	PayoutMethodOther        PayoutMethod = "other"
)

var validPayoutMethods = []PayoutMethod{
	PayoutMethodBankTransfer,
	PayoutMethodUPI,
	PayoutMethodCheque,
	PayoutMethodCash,
	PayoutMethodOther,
}

// String implements fmt.Stringer.
func (m PayoutMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a known PayoutMethod.
func (m PayoutMethod) IsValid() bool {
	for _, candidate := range validPayoutMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParsePayoutMethod converts raw input into a PayoutMethod. Matching ignores case and
// surrounding whitespace.
func ParsePayoutMethod(value string) (PayoutMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPayoutMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout method %q", value)
}
