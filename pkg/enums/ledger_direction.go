package enums

import (
	"fmt"
	"strings"
)

// LedgerDirection encodes the sign of a wallet transaction amount.
type LedgerDirection string

const (
	LedgerDirectionCredit LedgerDirection = "credit"
	LedgerDirectionDebit  LedgerDirection = "debit"
)

var validLedgerDirections = []LedgerDirection{
	LedgerDirectionCredit,
	LedgerDirectionDebit,
}

// String implements fmt.Stringer.
func (d LedgerDirection) String() string {
	return string(d)
}

// IsValid reports whether the value is a known LedgerDirection.
func (d LedgerDirection) IsValid() bool {
	for _, candidate := range validLedgerDirections {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseLedgerDirection converts raw input into a LedgerDirection. Matching ignores case and
// surrounding whitespace.
func ParseLedgerDirection(value string) (LedgerDirection, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validLedgerDirections {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger direction %q", value)
}
