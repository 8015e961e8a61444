// Package money converts between integer cent amounts, which is how balances
// are stored, and the two-decimal strings used on the wire.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatCents renders 12345 as "123.45".
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Shift(-2).StringFixed(2)
}

// ParseAmount converts a major-unit string ("123.45") into cents. More than
// two fractional digits is rejected rather than rounded.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than two decimal places", value)
	}
	if cents.Abs().GreaterThan(decimal.NewFromInt(maxCents)) {
		return 0, fmt.Errorf("amount %q is out of range", value)
	}
	return cents.IntPart(), nil
}

const maxCents = 1<<53 - 1
