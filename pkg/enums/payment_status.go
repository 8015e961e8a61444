package enums

import (
	"fmt"
	"strings"
)

// PaymentStatus tracks collection of the order total.
type PaymentStatus string

const (
	PaymentStatusPending                PaymentStatus = "pending"
	PaymentStatusPaid                   PaymentStatus = "paid"
	PaymentStatusFailed                 PaymentStatus = "failed"
	PaymentStatusCODPendingConfirmation PaymentStatus = "cod_pending_confirmation"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusCODPendingConfirmation,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus. Matching ignores case and
// surrounding whitespace.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
