package orders

import (
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// checkPaymentGuardrails rejects moving an order (or any of its sub-orders)
// into SHIPPED or DELIVERED before the money side allows it.
func checkPaymentGuardrails(order *models.Order, target enums.OrderStatus) error {
	if !target.RequiresCapturedPayment() {
		return nil
	}
	switch order.PaymentMethod {
	case enums.PaymentMethodOnline:
		if order.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonOnlinePaymentNotCaptured,
				"online payment must be captured before shipping").
				WithDetails(map[string]any{"payment_status": order.PaymentStatus, "target": target})
		}
	case enums.PaymentMethodCOD:
		if order.CODConfirmedAt == nil {
			return pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonCODNotConfirmed,
				"cash on delivery order must be confirmed before shipping").
				WithDetails(map[string]any{"target": target})
		}
	}
	return nil
}

// DeriveOrderStatus computes the parent status from its sub-orders. A
// terminal parent never moves. Precedence: all cancelled, then all terminal
// (delivered wins over cancelled), then any shipped or delivered, then any
// confirmed, else placed.
func DeriveOrderStatus(current enums.OrderStatus, subs []models.SubOrder) enums.OrderStatus {
	if current.IsTerminal() || len(subs) == 0 {
		return current
	}

	var cancelled, delivered, shipped, confirmed int
	for _, sub := range subs {
		switch sub.Status {
		case enums.OrderStatusCancelled:
			cancelled++
		case enums.OrderStatusDelivered:
			delivered++
		case enums.OrderStatusShipped:
			shipped++
		case enums.OrderStatusConfirmed:
			confirmed++
		}
	}

	switch {
	case cancelled == len(subs):
		return enums.OrderStatusCancelled
	case delivered+cancelled == len(subs):
		return enums.OrderStatusDelivered
	// a delivered sub-order has already shipped
	case shipped > 0 || delivered > 0:
		return enums.OrderStatusShipped
	case confirmed > 0:
		return enums.OrderStatusConfirmed
	default:
		return enums.OrderStatusPlaced
	}
}
