package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
)

// OrderView is the admin-facing representation of an order.
type OrderView struct {
	ID             uuid.UUID           `json:"id"`
	Code           string              `json:"code"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method"`
	PaymentStatus  enums.PaymentStatus `json:"payment_status"`
	Status         enums.OrderStatus   `json:"status"`
	CODConfirmedAt *time.Time          `json:"cod_confirmed_at,omitempty"`
	CODConfirmedBy *uuid.UUID          `json:"cod_confirmed_by,omitempty"`
	SubOrders      []SubOrderView      `json:"sub_orders"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type SubOrderView struct {
	ID           uuid.UUID         `json:"id"`
	VendorID     *uuid.UUID        `json:"vendor_id,omitempty"`
	Status       enums.OrderStatus `json:"status"`
	PayableCents int64             `json:"payable_cents"`
	Payable      string            `json:"payable"`
	DeliveredAt  *time.Time        `json:"delivered_at,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty"`
}

func NewOrderView(order *models.Order) OrderView {
	view := OrderView{
		ID:             order.ID,
		Code:           order.Code,
		PaymentMethod:  order.PaymentMethod,
		PaymentStatus:  order.PaymentStatus,
		Status:         order.Status,
		CODConfirmedAt: order.CODConfirmedAt,
		CODConfirmedBy: order.CODConfirmedBy,
		SubOrders:      make([]SubOrderView, 0, len(order.SubOrders)),
		UpdatedAt:      order.UpdatedAt,
	}
	for _, sub := range order.SubOrders {
		var payable int64
		for _, item := range sub.Items {
			payable += item.PayableCents()
		}
		view.SubOrders = append(view.SubOrders, SubOrderView{
			ID:           sub.ID,
			VendorID:     sub.VendorID,
			Status:       sub.Status,
			PayableCents: payable,
			Payable:      money.FormatCents(payable),
			DeliveredAt:  sub.DeliveredAt,
			CancelledAt:  sub.CancelledAt,
		})
	}
	return view
}
