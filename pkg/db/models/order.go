package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// Order is a customer purchase split into one sub-order per fulfilling vendor.
type Order struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code           string              `gorm:"column:code;type:varchar(64);not null;uniqueIndex"`
	CustomerID     *uuid.UUID          `gorm:"column:customer_id;type:uuid"`
	PaymentMethod  enums.PaymentMethod `gorm:"column:payment_method;type:varchar(16);not null"`
	PaymentStatus  enums.PaymentStatus `gorm:"column:payment_status;type:varchar(32);not null"`
	Status         enums.OrderStatus   `gorm:"column:status;type:varchar(16);not null"`
	CODConfirmedAt *time.Time          `gorm:"column:cod_confirmed_at"`
	CODConfirmedBy *uuid.UUID          `gorm:"column:cod_confirmed_by;type:uuid"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	SubOrders      []SubOrder          `gorm:"foreignKey:OrderID;references:ID"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// SubOrder is the vendor-scoped partition of an order. A nil VendorID means
// the platform fulfils it and no wallet is involved.
type SubOrder struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	VendorID        *uuid.UUID        `gorm:"column:vendor_id;type:uuid;index"`
	Status          enums.OrderStatus `gorm:"column:status;type:varchar(16);not null"`
	StatusChangedAt *time.Time        `gorm:"column:status_changed_at"`
	DeliveredAt     *time.Time        `gorm:"column:delivered_at"`
	CancelledAt     *time.Time        `gorm:"column:cancelled_at"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	Items           []SubOrderItem    `gorm:"foreignKey:SubOrderID;references:ID"`
}

func (s *SubOrder) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SubOrderItem carries the pricing a settlement needs. BasePriceCents is the
// vendor price per unit without the shipping markup shown to the customer;
// OfferDiscountCents is the discount already allocated to the whole line.
type SubOrderItem struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SubOrderID          uuid.UUID `gorm:"column:sub_order_id;type:uuid;not null;index"`
	ProductID           uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name                string    `gorm:"column:name;type:varchar(255);not null"`
	Quantity            int       `gorm:"column:quantity;not null"`
	BasePriceCents      int64     `gorm:"column:base_price_cents;not null"`
	ShippingMarkupCents int64     `gorm:"column:shipping_markup_cents;not null;default:0"`
	OfferDiscountCents  int64     `gorm:"column:offer_discount_cents;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *SubOrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// PayableCents is what the customer pays for the line, markup included.
func (i SubOrderItem) PayableCents() int64 {
	total := (i.BasePriceCents+i.ShippingMarkupCents)*int64(i.Quantity) - i.OfferDiscountCents
	if total < 0 {
		return 0
	}
	return total
}
