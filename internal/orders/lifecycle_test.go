package orders

import (
	"testing"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

func subsWith(statuses ...enums.OrderStatus) []models.SubOrder {
	subs := make([]models.SubOrder, 0, len(statuses))
	for _, status := range statuses {
		subs = append(subs, models.SubOrder{Status: status})
	}
	return subs
}

func TestDeriveOrderStatus(t *testing.T) {
	cases := []struct {
		name    string
		current enums.OrderStatus
		subs    []models.SubOrder
		want    enums.OrderStatus
	}{
		{"all placed", enums.OrderStatusPlaced, subsWith(enums.OrderStatusPlaced, enums.OrderStatusPlaced), enums.OrderStatusPlaced},
		{"any confirmed", enums.OrderStatusPlaced, subsWith(enums.OrderStatusPlaced, enums.OrderStatusConfirmed), enums.OrderStatusConfirmed},
		{"any shipped", enums.OrderStatusConfirmed, subsWith(enums.OrderStatusShipped, enums.OrderStatusConfirmed), enums.OrderStatusShipped},
		{"delivered with open sibling", enums.OrderStatusShipped, subsWith(enums.OrderStatusDelivered, enums.OrderStatusPlaced), enums.OrderStatusShipped},
		{"delivered outranks confirmed sibling", enums.OrderStatusConfirmed, subsWith(enums.OrderStatusDelivered, enums.OrderStatusConfirmed), enums.OrderStatusShipped},
		{"all delivered", enums.OrderStatusShipped, subsWith(enums.OrderStatusDelivered, enums.OrderStatusDelivered), enums.OrderStatusDelivered},
		{"all cancelled", enums.OrderStatusPlaced, subsWith(enums.OrderStatusCancelled, enums.OrderStatusCancelled), enums.OrderStatusCancelled},
		{"delivered and cancelled", enums.OrderStatusShipped, subsWith(enums.OrderStatusDelivered, enums.OrderStatusCancelled), enums.OrderStatusDelivered},
		{"cancelled with open sibling", enums.OrderStatusPlaced, subsWith(enums.OrderStatusCancelled, enums.OrderStatusConfirmed), enums.OrderStatusConfirmed},
		{"terminal parent never reverts", enums.OrderStatusCancelled, subsWith(enums.OrderStatusPlaced), enums.OrderStatusCancelled},
		{"no sub orders", enums.OrderStatusConfirmed, nil, enums.OrderStatusConfirmed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveOrderStatus(tc.current, tc.subs); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCheckPaymentGuardrails(t *testing.T) {
	online := &models.Order{PaymentMethod: enums.PaymentMethodOnline, PaymentStatus: enums.PaymentStatusPending}
	if err := checkPaymentGuardrails(online, enums.OrderStatusConfirmed); err != nil {
		t.Fatalf("confirm should not be guarded: %v", err)
	}
	if err := checkPaymentGuardrails(online, enums.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel should not be guarded: %v", err)
	}
	if err := checkPaymentGuardrails(online, enums.OrderStatusShipped); err == nil {
		t.Fatal("expected uncaptured online payment to block shipping")
	}
	online.PaymentStatus = enums.PaymentStatusPaid
	if err := checkPaymentGuardrails(online, enums.OrderStatusDelivered); err != nil {
		t.Fatalf("captured online payment should pass: %v", err)
	}

	cod := &models.Order{PaymentMethod: enums.PaymentMethodCOD, PaymentStatus: enums.PaymentStatusPending}
	if err := checkPaymentGuardrails(cod, enums.OrderStatusDelivered); err == nil {
		t.Fatal("expected unconfirmed cod order to block delivery")
	}
}
