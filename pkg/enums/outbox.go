package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateVendorWallet OutboxAggregateType = "vendor_wallet"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateVendorWallet,
}

func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventSubOrderStatusChanged     OutboxEventType = "sub_order_status_changed"
	EventCODConfirmed              OutboxEventType = "cod_confirmed"
	EventWalletTransactionRecorded OutboxEventType = "wallet_transaction_recorded"
)

var validEventTypes = []OutboxEventType{
	EventSubOrderStatusChanged,
	EventCODConfirmed,
	EventWalletTransactionRecorded,
}

func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
