package models

// All lists every persisted model; used by AutoMigrate in tests.
func All() []any {
	return []any{
		&Order{},
		&SubOrder{},
		&SubOrderItem{},
		&VendorWallet{},
		&WalletTransaction{},
		&OutboxEvent{},
	}
}
