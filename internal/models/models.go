package models

// All returns every model for migrations.
func All() []interface{} {
	return []interface{}{
		&LaundryGroup{},
		&LaundryRoom{},
		&Slot{},
		&Machine{},
		&MachineSlotMap{},
		&PlatformUser{},
		&Transaction{},
		&RefundAuthorizationRequest{},
		&Refund{},
		&FailedTransactionIngest{},
		&FailedTransactionMatch{},
		&CheckAttributionMatch{},
		&TransactionGap{},
		&TransactionPool{},
		&LastIDLog{},
	}
}
