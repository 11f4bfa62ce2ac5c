package models

import "time"

// Timestamps adds GORM auto-times. Nothing in this service soft-deletes:
// mirrors are kept forever and device registrations are removed outright.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// All lists every table for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Customer{},
		&GiftCardReward{},
		&ReferralClick{},
		&SquareOrder{},
		&SquarePayment{},
		&SquareBooking{},
		&WalletPass{},
		&DeviceRegistration{},
		&WebhookEvent{},
		&ProcessRun{},
		&ReconciliationAlert{},
	}
}
