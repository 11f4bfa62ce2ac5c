package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WalletPass is one Apple Wallet pass per gift card. UpdatedAt doubles as the
// passesUpdatedSince tag handed to devices.
type WalletPass struct {
	SerialNumber       string     `gorm:"primaryKey;type:varchar(64)" json:"serial_number"`
	PassTypeIdentifier string     `gorm:"type:varchar(128);not null" json:"pass_type_identifier"`
	CustomerID         string     `gorm:"type:varchar(64);index" json:"customer_id"`
	GiftCardID         string     `gorm:"type:varchar(64);index" json:"gift_card_id"`
	GiftCardGAN        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"gift_card_gan"`
	AuthToken          string     `gorm:"type:text;not null" json:"-"`
	BalanceCents       int64      `json:"balance_cents"`
	Currency           string     `gorm:"type:varchar(8)" json:"currency"`
	StorageURL         string     `json:"storage_url,omitempty"`
	LastPushedAt       *time.Time `json:"last_pushed_at,omitempty"`
	Timestamps
}

// DeviceRegistration links a device to a pass for push updates.
type DeviceRegistration struct {
	ID                      string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	DeviceLibraryIdentifier string `gorm:"type:varchar(128);not null;uniqueIndex:ux_device_pass,priority:1" json:"device_library_identifier"`
	PassTypeIdentifier      string `gorm:"type:varchar(128);not null;uniqueIndex:ux_device_pass,priority:2" json:"pass_type_identifier"`
	SerialNumber            string `gorm:"type:varchar(64);not null;uniqueIndex:ux_device_pass,priority:3;index" json:"serial_number"`
	PushToken               string `gorm:"type:varchar(256);not null" json:"push_token"`
	CachedBalanceCents      int64  `json:"cached_balance_cents"`
	Timestamps
}

func (d *DeviceRegistration) BeforeCreate(*gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
