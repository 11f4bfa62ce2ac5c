// models/mirror.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Local copies of Square entities. Each row is keyed by the Square id plus the
// merchant id, created on first webhook observation and upserted afterwards.
// Rows are never deleted.

type SquareOrder struct {
	ID                string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SquareID          string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_square_orders_square_merchant,priority:1" json:"square_id"`
	MerchantID        string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_square_orders_square_merchant,priority:2" json:"merchant_id"`
	State             string         `gorm:"type:varchar(32);index" json:"state"`
	CustomerID        string         `gorm:"type:varchar(64);index" json:"customer_id,omitempty"`
	LocationID        string         `gorm:"type:varchar(64)" json:"location_id,omitempty"`
	Version           int64          `json:"version"`
	RawJSON           datatypes.JSON `json:"raw_json"`
	PlatformUpdatedAt *time.Time     `json:"platform_updated_at,omitempty"`
	Timestamps
}

type SquarePayment struct {
	ID                string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SquareID          string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_square_payments_square_merchant,priority:1" json:"square_id"`
	MerchantID        string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_square_payments_square_merchant,priority:2" json:"merchant_id"`
	Status            string         `gorm:"type:varchar(32);index" json:"status"`
	AmountCents       int64          `json:"amount_cents"`
	Currency          string         `gorm:"type:varchar(8)" json:"currency"`
	CustomerID        string         `gorm:"type:varchar(64);index" json:"customer_id,omitempty"`
	OrderID           string         `gorm:"type:varchar(64);index" json:"order_id,omitempty"`
	LocationID        string         `gorm:"type:varchar(64)" json:"location_id,omitempty"`
	RawJSON           datatypes.JSON `json:"raw_json"`
	PlatformUpdatedAt *time.Time     `json:"platform_updated_at,omitempty"`
	Timestamps
}

type SquareBooking struct {
	ID                string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SquareID          string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_square_bookings_square_merchant,priority:1" json:"square_id"`
	MerchantID        string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_square_bookings_square_merchant,priority:2" json:"merchant_id"`
	Status            string         `gorm:"type:varchar(32);index" json:"status"`
	CustomerID        string         `gorm:"type:varchar(64);index" json:"customer_id,omitempty"`
	LocationID        string         `gorm:"type:varchar(64)" json:"location_id,omitempty"`
	StartAt           *time.Time     `json:"start_at,omitempty"`
	Version           int64          `json:"version"`
	RawJSON           datatypes.JSON `json:"raw_json"`
	PlatformUpdatedAt *time.Time     `json:"platform_updated_at,omitempty"`
	Timestamps
}

func (m *SquareOrder) BeforeCreate(*gorm.DB) error   { return ensureID(&m.ID) }
func (m *SquarePayment) BeforeCreate(*gorm.DB) error { return ensureID(&m.ID) }
func (m *SquareBooking) BeforeCreate(*gorm.DB) error { return ensureID(&m.ID) }

func ensureID(id *string) error {
	if *id == "" {
		*id = uuid.NewString()
	}
	return nil
}
