// services/mirror_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salon-referral-system/models"
)

// MirrorService keeps local copies of Square orders, payments and bookings.
// Rows are upserted on (square_id, merchant_id) and never deleted.
type MirrorService struct {
	DB *gorm.DB
}

func NewMirrorService(db *gorm.DB) *MirrorService {
	return &MirrorService{DB: db}
}

func mirrorConflict(updates ...string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "square_id"}, {Name: "merchant_id"}},
		DoUpdates: clause.AssignmentColumns(append(updates, "raw_json", "platform_updated_at", "updated_at")),
	}
}

func (s *MirrorService) UpsertPayment(ctx context.Context, merchantID string, p SquarePayment, raw []byte) error {
	row := models.SquarePayment{
		SquareID:          p.ID,
		MerchantID:        merchantID,
		Status:            p.Status,
		AmountCents:       p.AmountMoney.Amount,
		Currency:          p.AmountMoney.Currency,
		CustomerID:        p.CustomerID,
		OrderID:           p.OrderID,
		LocationID:        p.LocationID,
		RawJSON:           datatypes.JSON(raw),
		PlatformUpdatedAt: parseSquareTime(p.UpdatedAt),
	}
	if p.TotalMoney != nil {
		row.AmountCents, row.Currency = p.TotalMoney.Amount, p.TotalMoney.Currency
	}
	err := s.DB.WithContext(ctx).
		Clauses(mirrorConflict("status", "amount_cents", "currency", "customer_id", "order_id", "location_id")).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert payment %s: %w", p.ID, err)
	}
	return nil
}

func (s *MirrorService) UpsertOrderRef(ctx context.Context, merchantID string, o SquareOrderRef, raw []byte) error {
	row := models.SquareOrder{
		SquareID:          o.OrderID,
		MerchantID:        merchantID,
		State:             o.State,
		LocationID:        o.LocationID,
		Version:           o.Version,
		RawJSON:           datatypes.JSON(raw),
		PlatformUpdatedAt: parseSquareTime(o.UpdatedAt),
	}
	err := s.DB.WithContext(ctx).
		Clauses(mirrorConflict("state", "location_id", "version")).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.OrderID, err)
	}
	return nil
}

// UpsertOrder stores a full order fetched from the API, which unlike the
// webhook reference carries the customer id.
func (s *MirrorService) UpsertOrder(ctx context.Context, merchantID string, o SquareOrder, raw []byte) error {
	row := models.SquareOrder{
		SquareID:          o.ID,
		MerchantID:        merchantID,
		State:             o.State,
		CustomerID:        o.CustomerID,
		LocationID:        o.LocationID,
		Version:           o.Version,
		RawJSON:           datatypes.JSON(raw),
		PlatformUpdatedAt: parseSquareTime(o.UpdatedAt),
	}
	err := s.DB.WithContext(ctx).
		Clauses(mirrorConflict("state", "customer_id", "location_id", "version")).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}
	return nil
}

func (s *MirrorService) UpsertBooking(ctx context.Context, merchantID string, b SquareBooking, raw []byte) error {
	row := models.SquareBooking{
		SquareID:          b.ID,
		MerchantID:        merchantID,
		Status:            b.Status,
		CustomerID:        b.CustomerID,
		LocationID:        b.LocationID,
		StartAt:           parseSquareTime(b.StartAt),
		Version:           b.Version,
		RawJSON:           datatypes.JSON(raw),
		PlatformUpdatedAt: parseSquareTime(b.UpdatedAt),
	}
	err := s.DB.WithContext(ctx).
		Clauses(mirrorConflict("status", "customer_id", "location_id", "start_at", "version")).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert booking %s: %w", b.ID, err)
	}
	return nil
}

// OrderCustomerID returns the customer on a mirrored order, or "" when the
// order is unknown or anonymous.
func (s *MirrorService) OrderCustomerID(ctx context.Context, orderID string) (string, error) {
	var row models.SquareOrder
	err := s.DB.WithContext(ctx).Select("customer_id").Where("square_id = ?", orderID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.CustomerID, nil
}
