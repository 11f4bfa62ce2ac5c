// services/wallet_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salon-referral-system/models"
)

const PassContentType = "application/vnd.apple.pkpass"

// PassStore archives signed passes. R2 in production, nil when unconfigured.
type PassStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// WalletService implements the Apple Wallet web service: device registration,
// updated-serial listing, pass delivery and balance change pushes.
type WalletService struct {
	DB                 *gorm.DB
	Builder            *PassBuilder
	Tokens             *PassTokens
	Pusher             PassPusher
	Store              PassStore
	Square             SquareGateway
	Log                *zap.Logger
	PassTypeIdentifier string
}

func NewWalletService(db *gorm.DB, builder *PassBuilder, tokens *PassTokens, pusher PassPusher,
	store PassStore, square SquareGateway, log *zap.Logger) *WalletService {
	return &WalletService{
		DB:                 db,
		Builder:            builder,
		Tokens:             tokens,
		Pusher:             pusher,
		Store:              store,
		Square:             square,
		Log:                log,
		PassTypeIdentifier: builder.Config.PassTypeIdentifier,
	}
}

// authorize loads the pass and checks the ApplePass token. Unknown passes are
// reported as unauthorized so serial numbers cannot be probed.
func (s *WalletService) authorize(ctx context.Context, passType, serial, token string) (*models.WalletPass, error) {
	if passType != s.PassTypeIdentifier {
		return nil, ErrUnauthorized
	}
	var pass models.WalletPass
	err := s.DB.WithContext(ctx).First(&pass, "serial_number = ? AND pass_type_identifier = ?", serial, passType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !s.Tokens.Authenticate(serial, token, pass.AuthToken) {
		return nil, ErrUnauthorized
	}
	return &pass, nil
}

// RegisterDevice returns created=true for a new registration and false when
// the device was already registered (its push token is refreshed).
func (s *WalletService) RegisterDevice(ctx context.Context, device, passType, serial, token, pushToken string) (bool, error) {
	pass, err := s.authorize(ctx, passType, serial, token)
	if err != nil {
		return false, err
	}
	if device == "" || pushToken == "" {
		return false, fmt.Errorf("%w: device and push token required", ErrInvalidInput)
	}

	db := s.DB.WithContext(ctx)
	var reg models.DeviceRegistration
	err = db.First(&reg, "device_library_identifier = ? AND pass_type_identifier = ? AND serial_number = ?",
		device, passType, serial).Error
	if err == nil {
		if reg.PushToken != pushToken {
			if err := db.Model(&reg).Update("push_token", pushToken).Error; err != nil {
				return false, err
			}
		}
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	reg = models.DeviceRegistration{
		DeviceLibraryIdentifier: device,
		PassTypeIdentifier:      passType,
		SerialNumber:            serial,
		PushToken:               pushToken,
		CachedBalanceCents:      pass.BalanceCents,
	}
	res := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "device_library_identifier"}, {Name: "pass_type_identifier"}, {Name: "serial_number"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"push_token", "updated_at"}),
	}).Create(&reg)
	if res.Error != nil {
		return false, fmt.Errorf("register device: %w", res.Error)
	}
	s.Log.Info("[WALLET] device registered", zap.String("device", device), zap.String("serial", serial))
	return true, nil
}

func (s *WalletService) UnregisterDevice(ctx context.Context, device, passType, serial, token string) error {
	if _, err := s.authorize(ctx, passType, serial, token); err != nil {
		return err
	}
	err := s.DB.WithContext(ctx).
		Where("device_library_identifier = ? AND pass_type_identifier = ? AND serial_number = ?", device, passType, serial).
		Delete(&models.DeviceRegistration{}).Error
	if err != nil {
		return fmt.Errorf("unregister device: %w", err)
	}
	s.Log.Info("[WALLET] device unregistered", zap.String("device", device), zap.String("serial", serial))
	return nil
}

// UpdatedSerials lists the device's passes changed after since, a tag from a
// previous call. The tag is the latest updated_at at full precision so a
// device never gets the same change twice. An empty result means 204.
func (s *WalletService) UpdatedSerials(ctx context.Context, device, passType, since string) ([]string, string, error) {
	q := s.DB.WithContext(ctx).Table("wallet_passes AS p").
		Select("p.serial_number, p.updated_at").
		Joins("JOIN device_registrations AS r ON r.serial_number = p.serial_number AND r.pass_type_identifier = p.pass_type_identifier").
		Where("r.device_library_identifier = ? AND r.pass_type_identifier = ?", device, passType)
	if after, ok := parseSerialsTag(since); ok {
		q = q.Where("p.updated_at > ?", after)
	}

	var rows []struct {
		SerialNumber string
		UpdatedAt    time.Time
	}
	if err := q.Order("p.updated_at ASC").Scan(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("list updated passes: %w", err)
	}
	if len(rows) == 0 {
		return nil, "", nil
	}

	serials := make([]string, 0, len(rows))
	var latest time.Time
	for _, r := range rows {
		serials = append(serials, r.SerialNumber)
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	return serials, latest.UTC().Format(time.RFC3339Nano), nil
}

// parseSerialsTag accepts the RFC 3339 tag issued by UpdatedSerials and the
// older epoch-millisecond form.
func parseSerialsTag(tag string) (time.Time, bool) {
	if tag == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, tag); err == nil {
		return t.UTC(), true
	}
	if ms, err := strconv.ParseInt(tag, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// PassForDevice returns the latest signed pass for an authorized device.
func (s *WalletService) PassForDevice(ctx context.Context, passType, serial, token string) (*models.WalletPass, []byte, error) {
	pass, err := s.authorize(ctx, passType, serial, token)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.build(ctx, pass)
	if err != nil {
		return nil, nil, err
	}
	return pass, body, nil
}

// PassForGAN builds the download for a gift card, creating its pass row on
// first request. filename is a slug of the customer's name.
func (s *WalletService) PassForGAN(ctx context.Context, gan string) (*models.WalletPass, []byte, string, error) {
	var cust models.Customer
	err := s.DB.WithContext(ctx).First(&cust, "gift_card_gan = ?", gan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, "", ErrNotFound
	}
	if err != nil {
		return nil, nil, "", err
	}

	pass, err := s.ensurePass(ctx, cust)
	if err != nil {
		return nil, nil, "", err
	}
	body, err := s.build(ctx, pass)
	if err != nil {
		return nil, nil, "", err
	}

	if s.Store != nil {
		url, err := s.Store.Put(ctx, "passes/"+pass.SerialNumber+".pkpass", body, PassContentType)
		if err != nil {
			s.Log.Warn("[WALLET] archive pass failed", zap.String("serial", pass.SerialNumber), zap.Error(err))
		} else if url != pass.StorageURL {
			pass.StorageURL = url
			if err := s.DB.WithContext(ctx).Model(pass).UpdateColumn("storage_url", url).Error; err != nil {
				s.Log.Warn("[WALLET] store pass url failed", zap.String("serial", pass.SerialNumber), zap.Error(err))
			}
		}
	}

	filename := slug.Make(cust.DisplayName()+" gift card") + ".pkpass"
	return pass, body, filename, nil
}

func (s *WalletService) ensurePass(ctx context.Context, cust models.Customer) (*models.WalletPass, error) {
	db := s.DB.WithContext(ctx)
	balance := s.currentBalance(ctx, cust)

	var pass models.WalletPass
	err := db.First(&pass, "gift_card_gan = ?", cust.GiftCardGAN).Error
	if err == nil {
		if balance != nil && balance.Amount != pass.BalanceCents {
			if err := s.ApplyBalance(ctx, pass.GiftCardID, pass.GiftCardGAN, balance); err != nil {
				return nil, err
			}
			if err := db.First(&pass, "serial_number = ?", pass.SerialNumber).Error; err != nil {
				return nil, err
			}
		}
		return &pass, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	serial := uuid.NewString()
	token, err := s.Tokens.Mint(serial)
	if err != nil {
		return nil, err
	}
	pass = models.WalletPass{
		SerialNumber:       serial,
		PassTypeIdentifier: s.PassTypeIdentifier,
		CustomerID:         cust.ID,
		GiftCardID:         cust.GiftCardID,
		GiftCardGAN:        cust.GiftCardGAN,
		AuthToken:          token,
	}
	if balance != nil {
		pass.BalanceCents, pass.Currency = balance.Amount, balance.Currency
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&pass)
	if res.Error != nil {
		return nil, fmt.Errorf("create pass: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Another request created it first.
		if err := db.First(&pass, "gift_card_gan = ?", cust.GiftCardGAN).Error; err != nil {
			return nil, err
		}
	}
	s.Log.Info("[WALLET] pass created", zap.String("serial", pass.SerialNumber), zap.String("customer", cust.ID))
	return &pass, nil
}

// currentBalance asks Square for the card balance and falls back to the sum
// of issued rewards when Square is unavailable.
func (s *WalletService) currentBalance(ctx context.Context, cust models.Customer) *Money {
	if s.Square != nil && cust.GiftCardID != "" {
		card, err := s.Square.RetrieveGiftCard(ctx, cust.GiftCardID)
		if err == nil && card.BalanceMoney != nil {
			return card.BalanceMoney
		}
		if err != nil {
			s.Log.Warn("[WALLET] balance lookup failed", zap.String("gift_card", cust.GiftCardID), zap.Error(err))
		}
	}
	var total struct {
		Cents    int64
		Currency string
	}
	err := s.DB.WithContext(ctx).Model(&models.GiftCardReward{}).
		Select("COALESCE(SUM(amount_cents), 0) AS cents, COALESCE(MAX(currency), '') AS currency").
		Where("customer_id = ?", cust.ID).Scan(&total).Error
	if err != nil {
		s.Log.Warn("[WALLET] reward total lookup failed", zap.String("customer", cust.ID), zap.Error(err))
		return nil
	}
	return &Money{Amount: total.Cents, Currency: total.Currency}
}

func (s *WalletService) build(ctx context.Context, pass *models.WalletPass) ([]byte, error) {
	var cust models.Customer
	if pass.CustomerID != "" {
		if err := s.DB.WithContext(ctx).First(&cust, "id = ?", pass.CustomerID).Error; err != nil &&
			!errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return s.Builder.Build(PassData{
		SerialNumber: pass.SerialNumber,
		AuthToken:    pass.AuthToken,
		GAN:          pass.GiftCardGAN,
		CustomerName: DisplayName(cust.GivenName, cust.FamilyName),
		ReferralCode: cust.Code(),
		ReferralURL:  cust.ReferralURL,
		BalanceCents: pass.BalanceCents,
		Currency:     pass.Currency,
		UpdatedAt:    pass.UpdatedAt,
	})
}

// ApplyBalance records a new gift card balance on its passes and pushes an
// update to every registered device. A nil balance is looked up in Square.
func (s *WalletService) ApplyBalance(ctx context.Context, giftCardID, gan string, balance *Money) error {
	db := s.DB.WithContext(ctx)
	var passes []models.WalletPass
	q := db.Where("gift_card_id = ?", giftCardID)
	if gan != "" {
		q = db.Where("gift_card_id = ? OR gift_card_gan = ?", giftCardID, gan)
	}
	if err := q.Find(&passes).Error; err != nil {
		return fmt.Errorf("load passes: %w", err)
	}
	if len(passes) == 0 {
		return nil
	}

	if balance == nil {
		if s.Square == nil {
			return nil
		}
		card, err := s.Square.RetrieveGiftCard(ctx, giftCardID)
		if err != nil {
			return fmt.Errorf("fetch gift card %s: %w", giftCardID, err)
		}
		if card.BalanceMoney == nil {
			return nil
		}
		balance = card.BalanceMoney
	}

	for i := range passes {
		pass := &passes[i]
		if pass.BalanceCents == balance.Amount && pass.Currency == balance.Currency {
			continue
		}
		if err := db.Model(pass).Updates(map[string]any{
			"balance_cents": balance.Amount,
			"currency":      balance.Currency,
		}).Error; err != nil {
			return fmt.Errorf("update pass balance: %w", err)
		}
		s.Log.Info("[WALLET] balance changed",
			zap.String("serial", pass.SerialNumber),
			zap.Int64("balance_cents", balance.Amount))
		s.notifyDevices(ctx, pass.SerialNumber, balance.Amount)
	}
	return nil
}

func (s *WalletService) notifyDevices(ctx context.Context, serial string, balanceCents int64) {
	db := s.DB.WithContext(ctx)
	var regs []models.DeviceRegistration
	if err := db.Where("serial_number = ?", serial).Find(&regs).Error; err != nil {
		s.Log.Warn("[WALLET] load registrations failed", zap.String("serial", serial), zap.Error(err))
		return
	}
	if s.Pusher == nil {
		if len(regs) > 0 {
			s.Log.Warn("[WALLET] APNs not configured, skipping push", zap.String("serial", serial))
		}
		return
	}

	pushed := false
	for _, reg := range regs {
		err := s.Pusher.Push(ctx, reg.PushToken)
		if errors.Is(err, ErrPushTokenInvalid) {
			s.Log.Info("[WALLET] dropping dead registration", zap.String("device", reg.DeviceLibraryIdentifier))
			if err := db.Delete(&reg).Error; err != nil {
				s.Log.Warn("[WALLET] drop registration failed", zap.String("device", reg.DeviceLibraryIdentifier), zap.Error(err))
			}
			continue
		}
		if err != nil {
			s.Log.Warn("[WALLET] push failed", zap.String("device", reg.DeviceLibraryIdentifier), zap.Error(err))
			continue
		}
		pushed = true
		if err := db.Model(&reg).Update("cached_balance_cents", balanceCents).Error; err != nil {
			s.Log.Warn("[WALLET] cache balance failed", zap.String("device", reg.DeviceLibraryIdentifier), zap.Error(err))
		}
	}
	if pushed {
		now := time.Now()
		if err := db.Model(&models.WalletPass{}).Where("serial_number = ?", serial).UpdateColumn("last_pushed_at", &now).Error; err != nil {
			s.Log.Warn("[WALLET] record push time failed", zap.String("serial", serial), zap.Error(err))
		}
	}
}

// SyncBalances refreshes every pass that has at least one registered device.
func (s *WalletService) SyncBalances(ctx context.Context) (int, error) {
	if s.Square == nil {
		return 0, nil
	}
	var passes []models.WalletPass
	err := s.DB.WithContext(ctx).
		Where("serial_number IN (?)", s.DB.Model(&models.DeviceRegistration{}).Select("serial_number")).
		Find(&passes).Error
	if err != nil {
		return 0, fmt.Errorf("load registered passes: %w", err)
	}

	changed := 0
	for _, pass := range passes {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		if pass.GiftCardID == "" {
			continue
		}
		card, err := s.Square.RetrieveGiftCard(ctx, pass.GiftCardID)
		if err != nil {
			s.Log.Warn("[WALLET] balance sync lookup failed", zap.String("gift_card", pass.GiftCardID), zap.Error(err))
			continue
		}
		if card.BalanceMoney == nil || card.BalanceMoney.Amount == pass.BalanceCents {
			continue
		}
		if err := s.ApplyBalance(ctx, pass.GiftCardID, pass.GiftCardGAN, card.BalanceMoney); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// RecordDeviceLogs writes messages devices post to /v1/log.
func (s *WalletService) RecordDeviceLogs(logs []string) {
	for _, msg := range logs {
		s.Log.Info("[WALLET] device log", zap.String("message", msg))
	}
}
