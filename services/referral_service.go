// services/referral_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salon-referral-system/config"
	"salon-referral-system/models"
)

// ReferralService drives the per-customer referral state machine:
// customer created (stash the code used) -> first completed payment
// (own code generated, signup bonus + referrer reward issued).
type ReferralService struct {
	DB        *gorm.DB
	Square    SquareGateway
	Rewards   *RewardService
	Mirrors   *MirrorService
	Codes     *CodeGenerator
	Notifier  Notifier
	Publisher EventPublisher
	Log       *zap.Logger

	BaseURL      string
	AttributeKey string
}

func NewReferralService(db *gorm.DB, square SquareGateway, rewards *RewardService, mirrors *MirrorService,
	notifier Notifier, publisher EventPublisher, cfg config.Config, log *zap.Logger) *ReferralService {
	return &ReferralService{
		DB:           db,
		Square:       square,
		Rewards:      rewards,
		Mirrors:      mirrors,
		Codes:        NewCodeGenerator(cfg.Referral.CodeLength),
		Notifier:     notifier,
		Publisher:    publisher,
		Log:          log,
		BaseURL:      cfg.Referral.BaseURL,
		AttributeKey: cfg.Square.ReferralAttributeKey,
	}
}

// Attribution describes what one completed payment changed.
type Attribution struct {
	CustomerID       string
	PaymentID        string
	AlreadyProcessed bool
	CodeGenerated    bool
	ReferrerID       string
	ReferralCode     string
	Rewards          []models.GiftCardReward

	customer models.Customer
	referrer *models.Customer
}

func (s *ReferralService) ReferralURL(code string) string {
	return s.BaseURL + "/ref/" + code
}

// whereCode matches stored codes regardless of case or stray whitespace.
func whereCode(db *gorm.DB, code string) *gorm.DB {
	return db.Where("UPPER(TRIM(personal_code)) = ?", NormalizeCode(code))
}

// FindReferrer returns the customer owning code, or ErrNotFound.
func (s *ReferralService) FindReferrer(ctx context.Context, code string) (*models.Customer, error) {
	if NormalizeCode(code) == "" {
		return nil, ErrNotFound
	}
	var c models.Customer
	err := whereCode(s.DB.WithContext(ctx), code).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCustomerProfile writes name and contact fields only. Referral state is
// never touched here.
func (s *ReferralService) UpsertCustomerProfile(ctx context.Context, merchantID string, sc SquareCustomer) error {
	row := models.Customer{
		ID:         sc.ID,
		MerchantID: merchantID,
		GivenName:  sc.GivenName,
		FamilyName: sc.FamilyName,
		Email:      sc.EmailAddress,
		Phone:      sc.PhoneNumber,
	}
	cols := []string{"given_name", "family_name", "email", "phone", "updated_at"}
	if merchantID != "" {
		cols = append(cols, "merchant_id")
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", sc.ID, err)
	}
	return nil
}

// HandleCustomerCreated persists the customer and stashes any referral code
// found on the Square profile. No reward is issued here.
func (s *ReferralService) HandleCustomerCreated(ctx context.Context, merchantID string, sc SquareCustomer) error {
	if err := s.UpsertCustomerProfile(ctx, merchantID, sc); err != nil {
		return err
	}

	var lookupErr error
	code := ""
	if s.AttributeKey != "" && s.Square != nil {
		value, err := s.Square.RetrieveCustomerAttribute(ctx, sc.ID, s.AttributeKey)
		if err != nil {
			s.Log.Warn("[REFERRAL] custom attribute lookup failed", zap.String("customer", sc.ID), zap.Error(err))
			lookupErr = fmt.Errorf("referral attribute for %s: %w", sc.ID, err)
		}
		code = value
	}
	if NormalizeCode(code) == "" {
		code = s.knownCodeFromReference(ctx, sc.ReferenceID)
	}
	if NormalizeCode(code) == "" {
		// The first completed payment reads the attribute again.
		return lookupErr
	}
	_, err := s.StashReferralCode(ctx, sc.ID, code)
	return err
}

// HandleCustomerUpdated refreshes the profile and picks up a reference_id
// code that was added after creation.
func (s *ReferralService) HandleCustomerUpdated(ctx context.Context, merchantID string, sc SquareCustomer) error {
	if err := s.UpsertCustomerProfile(ctx, merchantID, sc); err != nil {
		return err
	}
	if code := s.knownCodeFromReference(ctx, sc.ReferenceID); code != "" {
		_, err := s.StashReferralCode(ctx, sc.ID, code)
		return err
	}
	return nil
}

// HandleCustomerAttribute stashes the referral code written to the configured
// custom attribute. Other attribute keys are ignored.
func (s *ReferralService) HandleCustomerAttribute(ctx context.Context, merchantID, customerID, key, value string) error {
	if key != s.AttributeKey {
		s.Log.Debug("[REFERRAL] ignoring custom attribute", zap.String("key", key))
		return nil
	}
	if _, err := s.ensureCustomer(ctx, merchantID, customerID); err != nil {
		return err
	}
	_, err := s.StashReferralCode(ctx, customerID, value)
	return err
}

// knownCodeFromReference returns the normalized reference_id when it is an
// existing personal code, otherwise "".
func (s *ReferralService) knownCodeFromReference(ctx context.Context, referenceID string) string {
	if NormalizeCode(referenceID) == "" {
		return ""
	}
	if _, err := s.FindReferrer(ctx, referenceID); err != nil {
		return ""
	}
	return NormalizeCode(referenceID)
}

// StashReferralCode records the code a customer signed up with. An existing
// code is never overwritten and a customer's own code is ignored.
func (s *ReferralService) StashReferralCode(ctx context.Context, customerID, raw string) (bool, error) {
	code := NormalizeCode(raw)
	if code == "" {
		return false, nil
	}
	db := s.DB.WithContext(ctx)

	var own int64
	if err := whereCode(db.Model(&models.Customer{}), code).Where("id = ?", customerID).Count(&own).Error; err != nil {
		return false, fmt.Errorf("self-referral check: %w", err)
	}
	if own > 0 {
		s.Log.Info("[REFERRAL] ignoring self-referral", zap.String("customer", customerID), zap.String("code", code))
		return false, nil
	}

	res := db.Model(&models.Customer{}).
		Where("id = ? AND (used_referral_code IS NULL OR used_referral_code = '')", customerID).
		Update("used_referral_code", code)
	if res.Error != nil {
		return false, fmt.Errorf("stash referral code: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		s.Log.Info("[REFERRAL] stashed referral code", zap.String("customer", customerID), zap.String("code", code))
	}
	return res.RowsAffected == 1, nil
}

// ensureCustomer loads a customer, fetching and creating it from Square when
// the customer.created delivery was never seen.
func (s *ReferralService) ensureCustomer(ctx context.Context, merchantID, customerID string) (*models.Customer, error) {
	var c models.Customer
	err := s.DB.WithContext(ctx).First(&c, "id = ?", customerID).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if s.Square == nil {
		return nil, fmt.Errorf("customer %s: %w", customerID, ErrNotFound)
	}

	sc, err := s.Square.RetrieveCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("fetch customer %s: %w", customerID, err)
	}
	s.Log.Info("[REFERRAL] backfilling unknown customer", zap.String("customer", customerID))
	if err := s.HandleCustomerCreated(ctx, merchantID, *sc); err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).First(&c, "id = ?", customerID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// resolvePaymentCustomer falls back to the order when Square left customer_id
// off the payment.
func (s *ReferralService) resolvePaymentCustomer(ctx context.Context, merchantID string, p SquarePayment) (string, error) {
	if p.CustomerID != "" {
		return p.CustomerID, nil
	}
	if p.OrderID == "" {
		return "", nil
	}
	if s.Mirrors != nil {
		id, err := s.Mirrors.OrderCustomerID(ctx, p.OrderID)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	if s.Square == nil {
		return "", nil
	}
	order, err := s.Square.RetrieveOrder(ctx, p.OrderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("fetch order %s: %w", p.OrderID, err)
	}
	if s.Mirrors != nil {
		raw, _ := json.Marshal(order)
		if err := s.Mirrors.UpsertOrder(ctx, merchantID, *order, raw); err != nil {
			s.Log.Warn("[REFERRAL] order mirror failed", zap.String("order", order.ID), zap.Error(err))
		}
	}
	return order.CustomerID, nil
}

// HandlePayment runs attribution for a completed payment. Non-completed or
// anonymous payments return nil, nil.
func (s *ReferralService) HandlePayment(ctx context.Context, merchantID string, p SquarePayment) (*Attribution, error) {
	if !p.Completed() {
		return nil, nil
	}
	customerID, err := s.resolvePaymentCustomer(ctx, merchantID, p)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		s.Log.Info("[REFERRAL] completed payment without customer", zap.String("payment", p.ID))
		return nil, nil
	}
	cust, err := s.ensureCustomer(ctx, merchantID, customerID)
	if err != nil {
		return nil, err
	}
	if err := s.recoverReferralAttribute(ctx, cust); err != nil {
		return nil, err
	}

	att, err := s.AttributeFirstPayment(ctx, customerID, p.ID)
	if err != nil {
		return nil, err
	}
	if !att.AlreadyProcessed {
		s.afterAttribution(ctx, att)
	}
	return att, nil
}

// recoverReferralAttribute rereads the referral attribute for a customer who
// has not paid yet and has no stashed code, so a lookup that failed at
// creation is not lost. A failed read fails the payment before any state
// changes.
func (s *ReferralService) recoverReferralAttribute(ctx context.Context, cust *models.Customer) error {
	if cust.FirstPaymentCompleted || cust.UsedReferralCode != "" || s.AttributeKey == "" || s.Square == nil {
		return nil
	}
	value, err := s.Square.RetrieveCustomerAttribute(ctx, cust.ID, s.AttributeKey)
	if err != nil {
		return fmt.Errorf("referral attribute for %s: %w", cust.ID, err)
	}
	if NormalizeCode(value) == "" {
		return nil
	}
	if _, err := s.StashReferralCode(ctx, cust.ID, value); err != nil {
		return err
	}
	s.Log.Info("[REFERRAL] recovered referral code at first payment", zap.String("customer", cust.ID))
	return nil
}

// AttributeFirstPayment applies the first-payment transition in a single
// transaction holding the customer row lock. Any reward failure rolls the
// whole transition back so a redelivery can retry it.
func (s *ReferralService) AttributeFirstPayment(ctx context.Context, customerID, paymentID string) (*Attribution, error) {
	att := &Attribution{CustomerID: customerID, PaymentID: paymentID}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cust models.Customer
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cust, "id = ?", customerID).Error; err != nil {
			return fmt.Errorf("lock customer %s: %w", customerID, err)
		}
		if cust.FirstPaymentCompleted {
			att.AlreadyProcessed = true
			return nil
		}

		updates := map[string]any{
			"first_payment_completed": true,
			"first_payment_id":        paymentID,
		}
		if cust.PersonalCode == nil {
			code, err := s.Codes.Generate(tx, cust.GivenName)
			if err != nil {
				return err
			}
			url := s.ReferralURL(code)
			updates["personal_code"] = code
			updates["activated_as_referrer"] = true
			updates["referral_url"] = url
			cust.PersonalCode, cust.ActivatedAsReferrer, cust.ReferralURL = &code, true, url
			att.CodeGenerated = true
		}
		if err := tx.Model(&cust).Updates(updates).Error; err != nil {
			return fmt.Errorf("mark first payment: %w", err)
		}
		cust.FirstPaymentCompleted, cust.FirstPaymentID = true, paymentID
		att.customer = cust

		used := NormalizeCode(cust.UsedReferralCode)
		if used == "" {
			return nil
		}
		att.ReferralCode = used

		var referrer models.Customer
		err := whereCode(tx.Clauses(clause.Locking{Strength: "UPDATE"}), used).
			Where("id <> ?", cust.ID).First(&referrer).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.Log.Info("[REFERRAL] code does not resolve, no attribution",
				zap.String("customer", cust.ID), zap.String("code", used))
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup referrer: %w", err)
		}
		att.ReferrerID = referrer.ID
		att.referrer = &referrer

		if !cust.GotSignupBonus {
			reward, created, err := s.Rewards.Issue(ctx, tx, RewardRequest{
				Customer:           &cust,
				Type:               models.RewardTypeFriendSignupBonus,
				ReferrerCustomerID: referrer.ID,
				ReferralCode:       used,
			})
			if err != nil {
				return fmt.Errorf("signup bonus: %w", err)
			}
			if created {
				att.Rewards = append(att.Rewards, *reward)
			}
			if err := tx.Model(&cust).Update("got_signup_bonus", true).Error; err != nil {
				return fmt.Errorf("mark signup bonus: %w", err)
			}
			cust.GotSignupBonus = true
		}

		reward, created, err := s.Rewards.Issue(ctx, tx, RewardRequest{
			Customer:           &referrer,
			Type:               models.RewardTypeReferrerReward,
			ReferredCustomerID: cust.ID,
			ReferrerCustomerID: referrer.ID,
			ReferralCode:       used,
		})
		if err != nil {
			return fmt.Errorf("referrer reward: %w", err)
		}
		if created {
			att.Rewards = append(att.Rewards, *reward)
		}
		att.customer = cust
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !att.AlreadyProcessed {
		s.Log.Info("[REFERRAL] first payment processed",
			zap.String("customer", customerID),
			zap.String("payment", paymentID),
			zap.Bool("code_generated", att.CodeGenerated),
			zap.String("referrer", att.ReferrerID),
			zap.Int("rewards", len(att.Rewards)))
	}
	return att, nil
}

// afterAttribution sends emails and publishes events once the transaction has
// committed. Failures are logged only.
func (s *ReferralService) afterAttribution(ctx context.Context, att *Attribution) {
	cust := att.customer

	if att.CodeGenerated && !cust.ReferralEmailSent && s.Notifier != nil {
		sent, err := s.Notifier.SendReferralCode(ctx, cust)
		if err != nil {
			s.Log.Warn("[EMAIL] referral code email failed", zap.String("customer", cust.ID), zap.Error(err))
		}
		if sent {
			if err := s.DB.WithContext(ctx).Model(&models.Customer{}).Where("id = ?", cust.ID).
				Update("referral_email_sent", true).Error; err != nil {
				s.Log.Warn("[EMAIL] could not flag referral email", zap.String("customer", cust.ID), zap.Error(err))
			}
		}
	}

	for _, r := range att.Rewards {
		recipient := cust
		if r.CustomerID != cust.ID && att.referrer != nil {
			recipient = *att.referrer
		}
		if s.Notifier != nil {
			if _, err := s.Notifier.SendRewardIssued(ctx, recipient, r); err != nil {
				s.Log.Warn("[EMAIL] reward email failed", zap.String("reward", r.ID), zap.Error(err))
			}
		}
		publishQuietly(ctx, s.Publisher, s.Log, TopicRewardIssued, r.CustomerID, r)
	}

	for _, r := range att.Rewards {
		if r.RewardType == models.RewardTypeReferrerReward {
			publishQuietly(ctx, s.Publisher, s.Log, TopicReferralConverted, att.ReferrerID, map[string]any{
				"referrer_customer_id": att.ReferrerID,
				"referred_customer_id": att.CustomerID,
				"referral_code":        att.ReferralCode,
				"payment_id":           att.PaymentID,
			})
		}
	}
}
