// services/reward_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salon-referral-system/config"
	"salon-referral-system/models"
)

type RewardService struct {
	Square SquareGateway
	Config config.RewardConfig
	Log    *zap.Logger
}

func NewRewardService(square SquareGateway, cfg config.RewardConfig, log *zap.Logger) *RewardService {
	return &RewardService{Square: square, Config: cfg, Log: log}
}

// RewardRequest names the target of one issuance. ReferredCustomerID is empty
// for the signup bonus.
type RewardRequest struct {
	Customer           *models.Customer
	Type               models.RewardType
	ReferredCustomerID string
	ReferrerCustomerID string
	ReferralCode       string
}

// IdempotencyKey is stable across retries so Square returns the original card
// or activity instead of minting a new one.
func (r RewardRequest) IdempotencyKey() string {
	return fmt.Sprintf("reward:%s:%s:%s", r.Type, r.Customer.ID, r.ReferredCustomerID)
}

func (s *RewardService) amountFor(t models.RewardType) int64 {
	if t == models.RewardTypeReferrerReward {
		return s.Config.ReferrerRewardCents
	}
	return s.Config.SignupBonusCents
}

// Issue grants the reward at most once per (customer, type, referred customer).
// It runs inside the caller's transaction: the existing-row check, the Square
// calls and the local insert all happen before the caller commits. The local
// row is written only after Square confirms. created is false when an earlier
// issuance was found.
func (s *RewardService) Issue(ctx context.Context, tx *gorm.DB, req RewardRequest) (reward *models.GiftCardReward, created bool, err error) {
	if req.Customer == nil || req.Customer.ID == "" {
		return nil, false, fmt.Errorf("%w: reward target required", ErrInvalidInput)
	}

	existing, err := findReward(tx, req.Customer.ID, req.Type, req.ReferredCustomerID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.Log.Info("[REWARD] already issued, skipping",
			zap.String("customer", req.Customer.ID),
			zap.String("type", string(req.Type)),
			zap.String("referred", req.ReferredCustomerID))
		return existing, false, nil
	}

	amount := Money{Amount: s.amountFor(req.Type), Currency: s.Config.Currency}
	key := req.IdempotencyKey()

	var activity *SquareGiftCardActivity
	giftCardID, gan := req.Customer.GiftCardID, req.Customer.GiftCardGAN
	if giftCardID != "" {
		activity, err = s.Square.AdjustGiftCardBalance(ctx, key+":adjust", giftCardID, amount)
		if err != nil {
			return nil, false, fmt.Errorf("load reward onto gift card %s: %w", giftCardID, err)
		}
	} else {
		card, err := s.Square.CreateGiftCard(ctx, key+":card")
		if err != nil {
			return nil, false, fmt.Errorf("create gift card: %w", err)
		}
		activity, err = s.Square.ActivateGiftCard(ctx, key+":activate", card.ID, amount, key)
		if err != nil {
			return nil, false, fmt.Errorf("activate gift card %s: %w", card.ID, err)
		}
		if err := s.Square.LinkCustomerToGiftCard(ctx, card.ID, req.Customer.ID); err != nil {
			// The card is funded; a missing link only hides it from the customer profile.
			s.Log.Warn("[REWARD] link customer to gift card failed",
				zap.String("gift_card", card.ID), zap.String("customer", req.Customer.ID), zap.Error(err))
		}
		giftCardID, gan = card.ID, card.GAN
		if err := tx.Model(&models.Customer{}).Where("id = ?", req.Customer.ID).
			Updates(map[string]any{"gift_card_id": giftCardID, "gift_card_gan": gan}).Error; err != nil {
			return nil, false, fmt.Errorf("store gift card on customer: %w", err)
		}
		req.Customer.GiftCardID, req.Customer.GiftCardGAN = giftCardID, gan
	}

	row := models.GiftCardReward{
		CustomerID:         req.Customer.ID,
		RewardType:         req.Type,
		ReferredCustomerID: req.ReferredCustomerID,
		ReferrerCustomerID: req.ReferrerCustomerID,
		ReferralCode:       req.ReferralCode,
		AmountCents:        amount.Amount,
		Currency:           amount.Currency,
		GiftCardID:         giftCardID,
		GiftCardGAN:        gan,
	}
	if activity != nil {
		row.SquareActivityID = activity.ID
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert reward: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := findReward(tx, req.Customer.ID, req.Type, req.ReferredCustomerID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("reward insert skipped but no row found")
		}
		return existing, false, nil
	}

	s.Log.Info("[REWARD] issued",
		zap.String("customer", row.CustomerID),
		zap.String("type", string(row.RewardType)),
		zap.Int64("amount_cents", row.AmountCents),
		zap.String("gift_card", row.GiftCardID))
	return &row, true, nil
}

func findReward(tx *gorm.DB, customerID string, t models.RewardType, referredID string) (*models.GiftCardReward, error) {
	var r models.GiftCardReward
	err := tx.Where("customer_id = ? AND reward_type = ? AND referred_customer_id = ?", customerID, t, referredID).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup reward: %w", err)
	}
	return &r, nil
}
