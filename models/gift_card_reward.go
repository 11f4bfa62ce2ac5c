package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RewardType identifies why a gift card value was issued.
type RewardType string

const (
	RewardTypeFriendSignupBonus RewardType = "FRIEND_SIGNUP_BONUS"
	RewardTypeReferrerReward    RewardType = "REFERRER_REWARD"
)

// GiftCardReward is written only after Square confirmed the card (or the load)
// and exists at most once per (customer, type, referred customer).
type GiftCardReward struct {
	ID                 string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CustomerID         string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_reward_owner_type_referred,priority:1" json:"customer_id"`
	RewardType         RewardType `gorm:"type:varchar(32);not null;uniqueIndex:ux_reward_owner_type_referred,priority:2" json:"reward_type"`
	ReferredCustomerID string     `gorm:"type:varchar(64);not null;default:'';uniqueIndex:ux_reward_owner_type_referred,priority:3" json:"referred_customer_id,omitempty"` // empty for signup bonuses
	ReferrerCustomerID string     `gorm:"type:varchar(64);index" json:"referrer_customer_id,omitempty"`
	ReferralCode       string     `gorm:"type:varchar(32)" json:"referral_code"`
	AmountCents        int64      `gorm:"not null" json:"amount_cents"`
	Currency           string     `gorm:"type:varchar(8);not null" json:"currency"`
	GiftCardID         string     `gorm:"type:varchar(64);not null;index" json:"gift_card_id"`
	GiftCardGAN        string     `gorm:"type:varchar(64)" json:"gift_card_gan"`
	SquareActivityID   string     `gorm:"type:varchar(64)" json:"square_activity_id,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (r *GiftCardReward) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
