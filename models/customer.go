package models

import "strings"

// Customer is the local copy of a Square customer plus its referral state.
// The primary key is the Square customer id.
type Customer struct {
	ID         string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MerchantID string `gorm:"type:varchar(64);index" json:"merchant_id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `gorm:"index" json:"email"`
	Phone      string `json:"phone"`

	// Referral identity
	PersonalCode        *string `gorm:"type:varchar(32);uniqueIndex" json:"personal_code,omitempty"` // own code, set on first qualifying payment
	UsedReferralCode    string  `gorm:"type:varchar(32);index" json:"used_referral_code,omitempty"`  // code entered by this customer, normalized
	ReferralURL         string  `json:"referral_url,omitempty"`
	ActivatedAsReferrer bool    `gorm:"default:false" json:"activated_as_referrer"`
	ReferralEmailSent   bool    `gorm:"default:false" json:"referral_email_sent"`

	// Payment + reward state
	FirstPaymentCompleted bool   `gorm:"default:false" json:"first_payment_completed"`
	FirstPaymentID        string `gorm:"type:varchar(64)" json:"first_payment_id,omitempty"`
	GotSignupBonus        bool   `gorm:"default:false" json:"got_signup_bonus"`
	GiftCardID            string `gorm:"type:varchar(64);index" json:"gift_card_id,omitempty"`
	GiftCardGAN           string `gorm:"type:varchar(64)" json:"gift_card_gan,omitempty"`

	Timestamps
}

// DisplayName falls back to the email when Square has no name on file.
func (c Customer) DisplayName() string {
	name := strings.TrimSpace(c.GivenName + " " + c.FamilyName)
	if name == "" {
		return c.Email
	}
	return name
}

// Code returns the personal code or "" when none has been generated yet.
func (c Customer) Code() string {
	if c.PersonalCode == nil {
		return ""
	}
	return *c.PersonalCode
}
