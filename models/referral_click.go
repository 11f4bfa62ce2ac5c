package models

import "time"

// ReferralClick is append-only; attribution-window lookups read it by code.
type ReferralClick struct {
	ID          string    `gorm:"primaryKey;type:varchar(32)" json:"id"` // snowflake, time ordered
	RefCode     string    `gorm:"type:varchar(32);index;not null" json:"ref_code"`
	RefSID      string    `gorm:"type:varchar(128);index" json:"ref_sid,omitempty"`
	IPHash      string    `gorm:"type:varchar(64)" json:"ip_hash"`
	UserAgent   string    `gorm:"type:varchar(1024)" json:"user_agent,omitempty"`
	LandingURL  string    `gorm:"type:varchar(2048)" json:"landing_url,omitempty"`
	UTMSource   string    `gorm:"type:varchar(255)" json:"utm_source,omitempty"`
	UTMMedium   string    `gorm:"type:varchar(255)" json:"utm_medium,omitempty"`
	UTMCampaign string    `gorm:"type:varchar(255)" json:"utm_campaign,omitempty"`
	FirstSeenAt time.Time `gorm:"index" json:"first_seen_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
