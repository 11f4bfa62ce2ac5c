package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProcessStatus string

const (
	ProcessStatusSucceeded ProcessStatus = "succeeded"
	ProcessStatusFailed    ProcessStatus = "failed"
	ProcessStatusIgnored   ProcessStatus = "ignored"
	ProcessStatusDuplicate ProcessStatus = "duplicate"
)

// Non-webhook process types. Webhook runs use the event type string.
const (
	ProcessTypeReconciliation = "reconciliation"
	ProcessTypeBalanceSync    = "balance_sync"
	ProcessTypeCustomerSync   = "customer_sync"
)

// ProcessRun records one webhook delivery or background job execution.
type ProcessRun struct {
	ID          string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ProcessType string        `gorm:"type:varchar(64);index;not null" json:"process_type"`
	Status      ProcessStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	ReferenceID string        `gorm:"type:varchar(128);index" json:"reference_id,omitempty"` // event id, customer id, ...
	Error       string        `gorm:"type:text" json:"error,omitempty"`
	StartedAt   time.Time     `gorm:"index" json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	DurationMS  int64         `json:"duration_ms"`
}

func (p *ProcessRun) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// WebhookEvent dedupes deliveries by Square event id when Redis is absent.
type WebhookEvent struct {
	EventID    string         `gorm:"primaryKey;type:varchar(128)" json:"event_id"`
	EventType  string         `gorm:"type:varchar(64);index" json:"event_type"`
	MerchantID string         `gorm:"type:varchar(64)" json:"merchant_id"`
	Payload    datatypes.JSON `json:"payload"`
	ReceivedAt time.Time      `gorm:"autoCreateTime" json:"received_at"`
}

// Alert kinds raised by reconciliation. They are reported, never auto-fixed.
const (
	AlertBonusWithoutReferralCode = "signup_bonus_without_referral_code"
	AlertReferrerWithoutCode      = "referrer_without_personal_code"
	AlertBonusWithoutRewardRecord = "signup_bonus_without_reward_record"
	AlertRewardWithoutBonusFlag   = "reward_record_without_bonus_flag"
)

type ReconciliationAlert struct {
	ID         string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Kind       string `gorm:"type:varchar(64);not null;uniqueIndex:ux_alert_kind_customer,priority:1" json:"kind"`
	CustomerID string `gorm:"type:varchar(64);not null;uniqueIndex:ux_alert_kind_customer,priority:2" json:"customer_id"`
	Detail     string `gorm:"type:text" json:"detail"`
	Resolved   bool   `gorm:"default:false;index" json:"resolved"`
	Timestamps
}

func (a *ReconciliationAlert) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
