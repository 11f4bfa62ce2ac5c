// services/analytics_service.go
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"salon-referral-system/models"
)

// AnalyticsService backs the admin dashboard. All methods are read-only.
type AnalyticsService struct {
	DB *gorm.DB
}

func NewAnalyticsService(db *gorm.DB) *AnalyticsService {
	return &AnalyticsService{DB: db}
}

// Page is a 1-based page request. Normalize clamps Limit to 1..100.
type Page struct {
	Page  int
	Limit int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

type ReferrerSummary struct {
	CustomerID    string    `json:"customerId"`
	GivenName     string    `json:"givenName"`
	FamilyName    string    `json:"familyName"`
	Email         string    `json:"email"`
	PersonalCode  string    `json:"personalCode"`
	ReferralURL   string    `json:"referralUrl"`
	ReferredCount int64     `json:"referredCount"`
	Conversions   int64     `json:"conversions"`
	RewardsCents  int64     `json:"rewardsCents"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Referrers lists customers holding a personal code. sort is "recent"
// (default) or "rewards".
func (s *AnalyticsService) Referrers(ctx context.Context, page Page, sort string) ([]ReferrerSummary, int64, error) {
	page = page.Normalize()
	db := s.DB.WithContext(ctx)

	var total int64
	if err := db.Model(&models.Customer{}).Where("personal_code IS NOT NULL").Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "c.created_at DESC"
	if sort == "rewards" {
		order = "rewards_cents DESC, c.created_at DESC"
	}

	var rows []ReferrerSummary
	err := db.Table("customers AS c").
		Select(`c.id AS customer_id, c.given_name, c.family_name, c.email, c.personal_code, c.referral_url, c.created_at,
			(SELECT COUNT(*) FROM customers r WHERE r.used_referral_code = c.personal_code) AS referred_count,
			(SELECT COUNT(*) FROM customers r WHERE r.used_referral_code = c.personal_code AND r.first_payment_completed = ?) AS conversions,
			(SELECT COALESCE(SUM(g.amount_cents), 0) FROM gift_card_rewards g WHERE g.customer_id = c.id AND g.reward_type = ?) AS rewards_cents`,
			true, models.RewardTypeReferrerReward).
		Where("c.personal_code IS NOT NULL").
		Order(order).
		Limit(page.Limit).Offset(page.Offset()).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

type ReferralDetail struct {
	Customer models.Customer         `json:"customer"`
	Referrer *models.Customer        `json:"referrer,omitempty"`
	Referred []models.Customer       `json:"referred"`
	Rewards  []models.GiftCardReward `json:"rewards"`
}

func (s *AnalyticsService) ReferralDetail(ctx context.Context, customerID string) (*ReferralDetail, error) {
	db := s.DB.WithContext(ctx)
	var d ReferralDetail
	err := db.First(&d.Customer, "id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if code := d.Customer.Code(); code != "" {
		if err := db.Where("used_referral_code = ?", code).Order("created_at DESC").Find(&d.Referred).Error; err != nil {
			return nil, err
		}
	}
	if used := d.Customer.UsedReferralCode; used != "" {
		var referrer models.Customer
		if err := whereCode(db, used).First(&referrer).Error; err == nil {
			d.Referrer = &referrer
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if err := db.Where("customer_id = ? OR referred_customer_id = ?", customerID, customerID).
		Order("created_at DESC").Find(&d.Rewards).Error; err != nil {
		return nil, err
	}
	if d.Referred == nil {
		d.Referred = []models.Customer{}
	}
	return &d, nil
}

type ProcessRunFilter struct {
	Status      string
	ProcessType string
}

func (s *AnalyticsService) ProcessRuns(ctx context.Context, page Page, f ProcessRunFilter) ([]models.ProcessRun, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.ProcessRun{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ProcessType != "" {
		q = q.Where("process_type = ?", f.ProcessType)
	}
	var rows []models.ProcessRun
	total, err := paginate(q, page, "started_at DESC", &rows)
	return rows, total, err
}

func (s *AnalyticsService) Registrations(ctx context.Context, page Page) ([]models.DeviceRegistration, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.DeviceRegistration{})
	var rows []models.DeviceRegistration
	total, err := paginate(q, page, "created_at DESC", &rows)
	return rows, total, err
}

func (s *AnalyticsService) Clicks(ctx context.Context, page Page, refCode string) ([]models.ReferralClick, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.ReferralClick{})
	if code := NormalizeCode(refCode); code != "" {
		q = q.Where("ref_code = ?", code)
	}
	var rows []models.ReferralClick
	total, err := paginate(q, page, "created_at DESC", &rows)
	return rows, total, err
}

// Alerts filters on resolved when it is non-nil.
func (s *AnalyticsService) Alerts(ctx context.Context, page Page, resolved *bool) ([]models.ReconciliationAlert, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.ReconciliationAlert{})
	if resolved != nil {
		q = q.Where("resolved = ?", *resolved)
	}
	var rows []models.ReconciliationAlert
	total, err := paginate(q, page, "created_at DESC", &rows)
	return rows, total, err
}

type Stats struct {
	Clicks              int64            `json:"clicks"`
	Customers           int64            `json:"customers"`
	CustomersWithCodes  int64            `json:"customersWithCodes"`
	ReferredCustomers   int64            `json:"referredCustomers"`
	Conversions         int64            `json:"conversions"`
	RewardsByType       map[string]int64 `json:"rewardsByType"`
	AmountIssuedCents   int64            `json:"amountIssuedCents"`
	OpenAlerts          int64            `json:"openAlerts"`
	RegisteredPassCount int64            `json:"registeredPasses"`
}

func (s *AnalyticsService) Stats(ctx context.Context) (*Stats, error) {
	db := s.DB.WithContext(ctx)
	st := &Stats{RewardsByType: map[string]int64{}}

	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&st.Clicks, db.Model(&models.ReferralClick{})},
		{&st.Customers, db.Model(&models.Customer{})},
		{&st.CustomersWithCodes, db.Model(&models.Customer{}).Where("personal_code IS NOT NULL")},
		{&st.ReferredCustomers, db.Model(&models.Customer{}).Where("used_referral_code <> ''")},
		{&st.Conversions, db.Model(&models.Customer{}).Where("used_referral_code <> '' AND first_payment_completed = ?", true)},
		{&st.OpenAlerts, db.Model(&models.ReconciliationAlert{}).Where("resolved = ?", false)},
		{&st.RegisteredPassCount, db.Model(&models.DeviceRegistration{}).Distinct("serial_number")},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return nil, err
		}
	}

	var byType []struct {
		RewardType string
		Count      int64
		Cents      int64
	}
	if err := db.Model(&models.GiftCardReward{}).
		Select("reward_type, COUNT(*) AS count, COALESCE(SUM(amount_cents), 0) AS cents").
		Group("reward_type").Scan(&byType).Error; err != nil {
		return nil, err
	}
	for _, row := range byType {
		st.RewardsByType[row.RewardType] = row.Count
		st.AmountIssuedCents += row.Cents
	}
	return st, nil
}

func paginate(q *gorm.DB, page Page, order string, dst any) (int64, error) {
	page = page.Normalize()
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return 0, err
	}
	if err := q.Order(order).Limit(page.Limit).Offset(page.Offset()).Find(dst).Error; err != nil {
		return 0, err
	}
	return total, nil
}
