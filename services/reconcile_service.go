// services/reconcile_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salon-referral-system/models"
)

// ReconcileService reports referral state that breaks the customer
// invariants. It never modifies customers or rewards; operators decide.
type ReconcileService struct {
	DB        *gorm.DB
	Publisher EventPublisher
	Log       *zap.Logger
}

func NewReconcileService(db *gorm.DB, publisher EventPublisher, log *zap.Logger) *ReconcileService {
	return &ReconcileService{DB: db, Publisher: publisher, Log: log}
}

type ReconcileReport struct {
	Found  map[string]int `json:"found"`
	Raised int            `json:"raised"`
}

type reconcileCheck struct {
	kind   string
	detail string
	query  func(db *gorm.DB) ([]string, error)
}

func (s *ReconcileService) checks() []reconcileCheck {
	return []reconcileCheck{
		{
			kind:   models.AlertBonusWithoutReferralCode,
			detail: "got_signup_bonus is set but used_referral_code is empty",
			query: func(db *gorm.DB) ([]string, error) {
				var ids []string
				err := db.Model(&models.Customer{}).
					Where("got_signup_bonus = ? AND (used_referral_code IS NULL OR used_referral_code = '')", true).
					Pluck("id", &ids).Error
				return ids, err
			},
		},
		{
			kind:   models.AlertReferrerWithoutCode,
			detail: "activated_as_referrer is set but personal_code is empty",
			query: func(db *gorm.DB) ([]string, error) {
				var ids []string
				err := db.Model(&models.Customer{}).
					Where("activated_as_referrer = ? AND (personal_code IS NULL OR personal_code = '')", true).
					Pluck("id", &ids).Error
				return ids, err
			},
		},
		{
			kind:   models.AlertBonusWithoutRewardRecord,
			detail: "got_signup_bonus is set but no signup bonus reward row exists",
			query: func(db *gorm.DB) ([]string, error) {
				var ids []string
				err := db.Model(&models.Customer{}).
					Where("got_signup_bonus = ?", true).
					Where("NOT EXISTS (SELECT 1 FROM gift_card_rewards g WHERE g.customer_id = customers.id AND g.reward_type = ?)",
						models.RewardTypeFriendSignupBonus).
					Pluck("id", &ids).Error
				return ids, err
			},
		},
		{
			kind:   models.AlertRewardWithoutBonusFlag,
			detail: "a signup bonus reward row exists but got_signup_bonus is not set",
			query: func(db *gorm.DB) ([]string, error) {
				var ids []string
				err := db.Table("gift_card_rewards AS g").
					Joins("JOIN customers AS c ON c.id = g.customer_id").
					Where("g.reward_type = ? AND c.got_signup_bonus = ?", models.RewardTypeFriendSignupBonus, false).
					Distinct().Pluck("g.customer_id", &ids).Error
				return ids, err
			},
		},
	}
}

// Run executes every check and upserts one alert per (kind, customer).
// Only alerts seen for the first time are published.
func (s *ReconcileService) Run(ctx context.Context) (*ReconcileReport, error) {
	started := time.Now()
	report, err := s.run(ctx)

	run := models.ProcessRun{
		ProcessType: models.ProcessTypeReconciliation,
		Status:      models.ProcessStatusSucceeded,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	run.DurationMS = run.FinishedAt.Sub(started).Milliseconds()
	if err != nil {
		run.Status, run.Error = models.ProcessStatusFailed, err.Error()
	}
	if cerr := s.DB.WithContext(ctx).Create(&run).Error; cerr != nil {
		s.Log.Warn("[RECONCILE] could not record process run", zap.Error(cerr))
	}
	if err != nil {
		return nil, err
	}

	s.Log.Info("[RECONCILE] finished", zap.Any("found", report.Found), zap.Int("raised", report.Raised))
	return report, nil
}

func (s *ReconcileService) run(ctx context.Context) (*ReconcileReport, error) {
	db := s.DB.WithContext(ctx)
	report := &ReconcileReport{Found: map[string]int{}}

	for _, check := range s.checks() {
		ids, err := check.query(db)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", check.kind, err)
		}
		report.Found[check.kind] = len(ids)

		for _, id := range ids {
			raised, err := s.raise(ctx, check.kind, id, check.detail)
			if err != nil {
				return nil, err
			}
			if raised {
				report.Raised++
			}
		}
	}
	return report, nil
}

func (s *ReconcileService) raise(ctx context.Context, kind, customerID, detail string) (bool, error) {
	db := s.DB.WithContext(ctx)

	var existing models.ReconciliationAlert
	err := db.First(&existing, "kind = ? AND customer_id = ?", kind, customerID).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	alert := models.ReconciliationAlert{Kind: kind, CustomerID: customerID, Detail: detail}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"detail", "updated_at"}),
	}).Create(&alert)
	if res.Error != nil {
		return false, fmt.Errorf("raise alert: %w", res.Error)
	}

	s.Log.Warn("[RECONCILE] alert raised", zap.String("kind", kind), zap.String("customer", customerID))
	publishQuietly(ctx, s.Publisher, s.Log, TopicReconciliationAlert, customerID, alert)
	return true, nil
}

// ResolveAlert marks an alert as handled by an operator.
func (s *ReconcileService) ResolveAlert(ctx context.Context, id string) (*models.ReconciliationAlert, error) {
	db := s.DB.WithContext(ctx)
	var alert models.ReconciliationAlert
	err := db.First(&alert, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := db.Model(&alert).Update("resolved", true).Error; err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}
	alert.Resolved = true
	return &alert, nil
}
