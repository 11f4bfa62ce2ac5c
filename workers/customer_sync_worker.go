// workers/customer_sync_worker.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"salon-referral-system/models"
	"salon-referral-system/services"
)

// CustomerSyncWorker pulls recently updated Square customers. Known customers
// get their profile refreshed; unknown ones go through the customer-created
// path so a lost webhook still records the referral code they used.
type CustomerSyncWorker struct {
	db        *gorm.DB
	square    services.SquareGateway
	referrals *services.ReferralService
	interval  time.Duration
	log       *zap.Logger
}

func NewCustomerSyncWorker(db *gorm.DB, square services.SquareGateway, referrals *services.ReferralService,
	interval time.Duration, log *zap.Logger) *CustomerSyncWorker {
	return &CustomerSyncWorker{
		db:        db,
		square:    square,
		referrals: referrals,
		interval:  interval,
		log:       log,
	}
}

func (w *CustomerSyncWorker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info("[CUSTOMER_SYNC] disabled")
		return
	}
	w.log.Info("[CUSTOMER_SYNC] started", zap.Duration("every", w.interval))
	go w.run(ctx)
}

func (w *CustomerSyncWorker) run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			w.log.Info("[CUSTOMER_SYNC] stopped")
			return
		}
	}
}

// RunOnce syncs everything updated since the last successful run and records
// the outcome as a process run.
func (w *CustomerSyncWorker) RunOnce(ctx context.Context) {
	started := time.Now()
	since := w.lastSyncTime(ctx)
	count, err := w.syncSince(ctx, since)

	run := models.ProcessRun{
		ProcessType: models.ProcessTypeCustomerSync,
		Status:      models.ProcessStatusSucceeded,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	run.DurationMS = run.FinishedAt.Sub(started).Milliseconds()
	if err != nil {
		run.Status, run.Error = models.ProcessStatusFailed, err.Error()
		w.log.Error("[CUSTOMER_SYNC] failed", zap.Time("since", since), zap.Error(err))
	} else {
		w.log.Info("[CUSTOMER_SYNC] done", zap.Time("since", since), zap.Int("customers", count))
	}
	if err := w.db.WithContext(ctx).Create(&run).Error; err != nil {
		w.log.Warn("[CUSTOMER_SYNC] could not record process run", zap.Error(err))
	}
}

// lastSyncTime is the start of the last successful run, or the epoch.
func (w *CustomerSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var last models.ProcessRun
	err := w.db.WithContext(ctx).
		Where("process_type = ? AND status = ?", models.ProcessTypeCustomerSync, models.ProcessStatusSucceeded).
		Order("started_at DESC").First(&last).Error
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return last.StartedAt
}

func (w *CustomerSyncWorker) syncSince(ctx context.Context, since time.Time) (int, error) {
	count := 0
	cursor := ""
	for {
		customers, next, err := w.square.SearchCustomersUpdatedSince(ctx, since, cursor)
		if err != nil {
			return count, fmt.Errorf("search customers: %w", err)
		}
		for _, sc := range customers {
			if err := w.syncOne(ctx, sc); err != nil {
				return count, err
			}
			count++
		}
		if next == "" {
			return count, nil
		}
		cursor = next
	}
}

func (w *CustomerSyncWorker) syncOne(ctx context.Context, sc services.SquareCustomer) error {
	var existing models.Customer
	err := w.db.WithContext(ctx).Select("id").First(&existing, "id = ?", sc.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return w.referrals.HandleCustomerCreated(ctx, "", sc)
	}
	if err != nil {
		return err
	}
	return w.referrals.UpsertCustomerProfile(ctx, "", sc)
}
