// workers/pass_balance_worker.go
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"salon-referral-system/models"
)

// BalanceSyncer is satisfied by services.WalletService.
type BalanceSyncer interface {
	SyncBalances(ctx context.Context) (int, error)
}

// PollPassBalances refreshes registered pass balances from Square on every
// tick so devices get a push even when a gift_card webhook was missed.
func PollPassBalances(ctx context.Context, db *gorm.DB, syncer BalanceSyncer, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		log.Info("[BALANCE_SYNC] disabled")
		return
	}
	log.Info("[BALANCE_SYNC] started", zap.Duration("every", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("[BALANCE_SYNC] stopped")
			return
		case <-ticker.C:
			runBalanceSync(ctx, db, syncer, log)
		}
	}
}

func runBalanceSync(ctx context.Context, db *gorm.DB, syncer BalanceSyncer, log *zap.Logger) {
	started := time.Now()
	changed, err := syncer.SyncBalances(ctx)

	run := models.ProcessRun{
		ProcessType: models.ProcessTypeBalanceSync,
		Status:      models.ProcessStatusSucceeded,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	run.DurationMS = run.FinishedAt.Sub(started).Milliseconds()
	if err != nil {
		run.Status, run.Error = models.ProcessStatusFailed, err.Error()
		log.Error("[BALANCE_SYNC] failed", zap.Error(err))
	} else if changed > 0 {
		log.Info("[BALANCE_SYNC] balances updated", zap.Int("passes", changed))
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		log.Warn("[BALANCE_SYNC] could not record process run", zap.Error(err))
	}
}
