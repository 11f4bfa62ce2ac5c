// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartReconcileScheduler runs reconciliation every interval. A zero interval
// disables the job but still returns a running scheduler so callers can
// always Shutdown it.
func StartReconcileScheduler(ctx context.Context, reconcile *ReconcileService, interval time.Duration, log *zap.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if interval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				if _, err := reconcile.Run(ctx); err != nil {
					log.Error("[SCHEDULER] reconciliation failed", zap.Error(err))
				}
			}),
			gocron.WithName("reconciliation"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("schedule reconciliation: %w", err)
		}
		log.Info("[SCHEDULER] reconciliation scheduled", zap.Duration("every", interval))
	}

	sched.Start()
	return sched, nil
}
