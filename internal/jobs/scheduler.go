package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"revenue-service/internal/config"
)

// Trigger starts a job, usually by queueing it for the worker.
type Trigger interface {
	EnqueueJob(ctx context.Context, job, startFromID string) error
}

// Schedule pairs each job with its cron spec.
func Schedule(cfg config.ScheduleConfig) map[string]string {
	return map[string]string{
		TransactionSync:  cfg.TransactionSync,
		UserSync:         cfg.UserSync,
		Matching:         cfg.Matching,
		CheckAttribution: cfg.CheckAttribution,
		SettlementSweep:  cfg.SettlementSweep,
		PoolProcessing:   cfg.PoolProcessing,
	}
}

// StartScheduler registers every job with a non-empty spec. Specs are read in
// loc, so the settlement sweep fires shortly before local midnight.
func StartScheduler(cfg config.ScheduleConfig, loc *time.Location, trigger Trigger, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(loc))
	for job, spec := range Schedule(cfg) {
		if spec == "" {
			continue
		}
		job := job
		_, err := c.AddFunc(spec, func() {
			logger.Info("Running scheduled job", zap.String("job", job))
			if err := trigger.EnqueueJob(context.Background(), job, ""); err != nil {
				logger.Error("Error scheduling job", zap.String("job", job), zap.Error(err))
			}
		})
		if err != nil {
			logger.Error("Error scheduling job", zap.String("job", job), zap.String("spec", spec), zap.Error(err))
			return nil, err
		}
	}
	c.Start()
	logger.Info("Scheduler started", zap.String("location", loc.String()), zap.Int("jobs", len(c.Entries())))
	return c, nil
}
