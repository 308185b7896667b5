// Package jobs runs the periodic pipeline steps: ingestion, user sync,
// matching, check attribution, pool processing and the settlement sweep.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"revenue-service/internal/ingest"
	"revenue-service/internal/matcher"
	"revenue-service/internal/refund"
)

const (
	TransactionSync  = "transactions:sync"
	UserSync         = "users:sync"
	Matching         = "transactions:match"
	CheckAttribution = "checks:attribute"
	SettlementSweep  = "refunds:sweep"
	PoolProcessing   = "pools:process"
)

var ErrUnknownJob = errors.New("jobs: unknown job")

type TransactionSyncer interface {
	RunAsJob(ctx context.Context, startFromID string) (*ingest.SyncResult, error)
}

type UserSyncer interface {
	RunAsJob(ctx context.Context) (*ingest.UserSyncResult, error)
}

type Matcher interface {
	MatchAll(ctx context.Context) (int64, error)
	MatchPending(ctx context.Context) (matcher.PendingResult, error)
	AttributeChecks(ctx context.Context, start, end time.Time) (int, error)
}

type Settler interface {
	SettlementSweep(ctx context.Context) (refund.SweepResult, error)
}

// PendingProcessor works through unprocessed pools or gaps.
type PendingProcessor interface {
	ProcessPending(ctx context.Context) (int, error)
}

type Runner struct {
	Transactions TransactionSyncer
	Users        UserSyncer
	Matcher      Matcher
	Refunds      Settler
	Pools        PendingProcessor
	Gaps         PendingProcessor
	Logger       *zap.Logger
}

// Run executes one job by name. startFromID only applies to the transaction
// sync.
func (r *Runner) Run(ctx context.Context, job, startFromID string) error {
	started := time.Now()
	var err error
	switch job {
	case TransactionSync:
		err = r.RunTransactionSync(ctx, startFromID)
	case UserSync:
		err = r.RunUserSync(ctx)
	case Matching:
		err = r.RunMatching(ctx)
	case CheckAttribution:
		err = r.RunCheckAttribution(ctx)
	case SettlementSweep:
		err = r.RunSettlementSweep(ctx)
	case PoolProcessing:
		err = r.RunPoolProcessing(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	if err != nil {
		r.Logger.Error("Job failed", zap.String("job", job), zap.Error(err))
		return err
	}
	r.Logger.Info("Job finished", zap.String("job", job), zap.Duration("took", time.Since(started)))
	return nil
}

func (r *Runner) RunTransactionSync(ctx context.Context, startFromID string) error {
	res, err := r.Transactions.RunAsJob(ctx, startFromID)
	if res != nil {
		r.Logger.Info("Transaction sync",
			zap.Int("saves", res.Saves),
			zap.Int("updates", res.Updates),
			zap.Int("failures", res.Failures),
			zap.Int("merges", res.Merges),
			zap.Int("gaps", len(res.Gaps)),
			zap.String("last_id", res.LastID),
		)
	}
	return err
}

func (r *Runner) RunUserSync(ctx context.Context) error {
	res, err := r.Users.RunAsJob(ctx)
	if res != nil {
		r.Logger.Info("User sync",
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated),
			zap.Int("failures", res.Failures),
			zap.Int("employees", res.Employees),
		)
	}
	return err
}

// RunMatching assigns every directly assignable transaction first, then
// searches nearest-in-time matches for the rest.
func (r *Runner) RunMatching(ctx context.Context) error {
	assigned, err := r.Matcher.MatchAll(ctx)
	if err != nil {
		return fmt.Errorf("bulk assignment: %w", err)
	}
	pending, err := r.Matcher.MatchPending(ctx)
	if err != nil {
		return fmt.Errorf("nearest-in-time matching: %w", err)
	}
	r.Logger.Info("Matching",
		zap.Int64("assigned", assigned),
		zap.Int("matched", pending.Matched),
		zap.Int("missed", pending.Missed),
	)
	return nil
}

func (r *Runner) RunCheckAttribution(ctx context.Context) error {
	n, err := r.Matcher.AttributeChecks(ctx, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	r.Logger.Info("Check attribution", zap.Int("attributed", n))
	return nil
}

func (r *Runner) RunSettlementSweep(ctx context.Context) error {
	res, err := r.Refunds.SettlementSweep(ctx)
	if err != nil {
		return err
	}
	r.Logger.Info("Settlement sweep", zap.Int("completed", res.Completed), zap.Int("failed", res.Failed))
	return nil
}

// RunPoolProcessing drains transaction pools, then gaps. A pool failure does
// not stop the gaps from being processed.
func (r *Runner) RunPoolProcessing(ctx context.Context) error {
	pools, poolErr := r.Pools.ProcessPending(ctx)
	gaps, gapErr := r.Gaps.ProcessPending(ctx)
	r.Logger.Info("Pool processing", zap.Int("pools", pools), zap.Int("gaps", gaps))
	return errors.Join(poolErr, gapErr)
}
