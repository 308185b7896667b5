package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"revenue-service/internal/jobs"
	"revenue-service/internal/notify"
	"revenue-service/internal/refund"
)

type RefundCompleter interface {
	Complete(ctx context.Context, id uint) (*refund.Outcome, error)
}

type JobRunner interface {
	Run(ctx context.Context, job, startFromID string) error
}

type Worker struct {
	Refunds RefundCompleter
	Mailer  notify.Sender
	Jobs    JobRunner
	Logger  *zap.Logger
}

func NewWorker(refunds RefundCompleter, mailer notify.Sender, runner JobRunner, logger *zap.Logger) *Worker {
	return &Worker{
		Refunds: refunds,
		Mailer:  mailer,
		Jobs:    runner,
		Logger:  logger,
	}
}

// permanent reports settlement failures that a retry cannot fix; they need a
// human and have already been e-mailed.
func permanent(err error) bool {
	var exceeded *refund.TotalBalanceExceededError
	var changed *refund.BalanceChangedError
	return errors.Is(err, refund.ErrCaptureNotFound) ||
		errors.Is(err, refund.ErrReversalDeclined) ||
		errors.Is(err, refund.ErrNothingToReverse) ||
		errors.Is(err, refund.ErrNotApproved) ||
		errors.Is(err, refund.ErrNoPlatformUser) ||
		errors.As(err, &exceeded) ||
		errors.As(err, &changed)
}

func (w *Worker) HandleRefundProcess(ctx context.Context, t *asynq.Task) error {
	var p RefundProcessPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	out, err := w.Refunds.Complete(ctx, p.RequestID)
	if err != nil {
		w.Logger.Error("Failed refunding refund request", zap.Uint("request_id", p.RequestID), zap.Error(err))
		if permanent(err) {
			return fmt.Errorf("refund request %d: %v: %w", p.RequestID, err, asynq.SkipRetry)
		}
		return err
	}
	w.Logger.Info("Refund request processed",
		zap.Uint("request_id", p.RequestID),
		zap.Uint("refund_id", out.Refund.ID),
		zap.Bool("completed", out.Refund.Completed),
	)
	return nil
}

func (w *Worker) HandleEmailDeliver(ctx context.Context, t *asynq.Task) error {
	var p notify.Email
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Mailer.Send(ctx, p)
}

func (w *Worker) HandleJobRun(ctx context.Context, t *asynq.Task) error {
	var p JobRunPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	err := w.Jobs.Run(ctx, p.Job, p.StartFromID)
	if errors.Is(err, jobs.ErrUnknownJob) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRefundProcess, w.HandleRefundProcess)
	mux.HandleFunc(TypeEmailDeliver, w.HandleEmailDeliver)
	mux.HandleFunc(TypeJobRun, w.HandleJobRun)
	return mux
}

func StartWorker(redisOpt asynq.RedisClientOpt, worker *Worker) error {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			// Specify how many concurrent workers to use
			Concurrency: 10,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			Logger: worker.Logger.Sugar(),
		},
	)

	if err := srv.Run(worker.Mux()); err != nil {
		return fmt.Errorf("could not run server: %w", err)
	}
	return nil
}
