package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"revenue-service/internal/notify"
)

// jobTimeout covers the settlement sweep, which may wait for midnight.
const jobTimeout = 45 * time.Minute

// Enqueuer is the part of *asynq.Client the Client uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client queues work for the worker process. It serves as the refund
// dispatcher, the asynchronous e-mail sender and the job trigger.
type Client struct {
	Queue  Enqueuer
	Logger *zap.Logger
}

func NewClient(queue Enqueuer, logger *zap.Logger) *Client {
	return &Client{Queue: queue, Logger: logger}
}

// EnqueueRefundRequest queues the settlement of an approved card reversal.
// A request that is already queued is not queued twice.
func (c *Client) EnqueueRefundRequest(ctx context.Context, requestID uint) error {
	task, err := NewRefundProcessTask(RefundProcessPayload{RequestID: requestID})
	if err != nil {
		return err
	}
	info, err := c.Queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueCritical),
		asynq.TaskID(fmt.Sprintf("refund:%d", requestID)),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.Logger.Info("Refund request already queued", zap.Uint("request_id", requestID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue refund request %d: %w", requestID, err)
	}
	c.Logger.Info("Refund request queued", zap.Uint("request_id", requestID), zap.String("task_id", info.ID))
	return nil
}

// Send queues an e-mail for delivery by the worker.
func (c *Client) Send(ctx context.Context, e notify.Email) error {
	task, err := NewEmailDeliverTask(e)
	if err != nil {
		return err
	}
	_, err = c.Queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.TaskID("email:"+uuid.NewString()),
	)
	if err != nil {
		return fmt.Errorf("enqueue e-mail %q: %w", e.Subject, err)
	}
	return nil
}

// EnqueueJob queues a pipeline job. While a run of the same job is queued or
// in progress, further triggers are dropped.
func (c *Client) EnqueueJob(ctx context.Context, job, startFromID string) error {
	task, err := NewJobRunTask(JobRunPayload{Job: job, StartFromID: startFromID})
	if err != nil {
		return err
	}
	info, err := c.Queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueLow),
		asynq.TaskID("job:"+job),
		asynq.MaxRetry(0),
		asynq.Timeout(jobTimeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.Logger.Info("Job already queued", zap.String("job", job))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job, err)
	}
	c.Logger.Info("Job queued", zap.String("job", job), zap.String("task_id", info.ID))
	return nil
}
