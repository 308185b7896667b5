package app

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"revenue-service/internal/blobstore"
	"revenue-service/internal/config"
	"revenue-service/internal/models"
	"revenue-service/internal/refund"
	"revenue-service/internal/testutil"
	"revenue-service/internal/worker"
)

type recordingQueue struct {
	tasks []*asynq.Task
}

func (q *recordingQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: task.Type()}, nil
}

func TestAssemble(t *testing.T) {
	t.Setenv("MAIL_DEFAULT_TO", "refunds@example.com")
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	db := testutil.NewDB(t)
	q := &recordingQueue{}

	a, err := Assemble(cfg, zap.NewNop(), db, blobstore.NewMemory(), q)
	require.NoError(t, err)
	assert.NoError(t, a.Close())

	assert.Equal(t, "America/New_York", a.Refunds.Settings.LocalZone.String())
	assert.Equal(t, []string{"refunds@example.com"}, a.Refunds.Settings.DefaultTo)
	assert.Same(t, a.Queue, a.Refunds.Dispatcher)
	require.NotNil(t, a.Jobs.Transactions)
	require.NotNil(t, a.Jobs.Pools)
	require.NotNil(t, a.Jobs.Gaps)

	// Notifications leave the API process as e-mail tasks.
	local := time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC)
	txn := models.Transaction{
		ExternalID:       "1-86",
		LaundryGroupID:   cfg.Ingest.LaundryGroupID,
		TransactionType:  models.TypeVend,
		BalanceAmount:    decimal.NewFromInt(10),
		CreditCardAmount: decimal.Zero,
		CashAmount:       decimal.Zero,
		LocalTime:        &local,
	}
	require.NoError(t, db.Create(&txn).Error)
	_, err = a.Refunds.Create(context.Background(), refund.CreateInput{
		TransactionID: txn.ID,
		Channel:       models.ChannelPlatformAdjust,
		Amount:        decimal.NewFromInt(5),
		CreatedBy:     "ops@example.com",
	})
	require.NoError(t, err)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, worker.TypeEmailDeliver, q.tasks[0].Type())
}

func TestRedisOpt(t *testing.T) {
	opt := RedisOpt(config.RedisConfig{Addr: "redis:6379", Password: "secret", DB: 2})
	assert.Equal(t, asynq.RedisClientOpt{Addr: "redis:6379", Password: "secret", DB: 2}, opt)
}
