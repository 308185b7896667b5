package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"revenue-service/internal/notify"
)

// Task Types
const (
	TypeRefundProcess = "refund:process"
	TypeEmailDeliver  = "notify:email"
	TypeJobRun        = "job:run"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type RefundProcessPayload struct {
	RequestID uint `json:"request_id"`
}

type JobRunPayload struct {
	Job         string `json:"job"`
	StartFromID string `json:"start_from_id,omitempty"`
}

// Task Creators

func NewRefundProcessTask(payload RefundProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRefundProcess, data), nil
}

func NewEmailDeliverTask(payload notify.Email) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailDeliver, data), nil
}

func NewJobRunTask(payload JobRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeJobRun, data), nil
}
