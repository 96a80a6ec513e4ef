package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBrokerageCompute runs a computation pass for one broker or for all of them.
	TaskBrokerageCompute = "brokerage:compute"
	// TaskAnalyticsWarmup pre-fills analytics caches for every current financial year.
	TaskAnalyticsWarmup = "analytics:warmup"
)

// ComputePayload scopes a computation pass. A zero BrokerID means every broker
// with a current financial year; a zero FinancialYearID means the broker's
// current year.
type ComputePayload struct {
	BrokerID        int64 `json:"broker_id"`
	FinancialYearID int64 `json:"financial_year_id,omitempty"`
}

// WarmupPayload optionally restricts the warmup to one broker.
type WarmupPayload struct {
	BrokerID int64 `json:"broker_id,omitempty"`
}

// NewComputeTask constructs a brokerage computation task.
func NewComputeTask(payload ComputePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBrokerageCompute, data, asynq.Queue(QueueDefault)), nil
}

// NewWarmupTask constructs an analytics warmup task.
func NewWarmupTask(payload WarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAnalyticsWarmup, data, asynq.Queue(QueueDefault)), nil
}
