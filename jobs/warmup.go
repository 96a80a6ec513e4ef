package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/brokerage/internal/jobs"
)

// Warmer pre-computes the cached analytics of one financial year.
type Warmer interface {
	Warm(ctx context.Context, brokerID, financialYearID int64) error
}

// WarmupJob pre-populates analytics caches for every broker's current year.
type WarmupJob struct {
	Analytics Warmer
	Years     CurrentYears
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	// ScopeTimeout bounds each broker's warmup.
	ScopeTimeout time.Duration
}

// NewWarmupJob wires dependencies for the warmup handler.
func NewWarmupJob(analytics Warmer, years CurrentYears, logger *slog.Logger, metrics *jobmetrics.Metrics) *WarmupJob {
	return &WarmupJob{Analytics: analytics, Years: years, Logger: logger, Metrics: metrics, ScopeTimeout: 20 * time.Second}
}

// Handle processes analytics warmup tasks. A failing broker does not stop the
// others; the joined error makes asynq retry the task.
func (j *WarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Analytics == nil || j.Years == nil {
		return errors.New("analytics warmup: handler not configured")
	}
	var payload WarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("analytics warmup: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAnalyticsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log()
	years, err := j.Years.ListCurrentFinancialYears(ctx)
	if err != nil {
		logger.Error("load warmup scopes", slog.Any("error", err))
		resultErr = err
		return resultErr
	}

	start := time.Now()
	warmed := 0
	var errs []error
	for _, fy := range years {
		if payload.BrokerID > 0 && fy.BrokerID != payload.BrokerID {
			continue
		}
		if err := j.warm(ctx, fy.BrokerID, fy.ID); err != nil {
			logger.Error("warm scope", slog.Int64("broker_id", fy.BrokerID), slog.Int64("financial_year_id", fy.ID), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		warmed++
	}
	logger.Info("completed analytics warmup", slog.Int("scopes", warmed), slog.Duration("duration", time.Since(start)))
	resultErr = errors.Join(errs...)
	return resultErr
}

func (j *WarmupJob) warm(ctx context.Context, brokerID, financialYearID int64) error {
	timeout := j.ScopeTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	scopeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return j.Analytics.Warm(scopeCtx, brokerID, financialYearID)
}

func (j *WarmupJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAnalyticsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskAnalyticsWarmup))
}
