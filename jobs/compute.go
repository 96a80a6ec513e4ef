package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/brokerage/internal/brokerage"
	jobmetrics "github.com/odyssey-erp/brokerage/internal/jobs"
	"github.com/odyssey-erp/brokerage/internal/masterdata"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Computer runs computation passes.
type Computer interface {
	ComputeForBroker(ctx context.Context, brokerID int64) (brokerage.BatchResult, error)
	ComputeForFinancialYear(ctx context.Context, brokerID, financialYearID int64) (brokerage.BatchResult, error)
}

// CurrentYears lists the current financial year of every broker.
type CurrentYears interface {
	ListCurrentFinancialYears(ctx context.Context) ([]masterdata.FinancialYear, error)
}

// CacheEvictor invalidates a broker's cached analytics.
type CacheEvictor interface {
	EvictBroker(ctx context.Context, brokerID int64) error
}

// ComputeJob handles TaskBrokerageCompute.
type ComputeJob struct {
	Service Computer
	Years   CurrentYears
	Cache   CacheEvictor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewComputeJob constructs the job handler.
func NewComputeJob(service Computer, years CurrentYears, cache CacheEvictor, logger *slog.Logger, metrics *jobmetrics.Metrics) *ComputeJob {
	return &ComputeJob{Service: service, Years: years, Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle executes a computation pass.
func (j *ComputeJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("brokerage compute: handler not configured")
	}
	var payload ComputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("brokerage compute: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.BrokerID < 0 || payload.FinancialYearID < 0 || (payload.BrokerID == 0 && payload.FinancialYearID > 0) {
		return fmt.Errorf("brokerage compute: invalid scope %+v: %w", payload, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskBrokerageCompute)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if payload.BrokerID > 0 {
		resultErr = retryPolicy(j.computeOne(ctx, payload.BrokerID, payload.FinancialYearID))
		return resultErr
	}

	if j.Years == nil {
		resultErr = errors.New("brokerage compute: financial years not configured")
		return resultErr
	}
	years, err := j.Years.ListCurrentFinancialYears(ctx)
	if err != nil {
		resultErr = fmt.Errorf("brokerage compute: list current years: %w", err)
		return resultErr
	}
	var (
		errs      []error
		retryable bool
	)
	for _, fy := range years {
		if err := j.computeOne(ctx, fy.BrokerID, fy.ID); err != nil {
			errs = append(errs, err)
			retryable = retryable || !permanent(err)
		}
	}
	j.log().Info("computation sweep finished", slog.Int("brokers", len(years)), slog.Int("failed", len(errs)))
	resultErr = errors.Join(errs...)
	// One broker's missing scope must not stop retries for another broker's outage.
	if resultErr != nil && !retryable {
		resultErr = fmt.Errorf("%w: %w", resultErr, asynq.SkipRetry)
	}
	return resultErr
}

// permanent reports failures that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, shared.ErrPreconditionNotFound) || errors.Is(err, shared.ErrValidation)
}

func retryPolicy(err error) error {
	if err != nil && permanent(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (j *ComputeJob) computeOne(ctx context.Context, brokerID, financialYearID int64) error {
	logger := j.log().With(slog.Int64("broker_id", brokerID))

	var (
		result brokerage.BatchResult
		err    error
	)
	if financialYearID > 0 {
		result, err = j.Service.ComputeForFinancialYear(ctx, brokerID, financialYearID)
	} else {
		result, err = j.Service.ComputeForBroker(ctx, brokerID)
	}
	if err != nil {
		logger.Error("computation pass failed", slog.Any("error", err))
		return fmt.Errorf("broker %d: %w", brokerID, err)
	}

	j.Metrics.AddMerchantFailures(result.Failed)
	if j.Cache != nil {
		if err := j.Cache.EvictBroker(ctx, brokerID); err != nil {
			logger.Warn("evict analytics cache", slog.Any("error", err))
		}
	}
	return nil
}

func (j *ComputeJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBrokerageCompute))
	}
	return slog.Default().With(slog.String("job", TaskBrokerageCompute))
}
