package brokerage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/brokerage/internal/history"
	"github.com/odyssey-erp/brokerage/internal/ledger"
	"github.com/odyssey-erp/brokerage/internal/masterdata"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Outcome values reported per merchant in a batch.
const (
	OutcomeComputed  = "computed"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// MerchantOutcome reports what a computation pass did for one merchant.
type MerchantOutcome struct {
	MerchantID   int64  `json:"merchant_id"`
	ObligationID int64  `json:"obligation_id,omitempty"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
}

// BatchResult summarises a computation pass. Failed merchants do not roll back
// merchants that were already committed.
type BatchResult struct {
	BrokerID        int64             `json:"broker_id"`
	FinancialYearID int64             `json:"financial_year_id"`
	Computed        int               `json:"computed"`
	Unchanged       int               `json:"unchanged"`
	Failed          int               `json:"failed"`
	Merchants       []MerchantOutcome `json:"merchants"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
}

// HasFailures reports whether any merchant failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// ComputeForBroker recomputes every merchant of the broker for its current
// financial year. An unresolved current year aborts before anything is written.
func (s *Service) ComputeForBroker(ctx context.Context, brokerID int64) (BatchResult, error) {
	if brokerID <= 0 {
		return BatchResult{}, validationError("broker id required")
	}
	fy, err := s.years.CurrentFinancialYear(ctx, brokerID)
	if err != nil {
		return BatchResult{}, err
	}
	return s.computeYear(ctx, brokerID, fy)
}

// ComputeForFinancialYear recomputes every merchant of the broker for an explicit year.
func (s *Service) ComputeForFinancialYear(ctx context.Context, brokerID, financialYearID int64) (BatchResult, error) {
	if brokerID <= 0 || financialYearID <= 0 {
		return BatchResult{}, validationError("broker and financial year required")
	}
	fy, err := s.years.GetFinancialYear(ctx, financialYearID)
	if err != nil {
		return BatchResult{}, err
	}
	if fy.BrokerID != brokerID {
		return BatchResult{}, ErrFinancialYearMismatch
	}
	return s.computeYear(ctx, brokerID, fy)
}

func (s *Service) computeYear(ctx context.Context, brokerID int64, fy masterdata.FinancialYear) (BatchResult, error) {
	release, err := s.lock(ctx, shared.ComputeLockKey(brokerID), s.cfg.ComputeLock)
	if err != nil {
		return BatchResult{}, err
	}
	defer s.unlock(release, brokerID)

	merchants, err := s.merchants.ListMerchantsByBroker(ctx, brokerID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("brokerage: list merchants: %w", err)
	}

	logger := s.logger.With(slog.Int64("broker_id", brokerID), slog.Int64("financial_year_id", fy.ID))
	result := BatchResult{
		BrokerID:        brokerID,
		FinancialYearID: fy.ID,
		Merchants:       make([]MerchantOutcome, 0, len(merchants)),
		StartedAt:       s.now(),
	}
	for _, merchant := range merchants {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome := s.computeMerchant(ctx, logger, merchant, fy)
		switch outcome.Outcome {
		case OutcomeComputed:
			result.Computed++
		case OutcomeUnchanged:
			result.Unchanged++
		default:
			result.Failed++
			logger.Error("merchant computation failed", slog.Int64("merchant_id", merchant.ID), slog.String("error", outcome.Error))
		}
		result.Merchants = append(result.Merchants, outcome)
	}
	result.FinishedAt = s.now()
	logger.Info("computation pass finished",
		slog.Int("computed", result.Computed),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (s *Service) computeMerchant(ctx context.Context, logger *slog.Logger, merchant masterdata.Merchant, fy masterdata.FinancialYear) MerchantOutcome {
	outcome := MerchantOutcome{MerchantID: merchant.ID}
	fail := func(err error) MerchantOutcome {
		outcome.Outcome = OutcomeFailed
		outcome.Error = err.Error()
		return outcome
	}
	logger = logger.With(slog.Int64("merchant_id", merchant.ID))

	rate, ok := merchant.Rate()
	if !ok {
		logger.Warn("missing brokerage rate, using zero", slog.String("field", "brokerage_rate"))
	}
	sold, err := s.sumRole(ctx, logger, merchant.ID, ledger.RoleSeller, fy.ID)
	if err != nil {
		return fail(err)
	}
	bought, err := s.sumRole(ctx, logger, merchant.ID, ledger.RoleBuyer, fy.ID)
	if err != nil {
		return fail(err)
	}
	computation := Compute(rate, sold, bought)

	var ob Obligation
	for attempt := 0; ; attempt++ {
		ob, outcome.Outcome, err = s.saveComputation(ctx, logger, merchant, fy, computation)
		if err == nil {
			break
		}
		if !isRetryable(err) || attempt+1 >= s.cfg.MaxWriteRetries {
			return fail(err)
		}
	}
	outcome.ObligationID = ob.ID

	// The snapshot is written even for unchanged obligations so a pass repairs
	// a snapshot lost by an earlier failure.
	if s.snapshots != nil {
		snap := history.Snapshot{
			MerchantID:      merchant.ID,
			FinancialYearID: fy.ID,
			BrokerID:        fy.BrokerID,
			SoldBags:        ob.SoldBags,
			BoughtBags:      ob.BoughtBags,
			TotalBags:       ob.TotalBags,
			TotalBrokerage:  ob.NetBrokerage,
		}
		if err := s.snapshots.Upsert(ctx, snap); err != nil {
			return fail(fmt.Errorf("brokerage: upsert snapshot: %w", err))
		}
	}
	return outcome
}

func (s *Service) saveComputation(ctx context.Context, logger *slog.Logger, merchant masterdata.Merchant, fy masterdata.FinancialYear, c Computation) (Obligation, string, error) {
	now := s.now()
	ob, err := s.repo.FindObligation(ctx, merchant.ID, fy.BrokerID, fy.ID)
	exists := err == nil
	switch {
	case errors.Is(err, shared.ErrNotFound):
		due := civilDay(fy.EndDate)
		ob = NewObligation(merchant.ID, fy.BrokerID, fy.ID, &due)
	case err != nil:
		return Obligation{}, "", err
	}

	changed, cleared := ob.ApplyComputation(c, s.cfg.OverridePolicy, now)
	if cleared {
		logger.Warn("manual override cleared by recomputation", slog.Int64("obligation_id", ob.ID))
	} else if !ob.Basis.Derived() {
		logger.Info("manual override preserved", slog.Int64("obligation_id", ob.ID), slog.String("reason", ob.Basis.Reason))
	}
	if exists && !changed {
		return ob, OutcomeUnchanged, nil
	}
	if err := s.repo.SaveComputed(ctx, &ob); err != nil {
		return Obligation{}, "", err
	}
	return ob, OutcomeComputed, nil
}

func (s *Service) sumRole(ctx context.Context, logger *slog.Logger, merchantID int64, role ledger.Role, financialYearID int64) (int64, error) {
	entries, err := s.ledger.FindByRole(ctx, merchantID, role, financialYearID)
	if err != nil {
		return 0, fmt.Errorf("brokerage: ledger %s rows: %w", role, err)
	}
	total, missing := ledger.SumQuantities(entries)
	if missing > 0 {
		logger.Warn("ledger rows without quantity counted as zero",
			slog.String("field", "quantity"),
			slog.String("role", string(role)),
			slog.Int("rows", missing))
	}
	return total, nil
}
