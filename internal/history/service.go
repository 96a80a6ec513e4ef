package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/brokerage/internal/masterdata"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Store reads snapshots.
type Store interface {
	Get(ctx context.Context, merchantID, financialYearID int64) (Snapshot, error)
	ListByFinancialYear(ctx context.Context, financialYearID int64) ([]Snapshot, error)
}

// MerchantLookup resolves merchants.
type MerchantLookup interface {
	LookupMerchant(ctx context.Context, merchantID int64) (masterdata.Merchant, error)
}

// YearLocator finds a financial year and the one preceding it.
type YearLocator interface {
	GetFinancialYear(ctx context.Context, id int64) (masterdata.FinancialYear, error)
	PriorFinancialYear(ctx context.Context, fy masterdata.FinancialYear) (masterdata.FinancialYear, error)
}

// Service answers year-over-year questions from snapshots.
type Service struct {
	store     Store
	years     YearLocator
	merchants MerchantLookup
}

// NewService builds a Service.
func NewService(store Store, years YearLocator, merchants MerchantLookup) *Service {
	return &Service{store: store, years: years, merchants: merchants}
}

// ListSnapshots returns every snapshot of a broker's financial year ordered by merchant.
func (s *Service) ListSnapshots(ctx context.Context, brokerID, financialYearID int64) ([]Snapshot, error) {
	fy, err := s.years.GetFinancialYear(ctx, financialYearID)
	if err != nil {
		return nil, err
	}
	if fy.BrokerID != brokerID {
		return nil, fmt.Errorf("history: financial year %d of broker %d: %w", financialYearID, brokerID, shared.ErrNotFound)
	}
	snaps, err := s.store.ListByFinancialYear(ctx, fy.ID)
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []Snapshot{}
	}
	return snaps, nil
}

// CompareWithPriorYear compares a merchant's snapshot for financialYearID with the
// broker's preceding year. A missing prior year or prior snapshot compares against zeros.
// Unknown merchants and years of another broker are not found.
func (s *Service) CompareWithPriorYear(ctx context.Context, merchantID, financialYearID int64) (Comparison, error) {
	merchant, err := s.merchants.LookupMerchant(ctx, merchantID)
	if err != nil {
		return Comparison{}, err
	}
	fy, err := s.years.GetFinancialYear(ctx, financialYearID)
	if err != nil {
		return Comparison{}, err
	}
	if fy.BrokerID != merchant.BrokerID {
		return Comparison{}, fmt.Errorf("history: financial year %d of merchant %d: %w", financialYearID, merchantID, shared.ErrNotFound)
	}
	current, err := s.store.Get(ctx, merchantID, fy.ID)
	if err != nil {
		return Comparison{}, err
	}

	priorFY, err := s.years.PriorFinancialYear(ctx, fy)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return Compare(current, nil), nil
	case err != nil:
		return Comparison{}, err
	}
	prior, err := s.store.Get(ctx, merchantID, priorFY.ID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		cmp := Compare(current, nil)
		cmp.PriorFinancialYearID = &priorFY.ID
		return cmp, nil
	case err != nil:
		return Comparison{}, err
	}
	return Compare(current, &prior), nil
}
