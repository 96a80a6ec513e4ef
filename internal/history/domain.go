// Package history keeps one snapshot per merchant and financial year and
// compares consecutive years.
package history

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the per-year summary written at the end of every computation
// pass. Rows are overwritten, not appended.
type Snapshot struct {
	MerchantID      int64           `json:"merchant_id"`
	FinancialYearID int64           `json:"financial_year_id"`
	BrokerID        int64           `json:"broker_id"`
	SoldBags        int64           `json:"sold_bags"`
	BoughtBags      int64           `json:"bought_bags"`
	TotalBags       int64           `json:"total_bags"`
	TotalBrokerage  decimal.Decimal `json:"total_brokerage"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Delta describes the change of one figure between two years.
type Delta struct {
	Current decimal.Decimal `json:"current"`
	Prior   decimal.Decimal `json:"prior"`
	Change  decimal.Decimal `json:"change"`
	// Percent is Change relative to Prior; zero when Prior is zero.
	Percent decimal.Decimal `json:"percent"`
}

// Comparison is the year-over-year view for one merchant.
type Comparison struct {
	MerchantID           int64     `json:"merchant_id"`
	FinancialYearID      int64     `json:"financial_year_id"`
	PriorFinancialYearID *int64    `json:"prior_financial_year_id,omitempty"`
	Current              Snapshot  `json:"current"`
	Prior                *Snapshot `json:"prior,omitempty"`
	SoldBags             Delta     `json:"sold_bags"`
	BoughtBags           Delta     `json:"bought_bags"`
	TotalBags            Delta     `json:"total_bags"`
	TotalBrokerage       Delta     `json:"total_brokerage"`
}
