// Package analytics rolls ledger transactions up by month, product, city and
// merchant type and ranks the most active merchants of a financial year.
package analytics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Measures are the additive figures extracted for one group of transactions.
type Measures struct {
	Quantity  int64           `json:"quantity"`
	Brokerage decimal.Decimal `json:"brokerage"`
	Value     decimal.Decimal `json:"value"`
	Count     int64           `json:"count"`
}

// Add returns the field-wise sum of m and o.
func (m Measures) Add(o Measures) Measures {
	return Measures{
		Quantity:  m.Quantity + o.Quantity,
		Brokerage: m.Brokerage.Add(o.Brokerage),
		Value:     m.Value.Add(o.Value),
		Count:     m.Count + o.Count,
	}
}

// Totals carries additive measures plus averages derived from them. The
// averages are recomputed after every merge and never summed.
type Totals struct {
	Measures
	AveragePrice            decimal.Decimal `json:"average_price"`
	AverageBrokeragePerUnit decimal.Decimal `json:"average_brokerage_per_unit"`
}

// NewTotals derives the averages of m.
func NewTotals(m Measures) Totals {
	return Totals{
		Measures:                m,
		AveragePrice:            shared.Average(m.Value, m.Quantity),
		AverageBrokeragePerUnit: shared.Average(m.Brokerage, m.Quantity),
	}
}

// Merge adds the additive parts of t and o and recomputes the averages.
func (t Totals) Merge(o Totals) Totals {
	return NewTotals(t.Measures.Add(o.Measures))
}

// MonthKey identifies a calendar month.
type MonthKey struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
}

// Less orders months chronologically.
func (k MonthKey) Less(o MonthKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

// Typed projections returned by the storage layer.
type (
	// MonthRow groups by (year, month).
	MonthRow struct {
		MonthKey
		Measures
	}
	// ProductRow groups by (year, month, product).
	ProductRow struct {
		MonthKey
		ProductID   int64
		ProductName string
		Measures
	}
	// CityRow groups by (year, month, buyer city).
	CityRow struct {
		MonthKey
		City string
		Measures
	}
	// MerchantTypeRow groups one side of the trade by (year, month, merchant type).
	MerchantTypeRow struct {
		MonthKey
		UserType string
		Measures
	}
	// ParticipantRow totals one merchant's activity on one side of the trade.
	ParticipantRow struct {
		MerchantID int64
		FirmName   string
		City       string
		Measures
	}
)

// ProductBreakdown is one product's totals inside a month, a city or the year.
type ProductBreakdown struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Totals
}

// CityBreakdown is one buyer city's totals with its nested product breakdown.
type CityBreakdown struct {
	City     string             `json:"city"`
	Products []ProductBreakdown `json:"products"`
	Totals
}

// MerchantTypeBreakdown keeps the seller and buyer sides apart.
type MerchantTypeBreakdown struct {
	UserType string `json:"user_type"`
	Sold     Totals `json:"sold"`
	Bought   Totals `json:"bought"`
}

// MonthBucket is the breakdown for one calendar month.
type MonthBucket struct {
	Key           MonthKey                `json:"key"`
	Label         string                  `json:"label"`
	Totals        Totals                  `json:"totals"`
	Products      []ProductBreakdown      `json:"products"`
	Cities        []CityBreakdown         `json:"cities"`
	MerchantTypes []MerchantTypeBreakdown `json:"merchant_types"`
}

// YearAnalytics is the full analytics view of one financial year.
type YearAnalytics struct {
	BrokerID        int64                   `json:"broker_id"`
	FinancialYearID int64                   `json:"financial_year_id"`
	Totals          Totals                  `json:"totals"`
	Months          []MonthBucket           `json:"months"`
	Products        []ProductBreakdown      `json:"products"`
	Cities          []CityBreakdown         `json:"cities"`
	MerchantTypes   []MerchantTypeBreakdown `json:"merchant_types"`
}

// RankedMerchant is one row of a top-N list.
type RankedMerchant struct {
	Rank       int    `json:"rank"`
	MerchantID int64  `json:"merchant_id"`
	FirmName   string `json:"firm_name"`
	City       string `json:"city"`
	Totals
}

// Board names a ranking.
type Board string

const (
	BoardBuyers    Board = "buyers"
	BoardSellers   Board = "sellers"
	BoardMerchants Board = "merchants"
)

// ParseBoard validates a ranking name.
func ParseBoard(v string) (Board, error) {
	switch b := Board(v); b {
	case BoardBuyers, BoardSellers, BoardMerchants:
		return b, nil
	}
	return "", fmt.Errorf("analytics: unknown ranking %q: %w", v, shared.ErrValidation)
}

// TopLimit bounds every ranking.
const TopLimit = 5
