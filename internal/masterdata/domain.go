package masterdata

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Merchant is a trading counterparty registered under a broker.
type Merchant struct {
	ID       int64  `json:"id"`
	BrokerID int64  `json:"broker_id"`
	FirmName string `json:"firm_name"`
	// BrokerageRate is nil when the merchant record carries no rate.
	BrokerageRate *decimal.Decimal `json:"brokerage_rate,omitempty"`
	City          string           `json:"city"`
	UserType      string           `json:"user_type"`
}

// Rate returns the brokerage rate per bag and whether one was configured.
// A missing rate reads as zero.
func (m Merchant) Rate() (decimal.Decimal, bool) {
	if m.BrokerageRate == nil {
		return decimal.Zero, false
	}
	return *m.BrokerageRate, true
}

// FinancialYear is a broker-defined accounting period.
type FinancialYear struct {
	ID        int64     `json:"id"`
	BrokerID  int64     `json:"broker_id"`
	Label     string    `json:"label"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsCurrent bool      `json:"is_current"`
}

var (
	// ErrMerchantNotFound indicates an unknown merchant id.
	ErrMerchantNotFound = errors.New("masterdata: merchant not found")
	// ErrFinancialYearNotFound indicates an unknown financial year id.
	ErrFinancialYearNotFound = errors.New("masterdata: financial year not found")
	// ErrNoCurrentFinancialYear indicates a broker without a current financial year.
	ErrNoCurrentFinancialYear = errors.New("masterdata: no current financial year")
)
