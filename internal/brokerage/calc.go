package brokerage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Computation holds the derived brokerage figures for one merchant and year.
type Computation struct {
	SoldBags       int64
	BoughtBags     int64
	TotalBags      int64
	Rate           decimal.Decimal
	GrossBrokerage decimal.Decimal
	Discount       decimal.Decimal
	TDS            decimal.Decimal
	NetBrokerage   decimal.Decimal
}

// Compute derives gross, discount, tds and net brokerage from bag counts.
// Figures are exact; rounding is left to presentation.
func Compute(rate decimal.Decimal, soldBags, boughtBags int64) Computation {
	total := soldBags + boughtBags
	gross := rate.Mul(decimal.NewFromInt(total))
	discount := gross.Mul(DiscountRate)
	tds := gross.Mul(TDSRate)
	return Computation{
		SoldBags:       soldBags,
		BoughtBags:     boughtBags,
		TotalBags:      total,
		Rate:           rate,
		GrossBrokerage: gross,
		Discount:       discount,
		TDS:            tds,
		NetBrokerage:   gross.Sub(discount).Sub(tds),
	}
}

// PendingAmount is max(net - paid, 0).
func PendingAmount(net, paid decimal.Decimal) decimal.Decimal {
	return shared.MaxZero(net.Sub(paid))
}

// EvaluateStatus is the obligation transition function. It depends only on the
// paid and pending amounts, the due date and the current day.
func EvaluateStatus(paid, pending decimal.Decimal, dueDate *time.Time, today time.Time) Status {
	switch {
	case !pending.IsPositive():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartialPaid
	case dueDate != nil && civilDay(*dueDate).Before(civilDay(today)):
		return StatusOverdue
	default:
		return StatusPending
	}
}

func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func laterDay(a *time.Time, b time.Time) *time.Time {
	day := civilDay(b)
	if a != nil && !civilDay(*a).Before(day) {
		return a
	}
	return &day
}
