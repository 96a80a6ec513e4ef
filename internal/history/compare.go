package history

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/brokerage/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Compare diffs current against prior. A nil prior compares against zeros.
func Compare(current Snapshot, prior *Snapshot) Comparison {
	var base Snapshot
	if prior != nil {
		base = *prior
	}
	cmp := Comparison{
		MerchantID:      current.MerchantID,
		FinancialYearID: current.FinancialYearID,
		Current:         current,
		Prior:           prior,
		SoldBags:        diff(decimal.NewFromInt(current.SoldBags), decimal.NewFromInt(base.SoldBags)),
		BoughtBags:      diff(decimal.NewFromInt(current.BoughtBags), decimal.NewFromInt(base.BoughtBags)),
		TotalBags:       diff(decimal.NewFromInt(current.TotalBags), decimal.NewFromInt(base.TotalBags)),
		TotalBrokerage:  diff(current.TotalBrokerage, base.TotalBrokerage),
	}
	if prior != nil {
		id := prior.FinancialYearID
		cmp.PriorFinancialYearID = &id
	}
	return cmp
}

func diff(current, prior decimal.Decimal) Delta {
	change := current.Sub(prior)
	return Delta{
		Current: current,
		Prior:   prior,
		Change:  change,
		Percent: shared.Round2(shared.SafeDiv(change.Mul(hundred), prior.Abs())),
	}
}
