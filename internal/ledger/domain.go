// Package ledger is the read-only view over trade transactions recorded by brokers.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Role selects which side of a trade a merchant is looked up on.
type Role string

const (
	// RoleSeller matches transactions where the merchant sold.
	RoleSeller Role = "seller"
	// RoleBuyer matches transactions where the merchant bought.
	RoleBuyer Role = "buyer"
)

// Validate rejects unknown roles.
func (r Role) Validate() error {
	switch r {
	case RoleSeller, RoleBuyer:
		return nil
	}
	return fmt.Errorf("%w: unknown ledger role %q", shared.ErrValidation, string(r))
}

// Transaction is an immutable trade record. Optional numeric columns are nil when unset.
type Transaction struct {
	ID              int64
	FinancialYearID int64
	Date            time.Time
	SellerID        int64
	BuyerID         int64
	ProductID       int64
	Quantity        *int64
	UnitBrokerage   *decimal.Decimal
	UnitCost        *decimal.Decimal
}

// TotalBrokerage is unitBrokerage × quantity; missing parts read as zero.
func (t Transaction) TotalBrokerage() decimal.Decimal {
	return orZero(t.UnitBrokerage).Mul(decimal.NewFromInt(quantityOrZero(t.Quantity)))
}

// TotalCost is unitCost × quantity; missing parts read as zero.
func (t Transaction) TotalCost() decimal.Decimal {
	return orZero(t.UnitCost).Mul(decimal.NewFromInt(quantityOrZero(t.Quantity)))
}

// RoleEntry is one ledger row seen from a single merchant's side.
type RoleEntry struct {
	TransactionID  int64
	ProductID      int64
	Quantity       *int64
	UnitCost       *decimal.Decimal
	UnitBrokerage  *decimal.Decimal
	Date           time.Time
	CounterpartyID int64
}

// SumQuantities totals entry quantities. Entries without a quantity count as
// zero and are reported through missing so callers can log them.
func SumQuantities(entries []RoleEntry) (total int64, missing int) {
	for _, e := range entries {
		if e.Quantity == nil {
			missing++
			continue
		}
		total += *e.Quantity
	}
	return total, missing
}

func quantityOrZero(q *int64) int64 {
	if q == nil {
		return 0
	}
	return *q
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
