package ledger

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads ledger transactions. It never writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const (
	findAsSeller = `SELECT id, product_id, quantity, unit_cost, unit_brokerage, txn_date, buyer_id
		FROM ledger_transactions
		WHERE seller_id = $1 AND financial_year_id = $2
		ORDER BY txn_date, id`
	findAsBuyer = `SELECT id, product_id, quantity, unit_cost, unit_brokerage, txn_date, seller_id
		FROM ledger_transactions
		WHERE buyer_id = $1 AND financial_year_id = $2
		ORDER BY txn_date, id`
)

// FindByRole returns the merchant's transactions on one side of the trade for a financial year.
func (r *Repository) FindByRole(ctx context.Context, merchantID int64, role Role, financialYearID int64) ([]RoleEntry, error) {
	if err := role.Validate(); err != nil {
		return nil, err
	}
	query := findAsSeller
	if role == RoleBuyer {
		query = findAsBuyer
	}
	rows, err := r.pool.Query(ctx, query, merchantID, financialYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RoleEntry
	for rows.Next() {
		var e RoleEntry
		var unitCost, unitBrokerage decimal.NullDecimal
		if err := rows.Scan(&e.TransactionID, &e.ProductID, &e.Quantity, &unitCost, &unitBrokerage, &e.Date, &e.CounterpartyID); err != nil {
			return nil, err
		}
		e.UnitCost = nullable(unitCost)
		e.UnitBrokerage = nullable(unitBrokerage)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
