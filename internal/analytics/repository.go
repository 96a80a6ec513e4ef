package analytics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/brokerage/internal/ledger"
	"github.com/odyssey-erp/brokerage/internal/platform/db"
)

// PGRepository runs the analytics extractions against PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ReadSnapshot runs fn inside one read-only repeatable-read transaction so every
// extraction sees the same ledger state.
func (r *PGRepository) ReadSnapshot(ctx context.Context, fn func(q Queries) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return db.WithTxOptions(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(txQueries{tx: tx})
	})
}

type txQueries struct {
	tx pgx.Tx
}

// measureColumns aggregate the rows of one group. Missing quantities and unit
// prices count as zero.
const measureColumns = `COALESCE(SUM(COALESCE(t.quantity, 0)), 0)::BIGINT,
		COALESCE(SUM(COALESCE(t.quantity, 0) * COALESCE(t.unit_brokerage, 0)), 0),
		COALESCE(SUM(COALESCE(t.quantity, 0) * COALESCE(t.unit_cost, 0)), 0),
		COUNT(*)`

const monthColumns = `EXTRACT(YEAR FROM t.txn_date)::INT, EXTRACT(MONTH FROM t.txn_date)::INT`

func (q txQueries) MonthlyTotals(ctx context.Context, financialYearID int64) ([]MonthRow, error) {
	rows, err := q.tx.Query(ctx, `SELECT `+monthColumns+`, `+measureColumns+`
		FROM ledger_transactions t
		WHERE t.financial_year_id = $1
		GROUP BY 1, 2 ORDER BY 1, 2`, financialYearID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MonthRow, error) {
		var out MonthRow
		err := row.Scan(&out.Year, &out.Month, &out.Quantity, &out.Brokerage, &out.Value, &out.Count)
		return out, err
	})
}

func (q txQueries) MonthlyByProduct(ctx context.Context, financialYearID int64) ([]ProductRow, error) {
	rows, err := q.tx.Query(ctx, `SELECT `+monthColumns+`, p.id, p.name, `+measureColumns+`
		FROM ledger_transactions t
		JOIN products p ON p.id = t.product_id
		WHERE t.financial_year_id = $1
		GROUP BY 1, 2, p.id, p.name ORDER BY 1, 2, p.id`, financialYearID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProductRow)
}

func (q txQueries) MonthlyByCity(ctx context.Context, financialYearID int64) ([]CityRow, error) {
	rows, err := q.tx.Query(ctx, `SELECT `+monthColumns+`, b.city, `+measureColumns+`
		FROM ledger_transactions t
		JOIN merchants b ON b.id = t.buyer_id
		WHERE t.financial_year_id = $1
		GROUP BY 1, 2, b.city ORDER BY 1, 2, b.city`, financialYearID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CityRow, error) {
		var out CityRow
		err := row.Scan(&out.Year, &out.Month, &out.City, &out.Quantity, &out.Brokerage, &out.Value, &out.Count)
		return out, err
	})
}

func (q txQueries) MonthlyByMerchantType(ctx context.Context, financialYearID int64, role ledger.Role) ([]MerchantTypeRow, error) {
	column, err := roleColumn(role)
	if err != nil {
		return nil, err
	}
	rows, err := q.tx.Query(ctx, `SELECT `+monthColumns+`, m.user_type, `+measureColumns+`
		FROM ledger_transactions t
		JOIN merchants m ON m.id = t.`+column+`
		WHERE t.financial_year_id = $1
		GROUP BY 1, 2, m.user_type ORDER BY 1, 2, m.user_type`, financialYearID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MerchantTypeRow, error) {
		var out MerchantTypeRow
		err := row.Scan(&out.Year, &out.Month, &out.UserType, &out.Quantity, &out.Brokerage, &out.Value, &out.Count)
		return out, err
	})
}

func (q txQueries) CityProducts(ctx context.Context, financialYearID int64, month MonthKey, city string) ([]ProductRow, error) {
	rows, err := q.tx.Query(ctx, `SELECT `+monthColumns+`, p.id, p.name, `+measureColumns+`
		FROM ledger_transactions t
		JOIN products p ON p.id = t.product_id
		JOIN merchants b ON b.id = t.buyer_id
		WHERE t.financial_year_id = $1
			AND EXTRACT(YEAR FROM t.txn_date) = $2
			AND EXTRACT(MONTH FROM t.txn_date) = $3
			AND b.city = $4
		GROUP BY 1, 2, p.id, p.name ORDER BY p.id`, financialYearID, month.Year, month.Month, city)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProductRow)
}

func (q txQueries) Participants(ctx context.Context, financialYearID int64, role ledger.Role) ([]ParticipantRow, error) {
	column, err := roleColumn(role)
	if err != nil {
		return nil, err
	}
	rows, err := q.tx.Query(ctx, `SELECT m.id, m.firm_name, m.city, `+measureColumns+`
		FROM ledger_transactions t
		JOIN merchants m ON m.id = t.`+column+`
		WHERE t.financial_year_id = $1
		GROUP BY m.id, m.firm_name, m.city ORDER BY m.id`, financialYearID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ParticipantRow, error) {
		var out ParticipantRow
		err := row.Scan(&out.MerchantID, &out.FirmName, &out.City, &out.Quantity, &out.Brokerage, &out.Value, &out.Count)
		return out, err
	})
}

func scanProductRow(row pgx.CollectableRow) (ProductRow, error) {
	var out ProductRow
	err := row.Scan(&out.Year, &out.Month, &out.ProductID, &out.ProductName, &out.Quantity, &out.Brokerage, &out.Value, &out.Count)
	return out, err
}

func roleColumn(role ledger.Role) (string, error) {
	switch role {
	case ledger.RoleSeller:
		return "seller_id", nil
	case ledger.RoleBuyer:
		return "buyer_id", nil
	}
	return "", fmt.Errorf("analytics: %w", role.Validate())
}
