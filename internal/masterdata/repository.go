package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Repository reads merchants and financial years from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const merchantColumns = `id, broker_id, firm_name, brokerage_rate, city, user_type`

// LookupMerchant returns a merchant by id.
func (r *Repository) LookupMerchant(ctx context.Context, merchantID int64) (Merchant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, merchantID)
	m, err := scanMerchant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Merchant{}, fmt.Errorf("%w: %w (id=%d)", shared.ErrNotFound, ErrMerchantNotFound, merchantID)
	}
	return m, err
}

// ListMerchantsByBroker returns every merchant under a broker ordered by id.
func (r *Repository) ListMerchantsByBroker(ctx context.Context, brokerID int64) ([]Merchant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE broker_id = $1 ORDER BY id`, brokerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var merchants []Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		merchants = append(merchants, m)
	}
	return merchants, rows.Err()
}

const fyColumns = `id, broker_id, label, start_date, end_date, is_current`

// CurrentFinancialYear resolves the broker's current financial year.
func (r *Repository) CurrentFinancialYear(ctx context.Context, brokerID int64) (FinancialYear, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fyColumns+` FROM financial_years WHERE broker_id = $1 AND is_current`, brokerID)
	fy, err := scanFinancialYear(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return FinancialYear{}, fmt.Errorf("%w: %w (broker=%d)", shared.ErrPreconditionNotFound, ErrNoCurrentFinancialYear, brokerID)
	}
	return fy, err
}

// GetFinancialYear loads a financial year by id.
func (r *Repository) GetFinancialYear(ctx context.Context, id int64) (FinancialYear, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fyColumns+` FROM financial_years WHERE id = $1`, id)
	fy, err := scanFinancialYear(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return FinancialYear{}, fmt.Errorf("%w: %w (id=%d)", shared.ErrNotFound, ErrFinancialYearNotFound, id)
	}
	return fy, err
}

// PriorFinancialYear returns the broker's financial year ending most recently before fy starts.
func (r *Repository) PriorFinancialYear(ctx context.Context, fy FinancialYear) (FinancialYear, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fyColumns+` FROM financial_years
		WHERE broker_id = $1 AND end_date < $2
		ORDER BY end_date DESC LIMIT 1`, fy.BrokerID, fy.StartDate)
	prior, err := scanFinancialYear(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return FinancialYear{}, fmt.Errorf("%w: %w (before=%d)", shared.ErrNotFound, ErrFinancialYearNotFound, fy.ID)
	}
	return prior, err
}

// ListCurrentFinancialYears returns the current financial year of every broker.
func (r *Repository) ListCurrentFinancialYears(ctx context.Context) ([]FinancialYear, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fyColumns+` FROM financial_years WHERE is_current ORDER BY broker_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var years []FinancialYear
	for rows.Next() {
		fy, err := scanFinancialYear(rows)
		if err != nil {
			return nil, err
		}
		years = append(years, fy)
	}
	return years, rows.Err()
}

func scanMerchant(row pgx.Row) (Merchant, error) {
	var m Merchant
	var rate decimal.NullDecimal
	if err := row.Scan(&m.ID, &m.BrokerID, &m.FirmName, &rate, &m.City, &m.UserType); err != nil {
		return Merchant{}, err
	}
	if rate.Valid {
		v := rate.Decimal
		m.BrokerageRate = &v
	}
	return m, nil
}

func scanFinancialYear(row pgx.Row) (FinancialYear, error) {
	var fy FinancialYear
	err := row.Scan(&fy.ID, &fy.BrokerID, &fy.Label, &fy.StartDate, &fy.EndDate, &fy.IsCurrent)
	return fy, err
}
