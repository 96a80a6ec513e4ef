package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/brokerage/internal/shared"
)

// ErrSnapshotNotFound indicates no snapshot exists for the merchant and year.
var ErrSnapshotNotFound = fmt.Errorf("history: snapshot %w", shared.ErrNotFound)

// Repository persists snapshots in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert writes the snapshot, replacing any existing row for the same merchant and year.
func (r *Repository) Upsert(ctx context.Context, snap Snapshot) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO merchant_fy_snapshots
		(merchant_id, financial_year_id, broker_id, sold_bags, bought_bags, total_bags, total_brokerage, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (merchant_id, financial_year_id) DO UPDATE SET
			broker_id = EXCLUDED.broker_id,
			sold_bags = EXCLUDED.sold_bags,
			bought_bags = EXCLUDED.bought_bags,
			total_bags = EXCLUDED.total_bags,
			total_brokerage = EXCLUDED.total_brokerage,
			updated_at = NOW()`,
		snap.MerchantID, snap.FinancialYearID, snap.BrokerID, snap.SoldBags, snap.BoughtBags, snap.TotalBags, snap.TotalBrokerage)
	return err
}

const snapshotColumns = `merchant_id, financial_year_id, broker_id, sold_bags, bought_bags, total_bags, total_brokerage, updated_at`

// Get loads the snapshot for a merchant and year.
func (r *Repository) Get(ctx context.Context, merchantID, financialYearID int64) (Snapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM merchant_fy_snapshots
		WHERE merchant_id = $1 AND financial_year_id = $2`, merchantID, financialYearID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return snap, err
}

// ListByFinancialYear returns all snapshots of a year ordered by merchant.
func (r *Repository) ListByFinancialYear(ctx context.Context, financialYearID int64) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM merchant_fy_snapshots
		WHERE financial_year_id = $1 ORDER BY merchant_id`, financialYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.MerchantID, &s.FinancialYearID, &s.BrokerID, &s.SoldBags, &s.BoughtBags, &s.TotalBags, &s.TotalBrokerage, &s.UpdatedAt)
	return s, err
}
