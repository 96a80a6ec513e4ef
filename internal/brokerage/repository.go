package brokerage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/brokerage/internal/platform/db"
)

// Repository persists obligations and settlement events in PostgreSQL.
// Obligation updates are compare-and-swap on the version column.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const obligationColumns = `id, merchant_id, broker_id, financial_year_id,
	sold_bags, bought_bags, total_bags, brokerage_rate,
	gross_brokerage, discount, tds, net_brokerage, paid_amount, pending_amount,
	status, due_date, last_payment_date, notes, amount_source, override_reason,
	version, created_at, updated_at`

const settlementUniqueReference = "settlements_reference_uniq"

// GetObligation loads an obligation together with its settlements in recording order.
func (r *Repository) GetObligation(ctx context.Context, id int64) (Obligation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+obligationColumns+` FROM brokerage_obligations WHERE id = $1`, id)
	ob, err := scanObligation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Obligation{}, fmt.Errorf("%w (id=%d)", ErrObligationNotFound, id)
	}
	if err != nil {
		return Obligation{}, err
	}
	if ob.Settlements, err = r.listSettlements(ctx, ob.ID); err != nil {
		return Obligation{}, err
	}
	return ob, nil
}

// FindObligation loads the obligation for a merchant, broker and financial year.
func (r *Repository) FindObligation(ctx context.Context, merchantID, brokerID, financialYearID int64) (Obligation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+obligationColumns+` FROM brokerage_obligations
		WHERE merchant_id = $1 AND broker_id = $2 AND financial_year_id = $3`, merchantID, brokerID, financialYearID)
	ob, err := scanObligation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Obligation{}, fmt.Errorf("%w (merchant=%d fy=%d)", ErrObligationNotFound, merchantID, financialYearID)
	}
	return ob, err
}

// ListObligations returns obligations for a broker and year without settlements.
func (r *Repository) ListObligations(ctx context.Context, filter ListFilter) ([]Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM brokerage_obligations WHERE broker_id = $1 AND financial_year_id = $2`
	args := []any{filter.BrokerID, filter.FinancialYearID}
	if filter.Status != "" {
		query += ` AND status = $3`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY merchant_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obligations []Obligation
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, ob)
	}
	return obligations, rows.Err()
}

// SaveComputed inserts a new obligation or updates an existing one. The
// version is bumped on success.
func (r *Repository) SaveComputed(ctx context.Context, ob *Obligation) error {
	if ob.ID == 0 {
		return r.insert(ctx, ob)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return updateObligation(ctx, tx, ob)
	})
}

// UpdateAmounts writes an obligation's amount fields after an override.
func (r *Repository) UpdateAmounts(ctx context.Context, ob *Obligation) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return updateObligation(ctx, tx, ob)
	})
}

// AppendSettlement stores a new settlement event and the obligation it changed
// atomically.
func (r *Repository) AppendSettlement(ctx context.Context, ob *Obligation, event SettlementEvent) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := updateObligation(ctx, tx, ob); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO settlement_events
			(id, obligation_id, amount, paid_on, method, reference, verified, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			event.ID, event.ObligationID, event.Amount, event.Date, event.Method, event.Reference, event.Verified, event.CreatedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == settlementUniqueReference {
			return ErrDuplicateReference
		}
		return err
	})
}

// UpdateSettlementVerified toggles a settlement's verified flag.
func (r *Repository) UpdateSettlementVerified(ctx context.Context, obligationID int64, settlementID uuid.UUID, verified bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE settlement_events SET verified = $3 WHERE id = $1 AND obligation_id = $2`,
		settlementID, obligationID, verified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

func (r *Repository) insert(ctx context.Context, ob *Obligation) error {
	err := r.pool.QueryRow(ctx, `INSERT INTO brokerage_obligations (
			merchant_id, broker_id, financial_year_id,
			sold_bags, bought_bags, total_bags, brokerage_rate,
			gross_brokerage, discount, tds, net_brokerage, paid_amount, pending_amount,
			status, due_date, last_payment_date, notes, amount_source, override_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (merchant_id, broker_id, financial_year_id) DO NOTHING
		RETURNING id, version, created_at, updated_at`,
		ob.MerchantID, ob.BrokerID, ob.FinancialYearID,
		ob.SoldBags, ob.BoughtBags, ob.TotalBags, ob.BrokerageRate,
		ob.GrossBrokerage, ob.Discount, ob.TDS, ob.NetBrokerage, ob.PaidAmount, ob.PendingAmount,
		string(ob.Status), dateArg(ob.DueDate), dateArg(ob.LastPaymentDate), ob.Notes,
		string(ob.Basis.Source), ob.Basis.Reason,
	).Scan(&ob.ID, &ob.Version, &ob.CreatedAt, &ob.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Another pass created the row first.
		return ErrStaleVersion
	}
	return err
}

func updateObligation(ctx context.Context, tx pgx.Tx, ob *Obligation) error {
	err := tx.QueryRow(ctx, `UPDATE brokerage_obligations SET
			sold_bags = $3, bought_bags = $4, total_bags = $5, brokerage_rate = $6,
			gross_brokerage = $7, discount = $8, tds = $9, net_brokerage = $10,
			paid_amount = $11, pending_amount = $12, status = $13,
			due_date = $14, last_payment_date = $15, notes = $16,
			amount_source = $17, override_reason = $18,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		ob.ID, ob.Version,
		ob.SoldBags, ob.BoughtBags, ob.TotalBags, ob.BrokerageRate,
		ob.GrossBrokerage, ob.Discount, ob.TDS, ob.NetBrokerage,
		ob.PaidAmount, ob.PendingAmount, string(ob.Status),
		dateArg(ob.DueDate), dateArg(ob.LastPaymentDate), ob.Notes,
		string(ob.Basis.Source), ob.Basis.Reason,
	).Scan(&ob.Version, &ob.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrStaleVersion
	}
	return err
}

func (r *Repository) listSettlements(ctx context.Context, obligationID int64) ([]SettlementEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, obligation_id, amount, paid_on, method, reference, verified, created_at
		FROM settlement_events WHERE obligation_id = $1 ORDER BY created_at, id`, obligationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SettlementEvent
	for rows.Next() {
		var ev SettlementEvent
		if err := rows.Scan(&ev.ID, &ev.ObligationID, &ev.Amount, &ev.Date, &ev.Method, &ev.Reference, &ev.Verified, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanObligation(row pgx.Row) (Obligation, error) {
	var ob Obligation
	var status, source string
	var dueDate, lastPayment pgtype.Date
	err := row.Scan(
		&ob.ID, &ob.MerchantID, &ob.BrokerID, &ob.FinancialYearID,
		&ob.SoldBags, &ob.BoughtBags, &ob.TotalBags, &ob.BrokerageRate,
		&ob.GrossBrokerage, &ob.Discount, &ob.TDS, &ob.NetBrokerage, &ob.PaidAmount, &ob.PendingAmount,
		&status, &dueDate, &lastPayment, &ob.Notes, &source, &ob.Basis.Reason,
		&ob.Version, &ob.CreatedAt, &ob.UpdatedAt,
	)
	if err != nil {
		return Obligation{}, err
	}
	ob.Status = Status(strings.ToUpper(status))
	ob.Basis.Source = AmountSource(source)
	ob.DueDate = datePtr(dueDate)
	ob.LastPaymentDate = datePtr(lastPayment)
	return ob, nil
}

func dateArg(t *time.Time) pgtype.Date {
	if t == nil || t.IsZero() {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func datePtr(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}
