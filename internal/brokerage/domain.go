// Package brokerage turns ledger activity into per-merchant brokerage obligations
// and tracks their settlement.
package brokerage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Status enumerates obligation payment states. None is terminal.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusPartialPaid Status = "PARTIAL_PAID"
	StatusPaid        Status = "PAID"
	StatusOverdue     Status = "OVERDUE"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartialPaid, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// AmountSource tags where an obligation's net amount came from.
type AmountSource string

const (
	// SourceDerived means net = gross - discount - tds.
	SourceDerived AmountSource = "DERIVED"
	// SourceOverridden means net was set by an administrator.
	SourceOverridden AmountSource = "OVERRIDDEN"
)

// AmountBasis records how NetBrokerage was obtained. Reason is only set for overrides.
type AmountBasis struct {
	Source AmountSource `json:"source"`
	Reason string       `json:"reason,omitempty"`
}

// Derived reports whether the net amount follows the gross/discount/tds derivation.
func (b AmountBasis) Derived() bool {
	return b.Source != SourceOverridden
}

// OverridePolicy decides what a computation pass does with a manual override.
type OverridePolicy string

const (
	// OverridePreserve keeps an overridden net amount across recomputation.
	OverridePreserve OverridePolicy = "preserve"
	// OverrideClear discards the override and re-derives the net amount.
	OverrideClear OverridePolicy = "clear"
)

// ParseOverridePolicy validates a configured policy value.
func ParseOverridePolicy(v string) (OverridePolicy, error) {
	switch OverridePolicy(v) {
	case OverridePreserve, OverrideClear:
		return OverridePolicy(v), nil
	case "":
		return OverridePreserve, nil
	}
	return "", fmt.Errorf("%w: unknown override policy %q", shared.ErrValidation, v)
}

var (
	// DiscountRate is applied to gross brokerage.
	DiscountRate = decimal.RequireFromString("0.10")
	// TDSRate is the tax deducted at source on gross brokerage.
	TDSRate = decimal.RequireFromString("0.05")
)

// Obligation is the brokerage a merchant owes a broker for one financial year.
type Obligation struct {
	ID              int64             `json:"id"`
	MerchantID      int64             `json:"merchant_id"`
	BrokerID        int64             `json:"broker_id"`
	FinancialYearID int64             `json:"financial_year_id"`
	SoldBags        int64             `json:"sold_bags"`
	BoughtBags      int64             `json:"bought_bags"`
	TotalBags       int64             `json:"total_bags"`
	BrokerageRate   decimal.Decimal   `json:"brokerage_rate"`
	GrossBrokerage  decimal.Decimal   `json:"gross_brokerage"`
	Discount        decimal.Decimal   `json:"discount"`
	TDS             decimal.Decimal   `json:"tds"`
	NetBrokerage    decimal.Decimal   `json:"net_brokerage"`
	PaidAmount      decimal.Decimal   `json:"paid_amount"`
	PendingAmount   decimal.Decimal   `json:"pending_amount"`
	Status          Status            `json:"status"`
	DueDate         *time.Time        `json:"due_date,omitempty"`
	LastPaymentDate *time.Time        `json:"last_payment_date,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Basis           AmountBasis       `json:"basis"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Settlements     []SettlementEvent `json:"settlements,omitempty"`
}

// SettlementEvent is one recorded payment. Only Verified may change after creation.
type SettlementEvent struct {
	ID           uuid.UUID       `json:"id"`
	ObligationID int64           `json:"obligation_id"`
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	Method       string          `json:"method"`
	Reference    string          `json:"reference,omitempty"`
	Verified     bool            `json:"verified"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SettlementInput carries a payment to be recorded.
type SettlementInput struct {
	Amount    decimal.Decimal
	Date      time.Time
	Method    string
	Reference string
}

// OverrideInput carries an administrative net amount correction.
type OverrideInput struct {
	NetBrokerage decimal.Decimal
	Reason       string
}

// ListFilter scopes obligation listings.
type ListFilter struct {
	BrokerID        int64
	FinancialYearID int64
	Status          Status
}

var (
	// ErrObligationNotFound indicates an unknown obligation id.
	ErrObligationNotFound = fmt.Errorf("brokerage: obligation %w", shared.ErrNotFound)
	// ErrSettlementNotFound indicates an unknown settlement id.
	ErrSettlementNotFound = fmt.Errorf("brokerage: settlement %w", shared.ErrNotFound)
	// ErrStaleVersion indicates the obligation changed since it was loaded.
	ErrStaleVersion = fmt.Errorf("brokerage: stale obligation version: %w", shared.ErrConflict)
	// ErrDuplicateReference indicates a settlement reference already recorded on the obligation.
	ErrDuplicateReference = fmt.Errorf("brokerage: duplicate settlement reference: %w", shared.ErrConflict)
	// ErrFinancialYearMismatch indicates a financial year owned by another broker.
	ErrFinancialYearMismatch = fmt.Errorf("brokerage: financial year does not belong to broker: %w", shared.ErrValidation)
)

func validationError(msg string) error {
	return fmt.Errorf("brokerage: %s: %w", msg, shared.ErrValidation)
}

// isRetryable reports whether a write lost an optimistic race and may be replayed.
func isRetryable(err error) bool {
	return errors.Is(err, ErrStaleVersion)
}
