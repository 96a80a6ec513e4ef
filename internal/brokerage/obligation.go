package brokerage

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewObligation starts an empty obligation for a merchant and year.
func NewObligation(merchantID, brokerID, financialYearID int64, dueDate *time.Time) Obligation {
	return Obligation{
		MerchantID:      merchantID,
		BrokerID:        brokerID,
		FinancialYearID: financialYearID,
		BrokerageRate:   decimal.Zero,
		GrossBrokerage:  decimal.Zero,
		Discount:        decimal.Zero,
		TDS:             decimal.Zero,
		NetBrokerage:    decimal.Zero,
		PaidAmount:      decimal.Zero,
		PendingAmount:   decimal.Zero,
		Status:          StatusPending,
		DueDate:         dueDate,
		Basis:           AmountBasis{Source: SourceDerived},
	}
}

// Refresh recomputes the pending amount and status from paid, net and due date.
func (o *Obligation) Refresh(today time.Time) {
	o.PendingAmount = PendingAmount(o.NetBrokerage, o.PaidAmount)
	o.Status = EvaluateStatus(o.PaidAmount, o.PendingAmount, o.DueDate, today)
}

// ApplyComputation overwrites the derived fields with c and reports whether any
// persisted field changed and whether an override was discarded. PaidAmount and
// settlement history are never touched.
func (o *Obligation) ApplyComputation(c Computation, policy OverridePolicy, today time.Time) (changed, clearedOverride bool) {
	before := *o

	o.SoldBags = c.SoldBags
	o.BoughtBags = c.BoughtBags
	o.TotalBags = c.TotalBags
	o.BrokerageRate = c.Rate
	o.GrossBrokerage = c.GrossBrokerage
	o.Discount = c.Discount
	o.TDS = c.TDS

	if o.Basis.Derived() || policy == OverrideClear {
		clearedOverride = !o.Basis.Derived()
		o.NetBrokerage = c.NetBrokerage
		o.Basis = AmountBasis{Source: SourceDerived}
	}
	o.Refresh(today)

	return !sameFigures(before, *o), clearedOverride
}

// RecordSettlement appends a payment. Amounts that are not positive or exceed
// the pending amount are rejected without mutating the obligation. A non-empty
// reference already present on the obligation is rejected as a duplicate.
func (o *Obligation) RecordSettlement(id uuid.UUID, in SettlementInput, now time.Time) (SettlementEvent, error) {
	if !in.Amount.IsPositive() {
		return SettlementEvent{}, validationError("settlement amount must be positive")
	}
	if in.Amount.GreaterThan(o.PendingAmount) {
		return SettlementEvent{}, validationError("settlement amount " + in.Amount.StringFixed(2) + " exceeds pending " + o.PendingAmount.StringFixed(2))
	}
	if in.Date.IsZero() {
		return SettlementEvent{}, validationError("settlement date required")
	}
	ref := strings.TrimSpace(in.Reference)
	if ref != "" {
		for _, existing := range o.Settlements {
			if existing.Reference == ref {
				return SettlementEvent{}, ErrDuplicateReference
			}
		}
	}

	event := SettlementEvent{
		ID:           id,
		ObligationID: o.ID,
		Amount:       in.Amount,
		Date:         civilDay(in.Date),
		Method:       strings.TrimSpace(in.Method),
		Reference:    ref,
		CreatedAt:    now,
	}
	o.Settlements = append(o.Settlements, event)
	o.PaidAmount = o.PaidAmount.Add(in.Amount)
	o.LastPaymentDate = laterDay(o.LastPaymentDate, in.Date)
	o.Refresh(now)
	return event, nil
}

// SettleInFull records a settlement for the whole pending amount. It returns
// false without recording anything when nothing is pending.
func (o *Obligation) SettleInFull(id uuid.UUID, in SettlementInput, now time.Time) (SettlementEvent, bool, error) {
	if !o.PendingAmount.IsPositive() {
		return SettlementEvent{}, false, nil
	}
	in.Amount = o.PendingAmount
	event, err := o.RecordSettlement(id, in, now)
	if err != nil {
		return SettlementEvent{}, false, err
	}
	return event, true, nil
}

// Override sets the net amount directly, bypassing the derivation, and records why.
func (o *Obligation) Override(in OverrideInput, today time.Time) error {
	if in.NetBrokerage.IsNegative() {
		return validationError("override amount must not be negative")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return validationError("override reason required")
	}
	o.NetBrokerage = in.NetBrokerage
	o.Basis = AmountBasis{Source: SourceOverridden, Reason: reason}
	o.Refresh(today)
	return nil
}

// SetSettlementVerified toggles the verified flag of one settlement.
func (o *Obligation) SetSettlementVerified(settlementID uuid.UUID, verified bool) error {
	for i := range o.Settlements {
		if o.Settlements[i].ID == settlementID {
			o.Settlements[i].Verified = verified
			return nil
		}
	}
	return ErrSettlementNotFound
}

func sameFigures(a, b Obligation) bool {
	return a.SoldBags == b.SoldBags &&
		a.BoughtBags == b.BoughtBags &&
		a.TotalBags == b.TotalBags &&
		a.BrokerageRate.Equal(b.BrokerageRate) &&
		a.GrossBrokerage.Equal(b.GrossBrokerage) &&
		a.Discount.Equal(b.Discount) &&
		a.TDS.Equal(b.TDS) &&
		a.NetBrokerage.Equal(b.NetBrokerage) &&
		a.PendingAmount.Equal(b.PendingAmount) &&
		a.Status == b.Status &&
		a.Basis == b.Basis
}
