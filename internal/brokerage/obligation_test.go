package brokerage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/brokerage/internal/shared"
)

var testToday = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

func scenarioAObligation() Obligation {
	due := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	ob := NewObligation(1, 9, 2024, &due)
	ob.ApplyComputation(Compute(dec("2"), 100, 50), OverridePreserve, testToday)
	return ob
}

func requireInvariants(t *testing.T, ob Obligation) {
	t.Helper()
	require.True(t, ob.PendingAmount.Equal(shared.MaxZero(ob.NetBrokerage.Sub(ob.PaidAmount))), "pending invariant")
	require.Equal(t, ob.SoldBags+ob.BoughtBags, ob.TotalBags)
	switch ob.Status {
	case StatusPaid:
		require.False(t, ob.PendingAmount.IsPositive())
	case StatusPartialPaid:
		require.True(t, ob.PendingAmount.IsPositive())
		require.True(t, ob.PaidAmount.IsPositive())
	case StatusOverdue:
		require.True(t, ob.PaidAmount.IsZero())
		require.True(t, ob.PendingAmount.IsPositive())
	case StatusPending:
		require.True(t, ob.PaidAmount.IsZero())
		require.True(t, ob.PendingAmount.IsPositive())
	default:
		t.Fatalf("unknown status %q", ob.Status)
	}
}

func TestScenarioSettlementLifecycle(t *testing.T) {
	ob := scenarioAObligation()
	require.Equal(t, "255.00", ob.PendingAmount.StringFixed(2))
	require.Equal(t, StatusPending, ob.Status)
	requireInvariants(t, ob)

	_, err := ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("100"), Date: testToday, Method: "cash"}, testToday)
	require.NoError(t, err)
	require.Equal(t, "100.00", ob.PaidAmount.StringFixed(2))
	require.Equal(t, "155.00", ob.PendingAmount.StringFixed(2))
	require.Equal(t, StatusPartialPaid, ob.Status)
	requireInvariants(t, ob)

	_, err = ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("155"), Date: testToday, Method: "upi"}, testToday)
	require.NoError(t, err)
	require.True(t, ob.PendingAmount.IsZero())
	require.Equal(t, StatusPaid, ob.Status)
	requireInvariants(t, ob)

	before := clone(ob)
	_, err = ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("1"), Date: testToday}, testToday)
	require.True(t, errors.Is(err, shared.ErrValidation))
	require.Equal(t, before, ob)
	require.Len(t, ob.Settlements, 2)
}

func TestRecordSettlementRejectsWithoutMutation(t *testing.T) {
	for _, amount := range []string{"0", "-5", "255.01"} {
		ob := scenarioAObligation()
		before := clone(ob)
		_, err := ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec(amount), Date: testToday}, testToday)
		require.True(t, errors.Is(err, shared.ErrValidation), amount)
		require.Equal(t, before, ob, amount)
	}
}

func TestRecordSettlementDuplicateReference(t *testing.T) {
	ob := scenarioAObligation()
	_, err := ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("10"), Date: testToday, Reference: "CHQ-1"}, testToday)
	require.NoError(t, err)

	before := clone(ob)
	_, err = ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("10"), Date: testToday, Reference: " CHQ-1 "}, testToday)
	require.ErrorIs(t, err, ErrDuplicateReference)
	require.True(t, errors.Is(err, shared.ErrConflict))
	require.Equal(t, before, ob)
}

func TestLastPaymentDateKeepsLatest(t *testing.T) {
	ob := scenarioAObligation()
	june := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	may := time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC)

	_, err := ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("5"), Date: june}, testToday)
	require.NoError(t, err)
	_, err = ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("5"), Date: may}, testToday)
	require.NoError(t, err)
	require.Equal(t, june, *ob.LastPaymentDate)
}

func TestSettleInFull(t *testing.T) {
	ob := scenarioAObligation()
	event, recorded, err := ob.SettleInFull(uuid.New(), SettlementInput{Date: testToday, Method: "neft"}, testToday)
	require.NoError(t, err)
	require.True(t, recorded)
	require.Equal(t, "255.00", event.Amount.StringFixed(2))
	require.Equal(t, StatusPaid, ob.Status)

	_, recorded, err = ob.SettleInFull(uuid.New(), SettlementInput{Date: testToday}, testToday)
	require.NoError(t, err)
	require.False(t, recorded)
	require.Len(t, ob.Settlements, 1)
}

func TestOverdueWhenPastDueWithoutPayment(t *testing.T) {
	ob := scenarioAObligation()
	ob.Refresh(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, StatusOverdue, ob.Status)
	requireInvariants(t, ob)

	_, err := ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("1"), Date: testToday}, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, StatusPartialPaid, ob.Status)
}

func TestOverride(t *testing.T) {
	ob := scenarioAObligation()
	_, err := ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("100"), Date: testToday}, testToday)
	require.NoError(t, err)

	require.ErrorIs(t, ob.Override(OverrideInput{NetBrokerage: dec("90")}, testToday), shared.ErrValidation)
	require.ErrorIs(t, ob.Override(OverrideInput{NetBrokerage: dec("-1"), Reason: "x"}, testToday), shared.ErrValidation)

	require.NoError(t, ob.Override(OverrideInput{NetBrokerage: dec("90"), Reason: "goodwill waiver"}, testToday))
	require.Equal(t, SourceOverridden, ob.Basis.Source)
	require.Equal(t, "goodwill waiver", ob.Basis.Reason)
	require.True(t, ob.PendingAmount.IsZero())
	require.Equal(t, StatusPaid, ob.Status)
	requireInvariants(t, ob)
}

func TestRecomputationRegressesPaid(t *testing.T) {
	ob := scenarioAObligation()
	_, _, err := ob.SettleInFull(uuid.New(), SettlementInput{Date: testToday}, testToday)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, ob.Status)

	changed, _ := ob.ApplyComputation(Compute(dec("2"), 120, 50), OverridePreserve, testToday)
	require.True(t, changed)
	require.Equal(t, StatusPartialPaid, ob.Status)
	require.Equal(t, "34.00", ob.PendingAmount.StringFixed(2))
	require.Equal(t, "255.00", ob.PaidAmount.StringFixed(2))
	requireInvariants(t, ob)
}

func TestApplyComputationOverridePolicies(t *testing.T) {
	t.Run("preserve", func(t *testing.T) {
		ob := scenarioAObligation()
		require.NoError(t, ob.Override(OverrideInput{NetBrokerage: dec("200"), Reason: "negotiated"}, testToday))

		changed, cleared := ob.ApplyComputation(Compute(dec("2"), 110, 50), OverridePreserve, testToday)
		require.True(t, changed)
		require.False(t, cleared)
		require.Equal(t, "200.00", ob.NetBrokerage.StringFixed(2))
		require.Equal(t, "320.00", ob.GrossBrokerage.StringFixed(2))
		require.Equal(t, SourceOverridden, ob.Basis.Source)
	})
	t.Run("clear", func(t *testing.T) {
		ob := scenarioAObligation()
		require.NoError(t, ob.Override(OverrideInput{NetBrokerage: dec("200"), Reason: "negotiated"}, testToday))

		changed, cleared := ob.ApplyComputation(Compute(dec("2"), 100, 50), OverrideClear, testToday)
		require.True(t, changed)
		require.True(t, cleared)
		require.Equal(t, "255.00", ob.NetBrokerage.StringFixed(2))
		require.True(t, ob.Basis.Derived())
		requireInvariants(t, ob)
	})
}

func TestApplyComputationUnchanged(t *testing.T) {
	ob := scenarioAObligation()
	changed, _ := ob.ApplyComputation(Compute(dec("2"), 100, 50), OverridePreserve, testToday)
	require.False(t, changed)
}

func TestSetSettlementVerified(t *testing.T) {
	ob := scenarioAObligation()
	event, err := ob.RecordSettlement(uuid.New(), SettlementInput{Amount: dec("10"), Date: testToday}, testToday)
	require.NoError(t, err)

	require.NoError(t, ob.SetSettlementVerified(event.ID, true))
	require.True(t, ob.Settlements[0].Verified)
	require.ErrorIs(t, ob.SetSettlementVerified(uuid.New(), true), ErrSettlementNotFound)
}

func TestParseOverridePolicy(t *testing.T) {
	p, err := ParseOverridePolicy("")
	require.NoError(t, err)
	require.Equal(t, OverridePreserve, p)

	p, err = ParseOverridePolicy("clear")
	require.NoError(t, err)
	require.Equal(t, OverrideClear, p)

	_, err = ParseOverridePolicy("sometimes")
	require.ErrorIs(t, err, shared.ErrValidation)
}
