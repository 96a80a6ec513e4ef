package brokeragehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/brokerage/internal/brokerage"
	"github.com/odyssey-erp/brokerage/internal/history"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

type stubService struct {
	ob         brokerage.Obligation
	err        error
	lastInput  brokerage.SettlementInput
	lastFilter brokerage.ListFilter
	computedFY int64
	verified   *bool
}

func (s *stubService) ComputeForBroker(_ context.Context, brokerID int64) (brokerage.BatchResult, error) {
	return brokerage.BatchResult{BrokerID: brokerID, FinancialYearID: 1, Computed: 2}, s.err
}

func (s *stubService) ComputeForFinancialYear(_ context.Context, brokerID, fyID int64) (brokerage.BatchResult, error) {
	s.computedFY = fyID
	return brokerage.BatchResult{BrokerID: brokerID, FinancialYearID: fyID}, s.err
}

func (s *stubService) GetObligation(context.Context, int64) (brokerage.Obligation, error) {
	return s.ob, s.err
}

func (s *stubService) ListObligations(_ context.Context, filter brokerage.ListFilter) ([]brokerage.Obligation, error) {
	s.lastFilter = filter
	return nil, s.err
}

func (s *stubService) RecordSettlement(_ context.Context, _ int64, in brokerage.SettlementInput) (brokerage.Obligation, brokerage.SettlementEvent, error) {
	s.lastInput = in
	if s.err != nil {
		return brokerage.Obligation{}, brokerage.SettlementEvent{}, s.err
	}
	return s.ob, brokerage.SettlementEvent{ID: uuid.New(), Amount: in.Amount}, nil
}

func (s *stubService) MarkFullyPaid(_ context.Context, _ int64, in brokerage.SettlementInput) (brokerage.Obligation, *brokerage.SettlementEvent, error) {
	s.lastInput = in
	if s.ob.PendingAmount.IsZero() {
		return s.ob, nil, s.err
	}
	return s.ob, &brokerage.SettlementEvent{Amount: s.ob.PendingAmount}, s.err
}

func (s *stubService) OverrideObligationAmount(_ context.Context, _ int64, in brokerage.OverrideInput) (brokerage.Obligation, error) {
	ob := s.ob
	ob.NetBrokerage = in.NetBrokerage
	ob.Basis = brokerage.AmountBasis{Source: brokerage.SourceOverridden, Reason: in.Reason}
	return ob, s.err
}

func (s *stubService) SetSettlementVerified(_ context.Context, _ int64, _ uuid.UUID, verified bool) (brokerage.Obligation, error) {
	s.verified = &verified
	return s.ob, s.err
}

type stubHistory struct{}

func (stubHistory) CompareWithPriorYear(_ context.Context, merchantID, fyID int64) (history.Comparison, error) {
	if merchantID == 404 {
		return history.Comparison{}, fmt.Errorf("%w: merchant", shared.ErrNotFound)
	}
	return history.Comparison{MerchantID: merchantID, FinancialYearID: fyID}, nil
}

func (stubHistory) ListSnapshots(_ context.Context, brokerID, fyID int64) ([]history.Snapshot, error) {
	return []history.Snapshot{{MerchantID: 1, BrokerID: brokerID, FinancialYearID: fyID, TotalBags: 150}}, nil
}

type stubEvictor struct {
	brokers []int64
}

func (e *stubEvictor) EvictBroker(_ context.Context, brokerID int64) error {
	e.brokers = append(e.brokers, brokerID)
	return nil
}

func setup(svc *stubService) (http.Handler, *stubEvictor) {
	evictor := &stubEvictor{}
	r := chi.NewRouter()
	NewHandler(nil, svc, stubHistory{}, evictor).MountRoutes(r)
	return r, evictor
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func pendingObligation() brokerage.Obligation {
	return brokerage.Obligation{ID: 5, BrokerID: 9, NetBrokerage: decimal.NewFromInt(255), PendingAmount: decimal.NewFromInt(255), Status: brokerage.StatusPending}
}

func TestRecordSettlementEvictsBrokerCache(t *testing.T) {
	svc := &stubService{ob: pendingObligation()}
	h, evictor := setup(svc)

	rr := do(h, http.MethodPost, "/obligations/5/settlements", `{"amount":"100.50","date":"2024-06-15","method":"cash","reference":"R-1"}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "100.5", svc.lastInput.Amount.String())
	require.Equal(t, "2024-06-15", svc.lastInput.Date.Format("2006-01-02"))
	require.Equal(t, []int64{9}, evictor.brokers)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Contains(t, body, "settlement")
}

func TestRecordSettlementValidation(t *testing.T) {
	svc := &stubService{ob: pendingObligation()}
	h, evictor := setup(svc)

	cases := map[string]string{
		"missing amount": `{"method":"cash"}`,
		"bad amount":     `{"amount":"ten"}`,
		"bad date":       `{"amount":"1","date":"15/06/2024"}`,
		"unknown field":  `{"amount":"1","amout":"2"}`,
	}
	for name, body := range cases {
		rr := do(h, http.MethodPost, "/obligations/5/settlements", body)
		require.Equal(t, http.StatusBadRequest, rr.Code, name)
	}
	require.Empty(t, evictor.brokers)
}

func TestRecordSettlementMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("exceeds pending: %w", shared.ErrValidation), http.StatusBadRequest},
		{brokerage.ErrObligationNotFound, http.StatusNotFound},
		{brokerage.ErrDuplicateReference, http.StatusConflict},
		{fmt.Errorf("%w: busy", shared.ErrLocked), http.StatusConflict},
	}
	for _, tc := range cases {
		h, evictor := setup(&stubService{err: tc.err})
		rr := do(h, http.MethodPost, "/obligations/5/settlements", `{"amount":"1"}`)
		require.Equal(t, tc.code, rr.Code, tc.err.Error())
		require.Empty(t, evictor.brokers)
	}
}

func TestSettleInFull(t *testing.T) {
	svc := &stubService{ob: pendingObligation()}
	h, evictor := setup(svc)
	rr := do(h, http.MethodPost, "/obligations/5/settle-in-full", `{"method":"neft"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Len(t, evictor.brokers, 1)

	svc.ob.PendingAmount = decimal.Zero
	rr = do(h, http.MethodPost, "/obligations/5/settle-in-full", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, evictor.brokers, 1)
}

func TestOverrideRequiresReason(t *testing.T) {
	svc := &stubService{ob: pendingObligation()}
	h, evictor := setup(svc)

	rr := do(h, http.MethodPost, "/obligations/5/override", `{"net_brokerage":"200"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(h, http.MethodPost, "/obligations/5/override", `{"net_brokerage":"200","reason":"rate dispute"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var ob brokerage.Obligation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ob))
	require.Equal(t, brokerage.SourceOverridden, ob.Basis.Source)
	require.Equal(t, []int64{9}, evictor.brokers)
}

func TestComputeTriggers(t *testing.T) {
	svc := &stubService{}
	h, evictor := setup(svc)

	rr := do(h, http.MethodPost, "/brokers/9/computations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var result brokerage.BatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, 2, result.Computed)

	rr = do(h, http.MethodPost, "/brokers/9/computations", `{"financial_year_id":33}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(33), svc.computedFY)
	require.Equal(t, []int64{9, 9}, evictor.brokers)
}

func TestComputePreconditionFailure(t *testing.T) {
	svc := &stubService{err: fmt.Errorf("%w: no current year", shared.ErrPreconditionNotFound)}
	h, evictor := setup(svc)

	rr := do(h, http.MethodPost, "/brokers/9/computations", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Empty(t, evictor.brokers)
}

func TestListObligationsNormalisesStatus(t *testing.T) {
	svc := &stubService{}
	h, _ := setup(svc)

	rr := do(h, http.MethodGet, "/brokers/9/financial-years/4/obligations?status=partial_paid", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "[]\n", rr.Body.String())
	require.Equal(t, brokerage.StatusPartialPaid, svc.lastFilter.Status)
	require.Equal(t, int64(4), svc.lastFilter.FinancialYearID)
}

func TestVerifySettlement(t *testing.T) {
	svc := &stubService{ob: pendingObligation()}
	h, _ := setup(svc)

	rr := do(h, http.MethodPut, "/obligations/5/settlements/"+uuid.NewString()+"/verified", `{"verified":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.verified)
	require.True(t, *svc.verified)

	rr = do(h, http.MethodPut, "/obligations/5/settlements/not-a-uuid/verified", `{"verified":true}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(h, http.MethodPut, "/obligations/5/settlements/"+uuid.NewString()+"/verified", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetObligationAndComparison(t *testing.T) {
	svc := &stubService{ob: pendingObligation()}
	h, _ := setup(svc)

	rr := do(h, http.MethodGet, "/obligations/5", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(h, http.MethodGet, "/obligations/abc", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(h, http.MethodGet, "/merchants/7/financial-years/4/comparison", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var cmp history.Comparison
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cmp))
	require.Equal(t, int64(7), cmp.MerchantID)

	rr = do(h, http.MethodGet, "/merchants/404/financial-years/4/comparison", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(h, http.MethodGet, "/brokers/9/financial-years/4/snapshots", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snaps []history.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	require.Equal(t, int64(9), snaps[0].BrokerID)
	require.Equal(t, int64(4), snaps[0].FinancialYearID)
}
