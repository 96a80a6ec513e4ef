package e2e

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/odyssey-erp/brokerage/internal/analytics"
	"github.com/odyssey-erp/brokerage/internal/brokerage"
	"github.com/odyssey-erp/brokerage/internal/history"
	"github.com/odyssey-erp/brokerage/internal/ledger"
	"github.com/odyssey-erp/brokerage/internal/masterdata"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

// obligationStore mirrors the version check of the Postgres repository.
type obligationStore struct {
	mu     sync.Mutex
	rows   map[int64]brokerage.Obligation
	nextID int64
}

func newObligationStore() *obligationStore {
	return &obligationStore{rows: make(map[int64]brokerage.Obligation)}
}

func (s *obligationStore) GetObligation(_ context.Context, id int64) (brokerage.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ob, ok := s.rows[id]
	if !ok {
		return brokerage.Obligation{}, brokerage.ErrObligationNotFound
	}
	ob.Settlements = append([]brokerage.SettlementEvent(nil), ob.Settlements...)
	return ob, nil
}

func (s *obligationStore) FindObligation(_ context.Context, merchantID, brokerID, fyID int64) (brokerage.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ob := range s.rows {
		if ob.MerchantID == merchantID && ob.BrokerID == brokerID && ob.FinancialYearID == fyID {
			ob.Settlements = nil
			return ob, nil
		}
	}
	return brokerage.Obligation{}, brokerage.ErrObligationNotFound
}

func (s *obligationStore) ListObligations(_ context.Context, filter brokerage.ListFilter) ([]brokerage.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []brokerage.Obligation
	for _, ob := range s.rows {
		if ob.BrokerID == filter.BrokerID && ob.FinancialYearID == filter.FinancialYearID {
			ob.Settlements = nil
			out = append(out, ob)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantID < out[j].MerchantID })
	return out, nil
}

func (s *obligationStore) SaveComputed(_ context.Context, ob *brokerage.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ob.ID == 0 {
		s.nextID++
		ob.ID = s.nextID
		ob.Version = 1
		s.rows[ob.ID] = *ob
		return nil
	}
	return s.swap(ob, nil)
}

func (s *obligationStore) UpdateAmounts(_ context.Context, ob *brokerage.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swap(ob, nil)
}

func (s *obligationStore) AppendSettlement(_ context.Context, ob *brokerage.Obligation, event brokerage.SettlementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swap(ob, &event)
}

func (s *obligationStore) UpdateSettlementVerified(_ context.Context, obligationID int64, settlementID uuid.UUID, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.rows[obligationID]
	if !ok {
		return brokerage.ErrObligationNotFound
	}
	for i := range stored.Settlements {
		if stored.Settlements[i].ID == settlementID {
			stored.Settlements[i].Verified = verified
			s.rows[obligationID] = stored
			return nil
		}
	}
	return brokerage.ErrSettlementNotFound
}

func (s *obligationStore) swap(ob *brokerage.Obligation, event *brokerage.SettlementEvent) error {
	stored, ok := s.rows[ob.ID]
	if !ok {
		return brokerage.ErrObligationNotFound
	}
	if stored.Version != ob.Version {
		return brokerage.ErrStaleVersion
	}
	next := *ob
	next.Settlements = stored.Settlements
	if event != nil {
		for _, existing := range stored.Settlements {
			if event.Reference != "" && existing.Reference == event.Reference {
				return brokerage.ErrDuplicateReference
			}
		}
		next.Settlements = append(append([]brokerage.SettlementEvent(nil), stored.Settlements...), *event)
	}
	next.Version++
	ob.Version = next.Version
	s.rows[ob.ID] = next
	return nil
}

// directory serves financial years and merchants.
type directory struct {
	years     []masterdata.FinancialYear
	merchants []masterdata.Merchant
}

func (d directory) CurrentFinancialYear(_ context.Context, brokerID int64) (masterdata.FinancialYear, error) {
	for _, fy := range d.years {
		if fy.BrokerID == brokerID && fy.IsCurrent {
			return fy, nil
		}
	}
	return masterdata.FinancialYear{}, fmt.Errorf("%w: %w", shared.ErrPreconditionNotFound, masterdata.ErrNoCurrentFinancialYear)
}

func (d directory) GetFinancialYear(_ context.Context, id int64) (masterdata.FinancialYear, error) {
	for _, fy := range d.years {
		if fy.ID == id {
			return fy, nil
		}
	}
	return masterdata.FinancialYear{}, fmt.Errorf("%w: %w", shared.ErrNotFound, masterdata.ErrFinancialYearNotFound)
}

func (d directory) PriorFinancialYear(_ context.Context, fy masterdata.FinancialYear) (masterdata.FinancialYear, error) {
	var prior *masterdata.FinancialYear
	for i := range d.years {
		candidate := d.years[i]
		if candidate.BrokerID == fy.BrokerID && candidate.EndDate.Before(fy.StartDate) {
			if prior == nil || candidate.EndDate.After(prior.EndDate) {
				prior = &candidate
			}
		}
	}
	if prior == nil {
		return masterdata.FinancialYear{}, fmt.Errorf("%w: %w", shared.ErrNotFound, masterdata.ErrFinancialYearNotFound)
	}
	return *prior, nil
}

func (d directory) LookupMerchant(_ context.Context, id int64) (masterdata.Merchant, error) {
	for _, m := range d.merchants {
		if m.ID == id {
			return m, nil
		}
	}
	return masterdata.Merchant{}, fmt.Errorf("%w: %w", shared.ErrNotFound, masterdata.ErrMerchantNotFound)
}

func (d directory) ListMerchantsByBroker(_ context.Context, brokerID int64) ([]masterdata.Merchant, error) {
	var out []masterdata.Merchant
	for _, m := range d.merchants {
		if m.BrokerID == brokerID {
			out = append(out, m)
		}
	}
	return out, nil
}

type ledgerKey struct {
	merchantID int64
	role       ledger.Role
	fyID       int64
}

type tradeLedger map[ledgerKey][]ledger.RoleEntry

func (l tradeLedger) FindByRole(_ context.Context, merchantID int64, role ledger.Role, fyID int64) ([]ledger.RoleEntry, error) {
	return l[ledgerKey{merchantID, role, fyID}], nil
}

type snapshotStore struct {
	mu   sync.Mutex
	rows map[[2]int64]history.Snapshot
}

func (s *snapshotStore) Upsert(_ context.Context, snap history.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[[2]int64]history.Snapshot)
	}
	s.rows[[2]int64{snap.MerchantID, snap.FinancialYearID}] = snap
	return nil
}

func (s *snapshotStore) Get(_ context.Context, merchantID, fyID int64) (history.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.rows[[2]int64{merchantID, fyID}]
	if !ok {
		return history.Snapshot{}, history.ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *snapshotStore) ListByFinancialYear(_ context.Context, fyID int64) ([]history.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []history.Snapshot
	for key, snap := range s.rows {
		if key[1] == fyID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantID < out[j].MerchantID })
	return out, nil
}

// analyticsSource counts how often the analytics engine reads the ledger.
type analyticsSource struct {
	loads atomic.Int32
	rows  analyticsRows
}

type analyticsRows struct {
	months       []analytics.MonthRow
	products     []analytics.ProductRow
	cities       []analytics.CityRow
	participants []analytics.ParticipantRow
}

func (a *analyticsSource) ReadSnapshot(_ context.Context, fn func(q analytics.Queries) error) error {
	a.loads.Add(1)
	return fn(a.rows)
}

func (r analyticsRows) MonthlyTotals(context.Context, int64) ([]analytics.MonthRow, error) {
	return r.months, nil
}

func (r analyticsRows) MonthlyByProduct(context.Context, int64) ([]analytics.ProductRow, error) {
	return r.products, nil
}

func (r analyticsRows) MonthlyByCity(context.Context, int64) ([]analytics.CityRow, error) {
	return r.cities, nil
}

func (r analyticsRows) MonthlyByMerchantType(context.Context, int64, ledger.Role) ([]analytics.MerchantTypeRow, error) {
	return nil, nil
}

func (r analyticsRows) CityProducts(_ context.Context, _ int64, month analytics.MonthKey, _ string) ([]analytics.ProductRow, error) {
	var out []analytics.ProductRow
	for _, p := range r.products {
		if p.MonthKey == month {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r analyticsRows) Participants(context.Context, int64, ledger.Role) ([]analytics.ParticipantRow, error) {
	return r.participants, nil
}
