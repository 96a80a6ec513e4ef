package brokerage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/brokerage/internal/history"
	"github.com/odyssey-erp/brokerage/internal/ledger"
	"github.com/odyssey-erp/brokerage/internal/masterdata"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	obligations map[int64]Obligation
	nextID      int64
	writes      int
	// failSave makes SaveComputed fail for the given merchant.
	failSave map[int64]error
	// staleWrites makes the next n CAS writes report a lost race.
	staleWrites int
	// raced, when set, rewrites the stored row as the winner of an injected race.
	raced func(stored Obligation) Obligation
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{obligations: make(map[int64]Obligation), failSave: make(map[int64]error)}
}

func clone(ob Obligation) Obligation {
	ob.Settlements = append([]SettlementEvent(nil), ob.Settlements...)
	return ob
}

func (r *memoryRepo) GetObligation(_ context.Context, id int64) (Obligation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ob, ok := r.obligations[id]
	if !ok {
		return Obligation{}, fmt.Errorf("%w (id=%d)", ErrObligationNotFound, id)
	}
	return clone(ob), nil
}

func (r *memoryRepo) FindObligation(_ context.Context, merchantID, brokerID, fyID int64) (Obligation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ob := range r.obligations {
		if ob.MerchantID == merchantID && ob.BrokerID == brokerID && ob.FinancialYearID == fyID {
			ob.Settlements = nil
			return ob, nil
		}
	}
	return Obligation{}, ErrObligationNotFound
}

func (r *memoryRepo) ListObligations(_ context.Context, filter ListFilter) ([]Obligation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Obligation
	for _, ob := range r.obligations {
		if ob.BrokerID == filter.BrokerID && ob.FinancialYearID == filter.FinancialYearID {
			ob.Settlements = nil
			out = append(out, ob)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantID < out[j].MerchantID })
	return out, nil
}

func (r *memoryRepo) SaveComputed(_ context.Context, ob *Obligation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failSave[ob.MerchantID]; err != nil {
		return err
	}
	if ob.ID == 0 {
		r.nextID++
		ob.ID = r.nextID
		ob.Version = 1
		r.obligations[ob.ID] = clone(*ob)
		r.writes++
		return nil
	}
	return r.casLocked(ob, nil)
}

func (r *memoryRepo) UpdateAmounts(_ context.Context, ob *Obligation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.casLocked(ob, nil)
}

func (r *memoryRepo) AppendSettlement(_ context.Context, ob *Obligation, event SettlementEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.casLocked(ob, &event)
}

func (r *memoryRepo) UpdateSettlementVerified(_ context.Context, obligationID int64, settlementID uuid.UUID, verified bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.obligations[obligationID]
	if !ok {
		return ErrObligationNotFound
	}
	for i := range stored.Settlements {
		if stored.Settlements[i].ID == settlementID {
			stored.Settlements[i].Verified = verified
			r.obligations[obligationID] = stored
			return nil
		}
	}
	return ErrSettlementNotFound
}

func (r *memoryRepo) casLocked(ob *Obligation, event *SettlementEvent) error {
	stored, ok := r.obligations[ob.ID]
	if !ok {
		return ErrObligationNotFound
	}
	if r.staleWrites > 0 {
		r.staleWrites--
		if r.raced != nil {
			stored = r.raced(stored)
			r.raced = nil
		}
		stored.Version++
		r.obligations[ob.ID] = stored
		return ErrStaleVersion
	}
	if stored.Version != ob.Version {
		return ErrStaleVersion
	}
	next := clone(*ob)
	next.Settlements = stored.Settlements
	if event != nil {
		for _, existing := range stored.Settlements {
			if event.Reference != "" && existing.Reference == event.Reference {
				return ErrDuplicateReference
			}
		}
		next.Settlements = append(append([]SettlementEvent(nil), stored.Settlements...), *event)
	}
	next.Version++
	ob.Version = next.Version
	r.obligations[ob.ID] = next
	r.writes++
	return nil
}

type fakeYears struct {
	current map[int64]masterdata.FinancialYear
	byID    map[int64]masterdata.FinancialYear
}

func (f *fakeYears) CurrentFinancialYear(_ context.Context, brokerID int64) (masterdata.FinancialYear, error) {
	fy, ok := f.current[brokerID]
	if !ok {
		return masterdata.FinancialYear{}, fmt.Errorf("%w: %w", shared.ErrPreconditionNotFound, masterdata.ErrNoCurrentFinancialYear)
	}
	return fy, nil
}

func (f *fakeYears) GetFinancialYear(_ context.Context, id int64) (masterdata.FinancialYear, error) {
	fy, ok := f.byID[id]
	if !ok {
		return masterdata.FinancialYear{}, fmt.Errorf("%w: %w", shared.ErrNotFound, masterdata.ErrFinancialYearNotFound)
	}
	return fy, nil
}

type fakeMerchants struct {
	merchants []masterdata.Merchant
}

func (f *fakeMerchants) LookupMerchant(_ context.Context, id int64) (masterdata.Merchant, error) {
	for _, m := range f.merchants {
		if m.ID == id {
			return m, nil
		}
	}
	return masterdata.Merchant{}, fmt.Errorf("%w: %w", shared.ErrNotFound, masterdata.ErrMerchantNotFound)
}

func (f *fakeMerchants) ListMerchantsByBroker(_ context.Context, brokerID int64) ([]masterdata.Merchant, error) {
	var out []masterdata.Merchant
	for _, m := range f.merchants {
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

type fakeLedger struct {
	entries map[ledgerKey][]ledger.RoleEntry
	calls   int
}

func (f *fakeLedger) add(merchantID int64, role ledger.Role, fyID int64, quantities ...*int64) {
	if f.entries == nil {
		f.entries = make(map[ledgerKey][]ledger.RoleEntry)
	}
	key := ledgerKey{merchantID, role, fyID}
	for _, q := range quantities {
		f.entries[key] = append(f.entries[key], ledger.RoleEntry{Quantity: q})
	}
}

func (f *fakeLedger) FindByRole(_ context.Context, merchantID int64, role ledger.Role, fyID int64) ([]ledger.RoleEntry, error) {
	f.calls++
	return f.entries[ledgerKey{merchantID, role, fyID}], nil
}

type fakeSnapshots struct {
	rows map[[2]int64]history.Snapshot
	err  error
}

func (f *fakeSnapshots) Upsert(_ context.Context, snap history.Snapshot) error {
	if f.err != nil {
		return f.err
	}
	if f.rows == nil {
		f.rows = make(map[[2]int64]history.Snapshot)
	}
	f.rows[[2]int64{snap.MerchantID, snap.FinancialYearID}] = snap
	return nil
}

type recordingLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
}

func (l *recordingLocker) Acquire(_ context.Context, key string, _ time.Duration) (shared.ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, fmt.Errorf("%w: %s", shared.ErrLocked, key)
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

func qty(v int64) *int64 { return &v }

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

type fixture struct {
	repo      *memoryRepo
	years     *fakeYears
	merchants *fakeMerchants
	ledger    *fakeLedger
	snapshots *fakeSnapshots
	locker    *recordingLocker
	svc       *Service
	today     time.Time
}

const (
	testBroker = int64(9)
	testFY     = int64(2024)
)

func newFixture(policy OverridePolicy) *fixture {
	fy := masterdata.FinancialYear{
		ID:        testFY,
		BrokerID:  testBroker,
		Label:     "FY2024",
		StartDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		IsCurrent: true,
	}
	f := &fixture{
		repo:      newMemoryRepo(),
		years:     &fakeYears{current: map[int64]masterdata.FinancialYear{testBroker: fy}, byID: map[int64]masterdata.FinancialYear{testFY: fy}},
		merchants: &fakeMerchants{},
		ledger:    &fakeLedger{},
		snapshots: &fakeSnapshots{},
		locker:    &recordingLocker{},
		today:     time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(Deps{
		Repo:      f.repo,
		Years:     f.years,
		Merchants: f.merchants,
		Ledger:    f.ledger,
		Snapshots: f.snapshots,
		Locker:    f.locker,
	}, Config{OverridePolicy: policy})
	f.svc.WithNow(func() time.Time { return f.today })
	return f
}

// scenarioA registers merchant 1 with rate 2 selling 100 and buying 50 bags.
func (f *fixture) scenarioA() {
	f.merchants.merchants = append(f.merchants.merchants, masterdata.Merchant{ID: 1, BrokerID: testBroker, FirmName: "Ganesh Traders", BrokerageRate: decPtr("2")})
	f.ledger.add(1, ledger.RoleSeller, testFY, qty(60), qty(40))
	f.ledger.add(1, ledger.RoleBuyer, testFY, qty(50))
}
