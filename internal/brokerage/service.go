package brokerage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/brokerage/internal/history"
	"github.com/odyssey-erp/brokerage/internal/ledger"
	"github.com/odyssey-erp/brokerage/internal/masterdata"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

// RepositoryPort defines obligation persistence used by the service.
type RepositoryPort interface {
	GetObligation(ctx context.Context, id int64) (Obligation, error)
	FindObligation(ctx context.Context, merchantID, brokerID, financialYearID int64) (Obligation, error)
	ListObligations(ctx context.Context, filter ListFilter) ([]Obligation, error)
	SaveComputed(ctx context.Context, ob *Obligation) error
	UpdateAmounts(ctx context.Context, ob *Obligation) error
	AppendSettlement(ctx context.Context, ob *Obligation, event SettlementEvent) error
	UpdateSettlementVerified(ctx context.Context, obligationID int64, settlementID uuid.UUID, verified bool) error
}

// FinancialYearResolver resolves financial years for a broker.
type FinancialYearResolver interface {
	CurrentFinancialYear(ctx context.Context, brokerID int64) (masterdata.FinancialYear, error)
	GetFinancialYear(ctx context.Context, id int64) (masterdata.FinancialYear, error)
}

// MerchantDirectory lists a broker's merchants.
type MerchantDirectory interface {
	ListMerchantsByBroker(ctx context.Context, brokerID int64) ([]masterdata.Merchant, error)
}

// LedgerSource reads ledger rows for one side of a merchant's trades.
type LedgerSource interface {
	FindByRole(ctx context.Context, merchantID int64, role ledger.Role, financialYearID int64) ([]ledger.RoleEntry, error)
}

// SnapshotWriter upserts the per-year history snapshot.
type SnapshotWriter interface {
	Upsert(ctx context.Context, snap history.Snapshot) error
}

// Config tunes service behaviour.
type Config struct {
	OverridePolicy  OverridePolicy
	SettlementLock  time.Duration
	ComputeLock     time.Duration
	MaxWriteRetries int
}

func (c Config) withDefaults() Config {
	if c.OverridePolicy == "" {
		c.OverridePolicy = OverridePreserve
	}
	if c.SettlementLock <= 0 {
		c.SettlementLock = 15 * time.Second
	}
	if c.ComputeLock <= 0 {
		c.ComputeLock = 5 * time.Minute
	}
	if c.MaxWriteRetries <= 0 {
		c.MaxWriteRetries = 3
	}
	return c
}

// Deps groups the collaborators of Service.
type Deps struct {
	Repo      RepositoryPort
	Years     FinancialYearResolver
	Merchants MerchantDirectory
	Ledger    LedgerSource
	Snapshots SnapshotWriter
	// Locker is optional; without it settlements rely on version checks alone.
	Locker shared.Locker
	Logger *slog.Logger
}

// Service computes obligations and applies settlement operations to them.
type Service struct {
	repo      RepositoryPort
	years     FinancialYearResolver
	merchants MerchantDirectory
	ledger    LedgerSource
	snapshots SnapshotWriter
	locker    shared.Locker
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewService builds a Service instance.
func NewService(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      deps.Repo,
		years:     deps.Years,
		merchants: deps.Merchants,
		ledger:    deps.Ledger,
		snapshots: deps.Snapshots,
		locker:    deps.Locker,
		logger:    logger.With(slog.String("component", "brokerage")),
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.New,
	}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// GetObligation returns an obligation with its settlements. Status is
// re-evaluated against today so an obligation that passed its due date reads OVERDUE.
func (s *Service) GetObligation(ctx context.Context, id int64) (Obligation, error) {
	ob, err := s.repo.GetObligation(ctx, id)
	if err != nil {
		return Obligation{}, err
	}
	ob.Refresh(s.now())
	return ob, nil
}

// ListObligations returns obligations for a broker and financial year.
func (s *Service) ListObligations(ctx context.Context, filter ListFilter) ([]Obligation, error) {
	if filter.BrokerID <= 0 || filter.FinancialYearID <= 0 {
		return nil, validationError("broker and financial year required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationError("unknown status " + string(filter.Status))
	}
	obligations, err := s.repo.ListObligations(ctx, ListFilter{BrokerID: filter.BrokerID, FinancialYearID: filter.FinancialYearID})
	if err != nil {
		return nil, err
	}
	today := s.now()
	out := obligations[:0]
	for _, ob := range obligations {
		ob.Refresh(today)
		if filter.Status != "" && ob.Status != filter.Status {
			continue
		}
		out = append(out, ob)
	}
	return out, nil
}

// RecordSettlement records a payment against an obligation.
func (s *Service) RecordSettlement(ctx context.Context, obligationID int64, in SettlementInput) (Obligation, SettlementEvent, error) {
	var event SettlementEvent
	ob, err := s.mutate(ctx, obligationID, func(ob *Obligation, now time.Time) error {
		event = SettlementEvent{}
		if in.Date.IsZero() {
			in.Date = now
		}
		ev, err := ob.RecordSettlement(s.newID(), in, now)
		if err != nil {
			return err
		}
		if err := s.repo.AppendSettlement(ctx, ob, ev); err != nil {
			return err
		}
		event = ev
		return nil
	})
	if err != nil {
		return Obligation{}, SettlementEvent{}, err
	}
	s.logger.Info("settlement recorded",
		slog.Int64("obligation_id", ob.ID),
		slog.String("amount", event.Amount.StringFixed(2)),
		slog.String("status", string(ob.Status)))
	return ob, event, nil
}

// MarkFullyPaid settles the whole pending amount. It is a no-op returning a nil
// event when nothing is pending.
func (s *Service) MarkFullyPaid(ctx context.Context, obligationID int64, in SettlementInput) (Obligation, *SettlementEvent, error) {
	var event *SettlementEvent
	ob, err := s.mutate(ctx, obligationID, func(ob *Obligation, now time.Time) error {
		// A retry starts from a reloaded obligation; nothing from a lost attempt survives.
		event = nil
		if in.Date.IsZero() {
			in.Date = now
		}
		ev, recorded, err := ob.SettleInFull(s.newID(), in, now)
		if err != nil || !recorded {
			return err
		}
		if err := s.repo.AppendSettlement(ctx, ob, ev); err != nil {
			return err
		}
		event = &ev
		return nil
	})
	if err != nil {
		return Obligation{}, nil, err
	}
	return ob, event, nil
}

// OverrideObligationAmount sets the net amount directly for administrative corrections.
func (s *Service) OverrideObligationAmount(ctx context.Context, obligationID int64, in OverrideInput) (Obligation, error) {
	ob, err := s.mutate(ctx, obligationID, func(ob *Obligation, now time.Time) error {
		if err := ob.Override(in, now); err != nil {
			return err
		}
		return s.repo.UpdateAmounts(ctx, ob)
	})
	if err != nil {
		return Obligation{}, err
	}
	s.logger.Warn("obligation amount overridden",
		slog.Int64("obligation_id", ob.ID),
		slog.String("net_brokerage", ob.NetBrokerage.StringFixed(2)),
		slog.String("reason", ob.Basis.Reason))
	return ob, nil
}

// SetSettlementVerified toggles the verified flag on a recorded settlement.
func (s *Service) SetSettlementVerified(ctx context.Context, obligationID int64, settlementID uuid.UUID, verified bool) (Obligation, error) {
	return s.mutate(ctx, obligationID, func(ob *Obligation, _ time.Time) error {
		if err := ob.SetSettlementVerified(settlementID, verified); err != nil {
			return err
		}
		return s.repo.UpdateSettlementVerified(ctx, ob.ID, settlementID, verified)
	})
}

// mutate loads an obligation under its lock, applies fn and retries when the
// write loses an optimistic version race. fn must leave persistence untouched
// when it returns an error.
func (s *Service) mutate(ctx context.Context, obligationID int64, fn func(ob *Obligation, now time.Time) error) (Obligation, error) {
	if obligationID <= 0 {
		return Obligation{}, validationError("obligation id required")
	}
	release, err := s.lock(ctx, shared.ObligationLockKey(obligationID), s.cfg.SettlementLock)
	if err != nil {
		return Obligation{}, err
	}
	defer s.unlock(release, obligationID)

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxWriteRetries; attempt++ {
		ob, err := s.repo.GetObligation(ctx, obligationID)
		if err != nil {
			return Obligation{}, err
		}
		now := s.now()
		ob.Refresh(now)
		if err := fn(&ob, now); err != nil {
			if isRetryable(err) {
				lastErr = err
				s.logger.Debug("obligation write raced, retrying", slog.Int64("obligation_id", obligationID), slog.Int("attempt", attempt+1))
				continue
			}
			return Obligation{}, err
		}
		return ob, nil
	}
	return Obligation{}, fmt.Errorf("brokerage: obligation %d: %w", obligationID, lastErr)
}

func (s *Service) lock(ctx context.Context, key string, ttl time.Duration) (shared.ReleaseFunc, error) {
	if s.locker == nil {
		return nil, nil
	}
	return s.locker.Acquire(ctx, key, ttl)
}

func (s *Service) unlock(release shared.ReleaseFunc, id int64) {
	if release == nil {
		return
	}
	// Release with a fresh context so a cancelled request still frees the lock.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := release(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("release lock", slog.Int64("id", id), slog.Any("error", err))
	}
}
