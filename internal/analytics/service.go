package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/brokerage/internal/ledger"
	"github.com/odyssey-erp/brokerage/internal/masterdata"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Queries are the typed extractions the engine runs for one financial year.
type Queries interface {
	MonthlyTotals(ctx context.Context, financialYearID int64) ([]MonthRow, error)
	MonthlyByProduct(ctx context.Context, financialYearID int64) ([]ProductRow, error)
	MonthlyByCity(ctx context.Context, financialYearID int64) ([]CityRow, error)
	MonthlyByMerchantType(ctx context.Context, financialYearID int64, role ledger.Role) ([]MerchantTypeRow, error)
	CityProducts(ctx context.Context, financialYearID int64, month MonthKey, city string) ([]ProductRow, error)
	Participants(ctx context.Context, financialYearID int64, role ledger.Role) ([]ParticipantRow, error)
}

// Repository runs a set of queries against one consistent read snapshot.
type Repository interface {
	ReadSnapshot(ctx context.Context, fn func(q Queries) error) error
}

// YearLookup resolves financial years.
type YearLookup interface {
	GetFinancialYear(ctx context.Context, id int64) (masterdata.FinancialYear, error)
}

// Service coordinates analytics extraction with the cache layer.
type Service struct {
	repo   Repository
	cache  *Cache
	years  YearLookup
	logger *slog.Logger
}

// NewService wires a Repository with a Cache helper. cache may be nil.
func NewService(repo Repository, cache *Cache, years YearLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, years: years, logger: logger}
}

// FinancialYearAnalytics returns the month, product, city and merchant-type
// breakdown of a financial year.
func (s *Service) FinancialYearAnalytics(ctx context.Context, brokerID, financialYearID int64) (YearAnalytics, error) {
	if err := s.checkScope(ctx, brokerID, financialYearID); err != nil {
		return YearAnalytics{}, err
	}
	loader := func(ctx context.Context) (interface{}, error) {
		return s.buildYear(ctx, brokerID, financialYearID)
	}
	key, err := s.cache.BuildKey(ctx, ScopeAnalytics, brokerID, "fy", strconv.FormatInt(financialYearID, 10))
	if err != nil {
		return YearAnalytics{}, err
	}
	var out YearAnalytics
	if err := s.cache.FetchJSON(ctx, key, &out, loader); err != nil {
		return YearAnalytics{}, err
	}
	return out, nil
}

func (s *Service) buildYear(ctx context.Context, brokerID, financialYearID int64) (YearAnalytics, error) {
	var ex Extraction
	err := s.repo.ReadSnapshot(ctx, func(q Queries) error {
		var err error
		if ex.Months, err = q.MonthlyTotals(ctx, financialYearID); err != nil {
			return fmt.Errorf("monthly totals: %w", err)
		}
		if ex.Products, err = q.MonthlyByProduct(ctx, financialYearID); err != nil {
			return fmt.Errorf("monthly products: %w", err)
		}
		if ex.Cities, err = q.MonthlyByCity(ctx, financialYearID); err != nil {
			return fmt.Errorf("monthly cities: %w", err)
		}
		if ex.SoldByType, err = q.MonthlyByMerchantType(ctx, financialYearID, ledger.RoleSeller); err != nil {
			return fmt.Errorf("seller merchant types: %w", err)
		}
		if ex.BoughtByType, err = q.MonthlyByMerchantType(ctx, financialYearID, ledger.RoleBuyer); err != nil {
			return fmt.Errorf("buyer merchant types: %w", err)
		}
		// One nested extraction per city and month. Fine while cities per
		// month stay few; a single grouped query would replace it at scale.
		ex.CityProducts = make(map[CityMonth][]ProductRow, len(ex.Cities))
		for _, city := range ex.Cities {
			key := CityMonth{MonthKey: city.MonthKey, City: city.City}
			if _, done := ex.CityProducts[key]; done {
				continue
			}
			rows, err := q.CityProducts(ctx, financialYearID, city.MonthKey, city.City)
			if err != nil {
				return fmt.Errorf("city products %s %s: %w", city.MonthKey, city.City, err)
			}
			ex.CityProducts[key] = rows
		}
		return nil
	})
	if err != nil {
		return YearAnalytics{}, fmt.Errorf("analytics: %w", err)
	}
	out := Aggregate(ex)
	out.BrokerID = brokerID
	out.FinancialYearID = financialYearID
	s.logger.Debug("analytics built",
		slog.Int64("broker_id", brokerID),
		slog.Int64("financial_year_id", financialYearID),
		slog.Int("months", len(out.Months)),
		slog.Int("city_queries", len(ex.CityProducts)))
	return out, nil
}

// Top returns at most TopLimit merchants for a ranking.
func (s *Service) Top(ctx context.Context, board Board, brokerID, financialYearID int64) ([]RankedMerchant, error) {
	if _, err := ParseBoard(string(board)); err != nil {
		return nil, err
	}
	if err := s.checkScope(ctx, brokerID, financialYearID); err != nil {
		return nil, err
	}
	loader := func(ctx context.Context) (interface{}, error) {
		return s.buildTop(ctx, board, financialYearID)
	}
	key, err := s.cache.BuildKey(ctx, ScopeTop, brokerID, "fy", strconv.FormatInt(financialYearID, 10), string(board))
	if err != nil {
		return nil, err
	}
	out := []RankedMerchant{}
	if err := s.cache.FetchJSON(ctx, key, &out, loader); err != nil {
		return nil, err
	}
	return out, nil
}

// TopBuyers ranks buyers by quantity bought.
func (s *Service) TopBuyers(ctx context.Context, brokerID, financialYearID int64) ([]RankedMerchant, error) {
	return s.Top(ctx, BoardBuyers, brokerID, financialYearID)
}

// TopSellers ranks sellers by quantity sold.
func (s *Service) TopSellers(ctx context.Context, brokerID, financialYearID int64) ([]RankedMerchant, error) {
	return s.Top(ctx, BoardSellers, brokerID, financialYearID)
}

// TopMerchants ranks merchants by brokerage across both sides of the trade.
func (s *Service) TopMerchants(ctx context.Context, brokerID, financialYearID int64) ([]RankedMerchant, error) {
	return s.Top(ctx, BoardMerchants, brokerID, financialYearID)
}

func (s *Service) buildTop(ctx context.Context, board Board, financialYearID int64) ([]RankedMerchant, error) {
	var buyers, sellers []ParticipantRow
	err := s.repo.ReadSnapshot(ctx, func(q Queries) error {
		var err error
		if board != BoardSellers {
			if buyers, err = q.Participants(ctx, financialYearID, ledger.RoleBuyer); err != nil {
				return err
			}
		}
		if board != BoardBuyers {
			if sellers, err = q.Participants(ctx, financialYearID, ledger.RoleSeller); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: top %s: %w", board, err)
	}
	switch board {
	case BoardBuyers:
		return RankByQuantity(buyers, TopLimit), nil
	case BoardSellers:
		return RankByQuantity(sellers, TopLimit), nil
	default:
		return RankByBrokerage(CombineSides(buyers, sellers), TopLimit), nil
	}
}

// Evict drops a broker's cached entries for one scope. Callers that change
// ledger or obligation data invoke it; nothing here evicts on its own.
func (s *Service) Evict(ctx context.Context, scope Scope, brokerID int64) error {
	return s.cache.Evict(ctx, scope, brokerID)
}

// EvictBroker drops every cached entry of a broker.
func (s *Service) EvictBroker(ctx context.Context, brokerID int64) error {
	return s.cache.EvictBroker(ctx, brokerID)
}

// Warm pre-computes the analytics and every ranking of a financial year.
func (s *Service) Warm(ctx context.Context, brokerID, financialYearID int64) error {
	if _, err := s.FinancialYearAnalytics(ctx, brokerID, financialYearID); err != nil {
		return err
	}
	for _, board := range []Board{BoardBuyers, BoardSellers, BoardMerchants} {
		if _, err := s.Top(ctx, board, brokerID, financialYearID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkScope(ctx context.Context, brokerID, financialYearID int64) error {
	if brokerID <= 0 || financialYearID <= 0 {
		return fmt.Errorf("analytics: broker and financial year required: %w", shared.ErrValidation)
	}
	if s.years == nil {
		return nil
	}
	fy, err := s.years.GetFinancialYear(ctx, financialYearID)
	if err != nil {
		return err
	}
	if fy.BrokerID != brokerID {
		return fmt.Errorf("analytics: financial year %d does not belong to broker %d: %w", financialYearID, brokerID, shared.ErrNotFound)
	}
	return nil
}
