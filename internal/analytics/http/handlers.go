package analytichttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/brokerage/internal/analytics"
	"github.com/odyssey-erp/brokerage/internal/platform/httpx"
)

const requestTimeout = 5 * time.Second

// AnalyticsService defines the analytics contract used by the handler.
type AnalyticsService interface {
	FinancialYearAnalytics(ctx context.Context, brokerID, financialYearID int64) (analytics.YearAnalytics, error)
	Top(ctx context.Context, board analytics.Board, brokerID, financialYearID int64) ([]analytics.RankedMerchant, error)
	Evict(ctx context.Context, scope analytics.Scope, brokerID int64) error
	EvictBroker(ctx context.Context, brokerID int64) error
}

// Handler serves analytics, rankings and cache eviction as JSON.
type Handler struct {
	logger    *slog.Logger
	service   AnalyticsService
	validator *validator.Validate
}

// NewHandler constructs the analytics HTTP handler.
func NewHandler(logger *slog.Logger, service AnalyticsService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// Dashboard bundles the year analytics with every ranking.
type Dashboard struct {
	Analytics    analytics.YearAnalytics    `json:"analytics"`
	TopBuyers    []analytics.RankedMerchant `json:"top_buyers"`
	TopSellers   []analytics.RankedMerchant `json:"top_sellers"`
	TopMerchants []analytics.RankedMerchant `json:"top_merchants"`
}

type evictRequest struct {
	Scope string `json:"scope" validate:"omitempty,oneof=analytics top"`
}

type scopeParams struct {
	brokerID        int64
	financialYearID int64
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	params, err := parseScope(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	out, err := h.service.FinancialYearAnalytics(ctx, params.brokerID, params.financialYearID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleTop(w http.ResponseWriter, r *http.Request) {
	params, err := parseScope(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	board, err := analytics.ParseBoard(chi.URLParam(r, "board"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rows, err := h.service.Top(ctx, board, params.brokerID, params.financialYearID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	params, err := parseScope(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	data, err := h.loadDashboard(ctx, params)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, data)
}

func (h *Handler) loadDashboard(ctx context.Context, params scopeParams) (Dashboard, error) {
	var data Dashboard
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := h.service.FinancialYearAnalytics(ctx, params.brokerID, params.financialYearID)
		if err != nil {
			return err
		}
		data.Analytics = out
		return nil
	})
	boards := map[analytics.Board]*[]analytics.RankedMerchant{
		analytics.BoardBuyers:    &data.TopBuyers,
		analytics.BoardSellers:   &data.TopSellers,
		analytics.BoardMerchants: &data.TopMerchants,
	}
	for board, dest := range boards {
		g.Go(func() error {
			rows, err := h.service.Top(ctx, board, params.brokerID, params.financialYearID)
			if err != nil {
				return err
			}
			*dest = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return data, nil
}

func (h *Handler) handleEvict(w http.ResponseWriter, r *http.Request) {
	brokerID, err := httpx.PathInt64(r, "brokerID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req evictRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if req.Scope == "" {
		err = h.service.EvictBroker(r.Context(), brokerID)
	} else {
		err = h.service.Evict(r.Context(), analytics.Scope(req.Scope), brokerID)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.Info("analytics cache evicted", slog.Int64("broker_id", brokerID), slog.String("scope", req.Scope))
	w.WriteHeader(http.StatusNoContent)
}

func parseScope(r *http.Request) (scopeParams, error) {
	brokerID, err := httpx.PathInt64(r, "brokerID")
	if err != nil {
		return scopeParams{}, err
	}
	fyID, err := httpx.PathInt64(r, "fyID")
	if err != nil {
		return scopeParams{}, err
	}
	return scopeParams{brokerID: brokerID, financialYearID: fyID}, nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error("analytics request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
