// Package brokeragehttp exposes obligation computation and settlement over JSON.
package brokeragehttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/brokerage/internal/brokerage"
	"github.com/odyssey-erp/brokerage/internal/history"
	"github.com/odyssey-erp/brokerage/internal/platform/httpx"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

// BrokerageService is the obligation contract used by the handler.
type BrokerageService interface {
	ComputeForBroker(ctx context.Context, brokerID int64) (brokerage.BatchResult, error)
	ComputeForFinancialYear(ctx context.Context, brokerID, financialYearID int64) (brokerage.BatchResult, error)
	GetObligation(ctx context.Context, id int64) (brokerage.Obligation, error)
	ListObligations(ctx context.Context, filter brokerage.ListFilter) ([]brokerage.Obligation, error)
	RecordSettlement(ctx context.Context, obligationID int64, in brokerage.SettlementInput) (brokerage.Obligation, brokerage.SettlementEvent, error)
	MarkFullyPaid(ctx context.Context, obligationID int64, in brokerage.SettlementInput) (brokerage.Obligation, *brokerage.SettlementEvent, error)
	OverrideObligationAmount(ctx context.Context, obligationID int64, in brokerage.OverrideInput) (brokerage.Obligation, error)
	SetSettlementVerified(ctx context.Context, obligationID int64, settlementID uuid.UUID, verified bool) (brokerage.Obligation, error)
}

// HistoryService answers year-over-year comparisons.
type HistoryService interface {
	CompareWithPriorYear(ctx context.Context, merchantID, financialYearID int64) (history.Comparison, error)
	ListSnapshots(ctx context.Context, brokerID, financialYearID int64) ([]history.Snapshot, error)
}

// CacheEvictor drops a broker's cached analytics after data changes.
type CacheEvictor interface {
	EvictBroker(ctx context.Context, brokerID int64) error
}

// Handler wires HTTP endpoints for obligations.
type Handler struct {
	logger    *slog.Logger
	service   BrokerageService
	history   HistoryService
	cache     CacheEvictor
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. cache may be nil.
func NewHandler(logger *slog.Logger, service BrokerageService, hist HistoryService, cache CacheEvictor) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		history:   hist,
		cache:     cache,
		validator: validator.New(),
	}
}

type computeRequest struct {
	FinancialYearID int64 `json:"financial_year_id" validate:"omitempty,gt=0"`
}

type settlementRequest struct {
	Amount    string `json:"amount" validate:"required,numeric"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Method    string `json:"method" validate:"omitempty,max=32"`
	Reference string `json:"reference" validate:"omitempty,max=64"`
}

type settleInFullRequest struct {
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Method    string `json:"method" validate:"omitempty,max=32"`
	Reference string `json:"reference" validate:"omitempty,max=64"`
}

type overrideRequest struct {
	NetBrokerage string `json:"net_brokerage" validate:"required,numeric"`
	Reason       string `json:"reason" validate:"required,max=500"`
}

type verifyRequest struct {
	Verified *bool `json:"verified" validate:"required"`
}

type settlementResponse struct {
	Obligation brokerage.Obligation       `json:"obligation"`
	Settlement *brokerage.SettlementEvent `json:"settlement,omitempty"`
}

func (h *Handler) handleCompute(w http.ResponseWriter, r *http.Request) {
	brokerID, err := httpx.PathInt64(r, "brokerID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req computeRequest
	if !h.decode(w, r, &req) {
		return
	}

	var result brokerage.BatchResult
	if req.FinancialYearID > 0 {
		result, err = h.service.ComputeForFinancialYear(r.Context(), brokerID, req.FinancialYearID)
	} else {
		result, err = h.service.ComputeForBroker(r.Context(), brokerID)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.evict(r.Context(), brokerID)
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleListObligations(w http.ResponseWriter, r *http.Request) {
	brokerID, err := httpx.PathInt64(r, "brokerID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	fyID, err := httpx.PathInt64(r, "fyID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	filter := brokerage.ListFilter{
		BrokerID:        brokerID,
		FinancialYearID: fyID,
		Status:          brokerage.Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))),
	}
	obligations, err := h.service.ListObligations(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if obligations == nil {
		obligations = []brokerage.Obligation{}
	}
	httpx.JSON(w, http.StatusOK, obligations)
}

func (h *Handler) handleGetObligation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "obligationID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	ob, err := h.service.GetObligation(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ob)
}

func (h *Handler) handleRecordSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "obligationID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req settlementRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(w, fmt.Errorf("%w: amount %q", shared.ErrValidation, req.Amount))
		return
	}
	in := brokerage.SettlementInput{Amount: amount, Date: parseDate(req.Date), Method: req.Method, Reference: req.Reference}

	ob, event, err := h.service.RecordSettlement(r.Context(), id, in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.evict(r.Context(), ob.BrokerID)
	httpx.JSON(w, http.StatusCreated, settlementResponse{Obligation: ob, Settlement: &event})
}

func (h *Handler) handleSettleInFull(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "obligationID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req settleInFullRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := brokerage.SettlementInput{Date: parseDate(req.Date), Method: req.Method, Reference: req.Reference}

	ob, event, err := h.service.MarkFullyPaid(r.Context(), id, in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusOK
	if event != nil {
		status = http.StatusCreated
		h.evict(r.Context(), ob.BrokerID)
	}
	httpx.JSON(w, status, settlementResponse{Obligation: ob, Settlement: event})
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "obligationID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.NetBrokerage)
	if err != nil {
		h.respondError(w, fmt.Errorf("%w: net_brokerage %q", shared.ErrValidation, req.NetBrokerage))
		return
	}

	ob, err := h.service.OverrideObligationAmount(r.Context(), id, brokerage.OverrideInput{NetBrokerage: amount, Reason: req.Reason})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.evict(r.Context(), ob.BrokerID)
	httpx.JSON(w, http.StatusOK, ob)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "obligationID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	settlementID, err := uuid.Parse(chi.URLParam(r, "settlementID"))
	if err != nil {
		h.respondError(w, fmt.Errorf("%w: settlement id", shared.ErrValidation))
		return
	}
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	ob, err := h.service.SetSettlementVerified(r.Context(), id, settlementID, *req.Verified)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ob)
}

func (h *Handler) handleComparison(w http.ResponseWriter, r *http.Request) {
	merchantID, err := httpx.PathInt64(r, "merchantID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	fyID, err := httpx.PathInt64(r, "fyID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	cmp, err := h.history.CompareWithPriorYear(r.Context(), merchantID, fyID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cmp)
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	brokerID, err := httpx.PathInt64(r, "brokerID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	fyID, err := httpx.PathInt64(r, "fyID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	snaps, err := h.history.ListSnapshots(r.Context(), brokerID, fyID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snaps)
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.respondError(w, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		fields := make([]string, 0)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fieldErr := range verrs {
				fields = append(fields, fmt.Sprintf("%s: %s", fieldErr.Field(), fieldErr.Tag()))
			}
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(fields, "; "))
		return false
	}
	return true
}

// evict invalidates the broker's analytics after a committed change. Failures
// only leave stale cache entries behind, so they are logged and not returned.
func (h *Handler) evict(ctx context.Context, brokerID int64) {
	if h.cache == nil || brokerID <= 0 {
		return
	}
	if err := h.cache.EvictBroker(ctx, brokerID); err != nil {
		h.logger.Warn("evict analytics cache", slog.Int64("broker_id", brokerID), slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error("brokerage request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	// Validated by the datetime tag already.
	t, _ := time.Parse("2006-01-02", v)
	return t
}
