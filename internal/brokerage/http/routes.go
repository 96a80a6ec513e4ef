package brokeragehttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/brokerage/internal/platform/httpx"
)

// MountRoutes registers obligation endpoints on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	// A computation pass touches every merchant of a broker; keep triggers rare.
	computeLimiter := httprate.Limit(6, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "")
		}),
	)
	r.With(computeLimiter).Post("/brokers/{brokerID}/computations", h.handleCompute)

	r.Get("/brokers/{brokerID}/financial-years/{fyID}/obligations", h.handleListObligations)
	r.Get("/brokers/{brokerID}/financial-years/{fyID}/snapshots", h.handleListSnapshots)
	r.Get("/merchants/{merchantID}/financial-years/{fyID}/comparison", h.handleComparison)
	r.Route("/obligations/{obligationID}", func(r chi.Router) {
		r.Get("/", h.handleGetObligation)
		r.Post("/settlements", h.handleRecordSettlement)
		r.Post("/settle-in-full", h.handleSettleInFull)
		r.Post("/override", h.handleOverride)
		r.Put("/settlements/{settlementID}/verified", h.handleVerify)
	})
}
