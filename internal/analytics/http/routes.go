package analytichttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/brokerage/internal/platform/httpx"
)

// MountRoutes registers analytics endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(30, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "")
		}),
	)

	r.Get("/brokers/{brokerID}/financial-years/{fyID}/analytics", h.handleAnalytics)
	r.Get("/brokers/{brokerID}/financial-years/{fyID}/top/{board}", h.handleTop)
	r.Post("/brokers/{brokerID}/cache/evict", h.handleEvict)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/brokers/{brokerID}/financial-years/{fyID}/dashboard", h.handleDashboard)
	})
}
