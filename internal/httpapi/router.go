package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/metrics"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/service"
)

func NewRouter(svc *service.Service) http.Handler {
	h := NewHandlers(svc)
	metrics.RegisterMetrics()

	r := chi.NewRouter()
	r.Use(RequestID, Logging, Recovery, CallerID)

	r.Route("/v1/listings", func(api chi.Router) {
		api.Post("/", h.ListItem)
		api.Get("/", h.ListListings)
		api.Route("/{collection}/{tokenID}", func(item chi.Router) {
			item.Get("/", h.GetListing)
			item.Put("/", h.UpdateListing)
			item.Delete("/", h.CancelListing)
			item.Post("/purchase", h.BuyItem)
		})
	})

	r.Route("/v1/proceeds", func(api chi.Router) {
		api.Post("/withdraw", h.WithdrawProceeds)
		api.Get("/{seller}", h.GetProceeds)
		api.Get("/{seller}/entries", h.ListEntries)
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
