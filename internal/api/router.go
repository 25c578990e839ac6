package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/metrics"
	"github.com/maplepay/matcher/internal/recon"
	"github.com/maplepay/matcher/internal/repository"
	"github.com/maplepay/matcher/internal/rotation"
)

// Deps bundles everything the handlers need.
type Deps struct {
	Orders       *repository.OrderRepo
	Aliases      *repository.AliasRepo
	Events       *repository.EventRepo
	Unmatched    *repository.UnmatchedRepo
	Notification *repository.NotificationRepo
	Selector     *rotation.Selector
	Processor    *recon.Processor
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry
	Log          *zap.Logger
	PendingTTL   time.Duration
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(d Deps) http.Handler {
	h := &Handlers{d: d}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		// Orders.
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{reference}", h.GetOrder)
		r.Post("/orders/{reference}/payment-sent", h.PaymentSent)

		// Notification intake.
		r.Post("/notifications", h.EnqueueNotification)

		// Unmatched payments and manual resolution.
		r.Get("/payments/unmatched", h.ListUnmatched)
		r.Post("/payments/unmatched/{id}/match", h.ManualMatch)

		// Alias administration.
		r.Get("/aliases", h.ListAliases)
		r.Post("/aliases", h.CreateAlias)
		r.Post("/aliases/{id}/activate", h.SetAliasActive(true))
		r.Post("/aliases/{id}/deactivate", h.SetAliasActive(false))
		r.Post("/aliases/reset-daily-totals", h.ResetDailyTotals)

		// Rotation administration.
		r.Get("/rotation", h.GetRotation)
		r.Post("/rotation/advance", h.AdvanceRotation)
		r.Post("/rotation/reset", h.ResetRotation)

		// Dashboard.
		r.Get("/dashboard", h.GetDashboard)
	})

	return r
}
