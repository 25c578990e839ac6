package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service counters. All counters are registered on the
// registry handed to New, never on the global default.
type Metrics struct {
	NotificationsProcessed *prometheus.CounterVec
	MatchesByTier          *prometheus.CounterVec
	OrdersCreated          prometheus.Counter
	RotationAdvances       prometheus.Counter
	UnmatchedPayments      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NotificationsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matcher",
			Name:      "notifications_processed_total",
			Help:      "Inbound notifications processed, by disposition outcome.",
		}, []string{"outcome"}),
		MatchesByTier: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matcher",
			Name:      "matches_total",
			Help:      "Match attempts that reached a decision, by tier.",
		}, []string{"tier"}),
		OrdersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "matcher",
			Name:      "orders_created_total",
			Help:      "Orders created through the API.",
		}),
		RotationAdvances: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "matcher",
			Name:      "rotation_advances_total",
			Help:      "Times the alias rotation cursor moved to the next ring position.",
		}),
		UnmatchedPayments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "matcher",
			Name:      "unmatched_payments_total",
			Help:      "Payments recorded for manual triage.",
		}),
	}
}
