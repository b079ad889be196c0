// Package metrics holds the Prometheus collectors of the billing service.
// Collectors are package variables so every component can record without
// plumbing; Init registers them once with the default registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Webhook events received, by event type and outcome",
		},
		[]string{"type", "outcome"},
	)

	SweepRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_trial_sweep_rows_total",
			Help: "Trial sweep rows by result (found, expired, error)",
		},
		[]string{"result"},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_trial_sweep_duration_seconds",
			Help:    "Duration of trial expiration sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_notifications_total",
			Help: "Notification delivery results by template and result (sent, retry, dead_letter)",
		},
		[]string{"template", "result"},
	)

	EntitlementDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_entitlement_decisions_total",
			Help: "Entitlement checks by decision code",
		},
		[]string{"code"},
	)
)

// Webhook outcomes.
const (
	OutcomeProcessed        = "processed"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeFailed           = "failed"
	OutcomeRejected         = "rejected"
)

var initOnce sync.Once

// Init registers metrics with Prometheus. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			WebhookEvents,
			SweepRows,
			SweepDuration,
			Notifications,
			EntitlementDecisions,
		)
	})
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
