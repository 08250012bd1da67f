package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sweep metrics
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_sweep_runs_total",
			Help: "Total number of sweep runs",
		},
		[]string{"status"}, // status: ok, busy, cancelled
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertd_sweep_duration_seconds",
			Help:    "Duration of a full sweep in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	RuleOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_rule_outcomes_total",
			Help: "Rule evaluation outcomes",
		},
		[]string{"rule_type", "outcome"}, // outcome: suppressed, quiet, triggered, failed
	)

	RuleEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alertd_rule_evaluation_duration_seconds",
			Help:    "Duration of a single rule evaluation in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"rule_type"},
	)

	// Dispatch metrics
	DispatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_dispatch_runs_total",
			Help: "Total number of dispatcher runs",
		},
		[]string{"status"},
	)

	DispatchBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertd_dispatch_batch_size",
			Help:    "Number of due entries selected per dispatcher run",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_deliveries_total",
			Help: "Channel delivery attempts",
		},
		[]string{"channel", "result"}, // result: ok, error
	)

	EntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_outbox_entries_total",
			Help: "Outbox entries by final dispatch status",
		},
		[]string{"status"}, // status: sent, failed, skipped
	)

	// Requeue metrics
	RequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_requeued_total",
			Help: "Failed entries moved back to pending",
		},
	)

	ClaimsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_claims_expired_total",
			Help: "Processing entries released as failed after the claim TTL",
		},
	)

	// Rule file metrics
	RuleReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_rule_reloads_total",
			Help: "Rule file reload attempts",
		},
		[]string{"status"},
	)

	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertd_rules_loaded",
			Help: "Enabled, valid rules currently loaded",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_http_requests_total",
			Help: "Total number of admin HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
)
