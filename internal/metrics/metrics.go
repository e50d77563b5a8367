// Package metrics holds the Prometheus collectors and the HTTP server that
// exposes them alongside the web UI.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "myfriend"

var (
	ThoughtOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thought_outcomes_total",
			Help:      "Proactive cycles by final state.",
		},
		[]string{"state"},
	)

	ProactiveMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proactive_messages_total",
			Help:      "Proactive messages delivered, by trigger.",
		},
		[]string{"trigger"},
	)

	ClassifierDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_decisions_total",
			Help:      "Inbound message classifications by action.",
		},
		[]string{"action"},
	)

	Shares = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shares_total",
			Help:      "Articles shared with users.",
		},
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Per-user cycle latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"cycle"},
	)

	CycleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Per-user cycles that returned an error, panicked or timed out.",
		},
		[]string{"cycle"},
	)

	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages accepted by the gateway, by channel.",
		},
		[]string{"channel"},
	)
)

// ObserveCycle records the duration since start for the named cycle.
func ObserveCycle(cycle string, start time.Time) {
	CycleDuration.WithLabelValues(cycle).Observe(time.Since(start).Seconds())
}
