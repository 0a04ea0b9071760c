// Package metrics holds the Prometheus collectors of the story ledger.
//
// Collectors are package-level and registered on the default registry, which
// the api package exposes at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storyledger"

// =============================================================================
// SETTLEMENT
// =============================================================================

// Purchases counts settlement attempts by outcome
// (ok, already_granted, insufficient_funds, gone, private, aborted, error).
var Purchases = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "settlement",
	Name:      "purchases_total",
	Help:      "Total purchase attempts by outcome.",
}, []string{"outcome"})

// PointsMoved counts points moved by descriptor.
var PointsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "points_total",
	Help:      "Total points posted to the ledger by descriptor.",
}, []string{"descriptor"})

// TxRetries counts units of work restarted after a storage conflict.
var TxRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "store",
	Name:      "tx_retries_total",
	Help:      "Total transaction restarts caused by busy or locked storage.",
})

// =============================================================================
// ACCESS
// =============================================================================

// AccessDecisions counts resolver outcomes: owner, granted_live,
// granted_snapshot, purchased, or denied_<reason>.
var AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "access",
	Name:      "decisions_total",
	Help:      "Total read-access decisions by result.",
}, []string{"result"})

// =============================================================================
// REWARDS
// =============================================================================

// Rewards counts reward attempts by kind (daily, weekly) and result
// (awarded, duplicate, ineligible, failed).
var Rewards = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "rewards",
	Name:      "attempts_total",
	Help:      "Total reward attempts by kind and result.",
}, []string{"kind", "result"})

// =============================================================================
// TOKENS & GENERATION
// =============================================================================

// TokensConsumed counts genre tokens consumed.
var TokensConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "inventory",
	Name:      "tokens_consumed_total",
	Help:      "Total genre tokens consumed by genre.",
}, []string{"genre"})

// GenerationLatency observes calls to the generation service.
var GenerationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "generation",
	Name:      "latency_seconds",
	Help:      "Generation service latency by result.",
	Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
}, []string{"result"})

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// NotificationFailures counts notifications that could not be delivered.
var NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "failures_total",
	Help:      "Total notification delivery failures by kind.",
}, []string{"kind"})
