// Package metrics defines the bridge's Prometheus collectors and the
// Record* helpers that wrap them (spec §6 "Emitted interfaces").
//
// Grounded on the shape exercised by jordigilh-kubernaut's pkg/metrics
// package: package-level collector variables registered once at package
// init, plus a thin Record* function per collector so call sites never touch
// a *prometheus.CounterVec directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SwapsTotal counts swaps reaching a terminal state, labeled by the
	// terminal status (completed/refunded/rejected/manual_recovery) — spec
	// §6 "swap throughput by terminal state".
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "swaps_total",
		Help:      "Total swaps reaching a terminal state, labeled by terminal status.",
	}, []string{"status", "source_chain", "dest_chain"})

	// AdapterSubmitDuration tracks chain-adapter Submit call latency.
	AdapterSubmitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bridge",
		Name:      "adapter_submit_duration_seconds",
		Help:      "Chain adapter Submit() call latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain_id", "step"})

	// AdapterConfirmDuration tracks chain-adapter Confirm call latency.
	AdapterConfirmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bridge",
		Name:      "adapter_confirm_duration_seconds",
		Help:      "Chain adapter Confirm() call latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain_id"})

	// AdapterErrorsTotal counts adapter failures by error kind
	// (ErrTransient/ErrTerminal) so alerting can distinguish retryable churn
	// from hard failures.
	AdapterErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "adapter_errors_total",
		Help:      "Chain adapter errors, labeled by chain and error kind.",
	}, []string{"chain_id", "kind"})

	// RiskDecisionsTotal counts risk-gate outcomes by action and level (spec
	// §6 "risk-decision distribution").
	RiskDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "risk_decisions_total",
		Help:      "Risk gate decisions, labeled by action and level.",
	}, []string{"action", "level"})

	// RiskScorerDuration tracks the external scorer RPC latency; compared
	// against the gate's hard 2s timeout for alerting.
	RiskScorerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bridge",
		Name:      "risk_scorer_duration_seconds",
		Help:      "External risk scorer RPC latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3},
	})

	// PriceProviderRequestsTotal counts price-provider fetch attempts by
	// outcome (ok/stale/low_confidence/error) — spec §6 "price-provider
	// success rate".
	PriceProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "price_provider_requests_total",
		Help:      "Price provider fetch attempts, labeled by provider and outcome.",
	}, []string{"provider", "outcome"})

	// PriceAggregationVolatileTotal counts quotes flagged high-volatility.
	PriceAggregationVolatileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "price_aggregation_volatile_total",
		Help:      "Aggregated quotes flagged as high volatility, labeled by pair.",
	}, []string{"pair"})

	// KeystoreOperationsTotal counts key-store operations by kind and
	// outcome (spec §6 "key-store operations").
	KeystoreOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "keystore_operations_total",
		Help:      "Quantum key-store operations, labeled by operation and outcome.",
	}, []string{"operation", "outcome"})

	// SupervisorDeadlineFiredTotal counts Supervisor-forced compensating
	// transitions, labeled by the resulting status.
	SupervisorDeadlineFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "supervisor_deadline_fired_total",
		Help:      "Deadline-triggered compensating transitions forced by the Supervisor.",
	}, []string{"from_status", "to_status"})

	// EventBusLaggedTotal counts Lagged notices delivered to subscribers
	// that could not keep up with publish rate.
	EventBusLaggedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "eventbus_lagged_total",
		Help:      "Lagged notices delivered to slow event bus subscribers, labeled by subject.",
	}, []string{"subject"})
)

// RecordSwapTerminal records a swap reaching a terminal state.
func RecordSwapTerminal(status, sourceChain, destChain string) {
	SwapsTotal.WithLabelValues(status, sourceChain, destChain).Inc()
}

// RecordAdapterSubmit records a chain adapter Submit() call's latency.
func RecordAdapterSubmit(chainID, step string, d time.Duration) {
	AdapterSubmitDuration.WithLabelValues(chainID, step).Observe(d.Seconds())
}

// RecordAdapterConfirm records a chain adapter Confirm() call's latency.
func RecordAdapterConfirm(chainID string, d time.Duration) {
	AdapterConfirmDuration.WithLabelValues(chainID).Observe(d.Seconds())
}

// RecordAdapterError records an adapter failure by chain and error kind
// ("transient" or "terminal").
func RecordAdapterError(chainID, kind string) {
	AdapterErrorsTotal.WithLabelValues(chainID, kind).Inc()
}

// RecordRiskDecision records a risk-gate decision's action and level.
func RecordRiskDecision(action, level string) {
	RiskDecisionsTotal.WithLabelValues(action, level).Inc()
}

// RecordRiskScorerLatency records the external scorer RPC's latency.
func RecordRiskScorerLatency(d time.Duration) {
	RiskScorerDuration.Observe(d.Seconds())
}

// RecordPriceProviderRequest records a price-provider fetch outcome.
func RecordPriceProviderRequest(provider, outcome string) {
	PriceProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordHighVolatilityQuote records a quote flagged high-volatility.
func RecordHighVolatilityQuote(pair string) {
	PriceAggregationVolatileTotal.WithLabelValues(pair).Inc()
}

// RecordKeystoreOperation records a key-store operation outcome.
func RecordKeystoreOperation(operation, outcome string) {
	KeystoreOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordSupervisorDeadlineFired records a Supervisor-forced transition.
func RecordSupervisorDeadlineFired(fromStatus, toStatus string) {
	SupervisorDeadlineFiredTotal.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordEventBusLagged records a Lagged notice delivered on a subject.
func RecordEventBusLagged(subject string) {
	EventBusLaggedTotal.WithLabelValues(subject).Inc()
}
