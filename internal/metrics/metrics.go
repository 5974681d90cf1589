// Package metrics exposes the Prometheus registry the Engine (component
// G) and the HTTP control plane (component H) share. Grounded on atlas
// trading-backend's internal/metrics package for the
// counter/gauge-per-concern layout, adapted from order/trade metrics to
// the regime/liquidity/ingest domain this system covers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the system publishes. A single instance is
// constructed at startup and handed to the Engine and the HTTP server.
type Registry struct {
	reg *prometheus.Registry

	WhaleIntentsTotal       prometheus.Counter
	DerivativesUpdatesTotal *prometheus.CounterVec
	OrderBookTicksTotal     prometheus.Counter

	TasksExecutedTotal *prometheus.CounterVec
	TasksFailedTotal   *prometheus.CounterVec
	TaskQueueDepth     prometheus.Gauge

	ComponentHealth *prometheus.GaugeVec

	DLSGauge        prometheus.Gauge
	PercentileGauge prometheus.Gauge
	PressureGauge   prometheus.Gauge
	MomentumGauge   prometheus.Gauge

	RegimesDetectedTotal *prometheus.CounterVec
	ForcedDiagnosticsTotal prometheus.Counter

	LogSuppressedTotal prometheus.Counter
}

// New builds a Registry backed by a fresh prometheus.Registry (not the
// global default — the Engine owns its own registry instance so tests
// can construct multiple Registries without collector-already-registered
// panics).
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		WhaleIntentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_whale_intents_total",
			Help: "Whale intents decoded from native transactions and ERC-20 transfer logs.",
		}),
		DerivativesUpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_derivatives_updates_total",
			Help: "Derivatives telemetry updates processed, labeled by stream.",
		}, []string{"stream"}),
		OrderBookTicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_orderbook_ticks_total",
			Help: "Order-book snapshots published to the Engine.",
		}),

		TasksExecutedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_tasks_executed_total",
			Help: "Scheduled tasks completed successfully, labeled by task type.",
		}, []string{"type"}),
		TasksFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_tasks_failed_total",
			Help: "Scheduled tasks that exhausted retries, labeled by task type.",
		}, []string{"type"}),
		TaskQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_task_queue_depth",
			Help: "Pending task count in the scheduler queue.",
		}),

		ComponentHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketpulse_component_health",
			Help: "Per-component health: 2=ONLINE, 1=LIMITED, 0=OFFLINE.",
		}, []string{"component"}),

		DLSGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_dls",
			Help: "Latest Dynamic Liquidity Score.",
		}),
		PercentileGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_dls_percentile",
			Help: "Latest DLS 24h rolling percentile rank.",
		}),
		PressureGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_pressure",
			Help: "Latest order-book pressure scalar (ask volume / bid volume).",
		}),
		MomentumGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_momentum",
			Help: "Latest price momentum over the rolling window.",
		}),

		RegimesDetectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_regimes_detected_total",
			Help: "Non-NO_REGIME classifications, labeled by regime.",
		}, []string{"regime"}),
		ForcedDiagnosticsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_forced_diagnostics_total",
			Help: "Forced-diagnostic heartbeats emitted during classifier silence.",
		}),

		LogSuppressedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_log_suppressed_total",
			Help: "Log emissions suppressed by the stateful logger's dedupe cache.",
		}),
	}
}

// Gatherer exposes the underlying registry for the /metrics HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// HealthValue maps a domain.HealthState-shaped string to the gauge scale
// ComponentHealth uses. Accepting a plain string (rather than importing
// domain) keeps this package free of a domain dependency its tests don't
// need.
func HealthValue(state string) float64 {
	switch state {
	case "ONLINE":
		return 2
	case "LIMITED":
		return 1
	default:
		return 0
	}
}
