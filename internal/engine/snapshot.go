package engine

import (
	"time"

	"github.com/marketpulse/engine/internal/classifier"
	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/logx"
	"github.com/marketpulse/engine/internal/scheduler"
)

// Snapshot is the metrics view the HTTP control plane's /status and
// /performance endpoints marshal (spec.md §4.6: "Expose a getMetrics()
// snapshot").
type Snapshot struct {
	UptimeSeconds float64
	Scheduler     scheduler.Metrics
	Classifier    classifier.Stats
	Logger        logx.Stats
	LastDecision  domain.ClassifierDecision
}

// Metrics returns a point-in-time Snapshot.
func (e *Engine) Metrics() Snapshot {
	e.mu.Lock()
	uptime := time.Since(e.startedAt)
	last := e.lastDecision
	e.mu.Unlock()

	return Snapshot{
		UptimeSeconds: uptime.Seconds(),
		Scheduler:     e.sched.Metrics(),
		Classifier:    e.clf.Stats(),
		Logger:        e.log.GetStats(),
		LastDecision:  last,
	}
}

// Health is the per-component health map spec.md §4.6's "systemHealth
// map" names, plus the collapsed overall state /health reports.
type Health struct {
	Ingest   ingestHealthView
	Notifier domain.HealthState
	Overall  domain.HealthState
}

type ingestHealthView struct {
	OrderBook   domain.HealthState
	Derivatives domain.HealthState
	Liquidation domain.HealthState
	Overall     domain.HealthState
}

// SystemHealth collapses every component's reported health.
func (e *Engine) SystemHealth() Health {
	h := Health{Notifier: domain.HealthOffline, Overall: domain.HealthOffline}

	if e.supervisor != nil {
		ih := e.supervisor.Health()
		h.Ingest = ingestHealthView{
			OrderBook:   ih.OrderBook,
			Derivatives: ih.Derivatives,
			Liquidation: ih.Liquidation,
			Overall:     ih.Overall(),
		}
	} else {
		h.Ingest = ingestHealthView{Overall: domain.HealthOffline}
	}

	if e.notifier != nil {
		h.Notifier = domain.HealthOnline
	}

	h.Overall = overallOf(h.Ingest.Overall, h.Notifier)
	return h
}

func overallOf(states ...domain.HealthState) domain.HealthState {
	online, offline, total := 0, 0, 0
	for _, s := range states {
		total++
		switch s {
		case domain.HealthOnline:
			online++
		case domain.HealthOffline:
			offline++
		}
	}
	switch {
	case online == total:
		return domain.HealthOnline
	case offline == total:
		return domain.HealthOffline
	default:
		return domain.HealthLimited
	}
}
