// Package engine implements the Engine/Orchestrator (component G): it
// wires the ingest supervisor, the Dynamic Liquidity Analyzer, the Market
// Classifier, the task scheduler and the Telegram sink, assembling one
// (price, DLS, pressure, momentum) tuple per order-book tick and
// publishing REGIME_DETECTED events to whoever subscribes. Grounded on
// the teacher's main.go wiring section (NewAnalyzer + CoinManager.Start's
// constructor-injection order) and on atlas trading-backend's
// internal/orchestrator/orchestrator.go for the lifecycle method names
// (initialize/start/shutdown in reverse order, metrics/health snapshots).
package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/marketpulse/engine/internal/classifier"
	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/ingest"
	"github.com/marketpulse/engine/internal/liquidity"
	"github.com/marketpulse/engine/internal/logx"
	"github.com/marketpulse/engine/internal/metrics"
	"github.com/marketpulse/engine/internal/notify"
	"github.com/marketpulse/engine/internal/scheduler"
)

// Config holds the orchestration knobs that are Engine's own, as opposed
// to the sub-component configs passed into their respective constructors.
type Config struct {
	Symbol         string
	PressureLevels int
	MomentumWindow time.Duration

	EtherscanAPIKey string
	EtherscanBaseURL string

	WatchlistAddresses   []string
	BalanceCheckInterval time.Duration
	APIHealthURLs        []string
	APIHealthInterval    time.Duration
	SystemHealthInterval time.Duration
	MemoryCleanupInterval time.Duration

	ForcedDiagnosticPoll time.Duration
}

// DefaultConfig mirrors spec.md §4.6's stated recurring-task defaults.
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:                symbol,
		PressureLevels:        50,
		MomentumWindow:        5 * time.Minute,
		BalanceCheckInterval:  10 * time.Minute,
		APIHealthInterval:     time.Minute,
		SystemHealthInterval:  30 * time.Second,
		MemoryCleanupInterval: 15 * time.Minute,
		ForcedDiagnosticPoll:  5 * time.Second,
	}
}

// Engine is component G. It owns no streams or sockets directly — those
// belong to the supervisor, scheduler and notifier it wires together —
// but it is the single serial consumer of order-book ticks, keeping the
// analyzer's ring and the classifier's diagnostic timer lock-free from
// the Engine's own point of view (spec.md §5).
type Engine struct {
	cfg Config
	log *logx.Logger
	met *metrics.Registry

	sched      *scheduler.Manager
	supervisor *ingest.Supervisor
	analyzer   *liquidity.Analyzer
	clf        *classifier.Classifier
	notifier   *notify.Sink

	momentum *momentumTracker

	mu           sync.Mutex
	startedAt    time.Time
	lastDecision domain.ClassifierDecision
	subscribers  []func(domain.ClassifierDecision)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine. The supervisor is attached separately via
// AttachSupervisor because its callbacks close over the Engine itself
// (spec.md §4.6's wiring order: Engine exists before its own inputs do).
func New(cfg Config, log *logx.Logger, met *metrics.Registry, sched *scheduler.Manager, analyzer *liquidity.Analyzer, clf *classifier.Classifier, notifier *notify.Sink) *Engine {
	return &Engine{
		cfg:      cfg,
		log:      log,
		met:      met,
		sched:    sched,
		analyzer: analyzer,
		clf:      clf,
		notifier: notifier,
		momentum: newMomentumTracker(cfg.MomentumWindow),
	}
}

// AttachSupervisor wires the ingest supervisor once both it and the
// Engine exist. Call before Start.
func (e *Engine) AttachSupervisor(sup *ingest.Supervisor) { e.supervisor = sup }

// OnRegimeDetected registers a subscriber invoked whenever a tick
// classifies into a non-NO_REGIME regime — the fan-out to "strategy
// consumers" spec.md §2's data-flow line describes. Trading-execution
// logic itself is a Non-goal; this hook only carries the event.
func (e *Engine) OnRegimeDetected(fn func(domain.ClassifierDecision)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// Initialize validates the components the spec treats as load-bearing
// and registers the scheduler's default task handlers. E and F failing
// to exist is fatal (spec.md §4.6); a missing notifier or supervisor is
// merely a degraded start, reported through SystemHealth once running.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.analyzer == nil {
		return errFatal("liquidity analyzer not configured")
	}
	if e.clf == nil {
		return errFatal("market classifier not configured")
	}

	e.sched.RegisterHandler(domain.TaskWhaleBalanceCheck, scheduler.WhaleBalanceCheckHandler(e.cfg.EtherscanAPIKey, e.cfg.EtherscanBaseURL))
	e.sched.RegisterHandler(domain.TaskSystemHealthCheck, scheduler.SystemHealthCheckHandler())
	e.sched.RegisterHandler(domain.TaskPerformanceMetrics, scheduler.PerformanceMetricsHandler())
	e.sched.RegisterHandler(domain.TaskAPIHealthCheck, scheduler.APIHealthCheckHandler())
	e.sched.RegisterHandler(domain.TaskMemoryCleanup, scheduler.MemoryCleanupHandler())

	if e.notifier == nil {
		e.log.Warn("engine.init", map[string]any{"degraded": "telegram sink not configured"})
	}
	if e.supervisor == nil {
		e.log.Warn("engine.init", map[string]any{"degraded": "ingest supervisor not attached"})
	}
	return nil
}

type errFatal string

func (e errFatal) Error() string { return string(e) }

// Start launches every owned goroutine: the scheduler tick loop, the
// ingest supervisor's streams, the Telegram sink's dequeue loop, the
// forced-diagnostic heartbeat, and the recurring-task re-submission
// loops (spec.md §4.6).
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.sched.Start(runCtx)

	if e.supervisor != nil {
		e.wg.Add(1)
		go func() { defer e.wg.Done(); e.supervisor.Run(runCtx) }()
	}
	if e.notifier != nil {
		e.wg.Add(1)
		go func() { defer e.wg.Done(); e.notifier.Run(runCtx) }()
	}

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.forcedDiagnosticLoop(runCtx) }()

	e.registerRecurringTasks(runCtx)
}

// Shutdown cancels every owned goroutine and waits (up to the
// scheduler's own shutdown deadline) for in-flight work to settle, in
// the reverse order Start brought components up.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	return e.sched.Shutdown(ctx)
}

// HandleSnapshot is the per-tick entry point the ingest supervisor's
// order-book stream invokes. It is the Engine's single logical consumer
// of ticks (spec.md §5): only one goroutine (the order-book stream's)
// ever calls this, so the analyzer's ring needs no external lock.
func (e *Engine) HandleSnapshot(snap domain.OrderBookSnapshot) {
	sample := e.analyzer.Analyze(snap)
	if e.met != nil {
		e.met.OrderBookTicksTotal.Inc()
	}
	if sample.Status != domain.StatusOK {
		e.log.Warn("engine.invalid_snapshot", map[string]any{"symbol": snap.Symbol})
		return
	}

	price := snap.MidPrice()
	e.momentum.Add(snap.Timestamp, price)
	momentum := e.momentum.Compute()
	pressure := Pressure(snap, e.cfg.PressureLevels)

	inputs := domain.ClassifierInputs{
		Price:         price,
		DLSScore:      sample.DLS,
		DLSPercentile: sample.Percentile,
		Pressure:      pressure,
		Momentum:      momentum,
		Timestamp:     snap.Timestamp,
	}
	decision := e.clf.Classify(inputs)

	if e.met != nil {
		e.met.DLSGauge.Set(float64(sample.DLS))
		e.met.PercentileGauge.Set(float64(sample.Percentile))
		e.met.PressureGauge.Set(pressure)
		e.met.MomentumGauge.Set(momentum)
	}

	e.log.Info("engine.tick", map[string]any{
		"regime": string(decision.Regime), "confidence": decision.Confidence,
		"dls": sample.DLS, "percentile": sample.Percentile,
	})

	if ev, ok := liquidity.DeriveEvent(sample.Percentile, snap.Timestamp); ok {
		e.log.Warn("liquidity.event", map[string]any{"type": string(ev.Type), "percentile": ev.Percentile})
	}

	e.mu.Lock()
	e.lastDecision = decision
	subs := append([]func(domain.ClassifierDecision){}, e.subscribers...)
	e.mu.Unlock()

	if decision.Regime == domain.RegimeNone {
		return
	}

	if e.met != nil {
		e.met.RegimesDetectedTotal.WithLabelValues(string(decision.Regime)).Inc()
	}
	if e.notifier != nil {
		e.notifier.Enqueue(regimeMessage(decision), priorityFor(decision.Regime))
	}
	for _, fn := range subs {
		fn(decision)
	}
}

// IntakeWhale forwards a decoded webhook payload to the attached
// supervisor (spec.md §6's whale webhook "marshals webhook payloads into
// D" — routed here so the HTTP control plane only ever depends on G).
func (e *Engine) IntakeWhale(payload ingest.WhaleTransactionsPayload) ingest.WhaleIntakeResult {
	if e.supervisor == nil {
		return ingest.WhaleIntakeResult{}
	}
	return e.supervisor.IntakeWhaleWebhook(payload)
}

// HandleAlert admits a derivatives/whale side-channel alert into the
// classifier's adaptive-threshold state.
func (e *Engine) HandleAlert(alert domain.DerivativesAlert) {
	e.clf.Observe(alert)
	if e.met != nil {
		e.met.DerivativesUpdatesTotal.WithLabelValues(string(alert.Type)).Inc()
	}
	e.log.Info("engine.alert", map[string]any{"type": string(alert.Type), "id": alert.ID})
}

// HandleIntent records a decoded whale intent for observability; the
// cluster-scoring that turns repeated intents into a WHALE_SPIKE alert
// lives in the ingest supervisor and arrives back through HandleAlert.
func (e *Engine) HandleIntent(intent domain.WhaleIntent) {
	if e.met != nil {
		e.met.WhaleIntentsTotal.Inc()
	}
	e.log.Info("engine.whale_intent", map[string]any{
		"id": intent.ID, "threat": string(intent.ThreatLevel), "usd": intent.EstimatedValueUSD,
	})
}

// forcedDiagnosticLoop polls the classifier for the 60s silence
// heartbeat and logs it — never a REGIME_DETECTED event (spec.md §9
// Open Question #3; enforced structurally inside classifier.Classifier).
func (e *Engine) forcedDiagnosticLoop(ctx context.Context) {
	poll := e.cfg.ForcedDiagnosticPoll
	if poll <= 0 {
		poll = 5 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if diag, ok := e.clf.ForcedDiagnostic(time.Now()); ok {
				if e.met != nil {
					e.met.ForcedDiagnosticsTotal.Inc()
				}
				e.log.Warn("classifier.forced_diagnostic", map[string]any{"silence_for": diag.SilenceFor.String()})
			}
		}
	}
}

func regimeMessage(d domain.ClassifierDecision) string {
	return "*" + string(d.Regime) + "* detected (confidence " + strconv.Itoa(int(d.Confidence)) + "%)"
}

func priorityFor(regime domain.Regime) notify.Priority {
	if regime == domain.RegimeCascadeHunter {
		return notify.PriorityCritical
	}
	return notify.PriorityHigh
}
