// Package domain holds the shared types that flow between components:
// order-book snapshots, liquidity samples, side-channel alerts, classifier
// decisions and scheduler tasks. Every sub-package borrows these as
// immutable values; none of them own a mutex of their own.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single bid or ask level in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBookSnapshot is a top-N view of both sides of one symbol's book at an instant.
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []PriceLevel // descending by price
	Asks      []PriceLevel // ascending by price
	UpdateID  int64
	Timestamp time.Time
}

// Valid reports whether the snapshot satisfies the invariants spec.md §3
// requires: non-empty sides, best bid < best ask, positive quantities.
func (s OrderBookSnapshot) Valid() bool {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return false
	}
	if !s.Bids[0].Price.LessThan(s.Asks[0].Price) {
		return false
	}
	for _, l := range s.Bids {
		if !l.Qty.IsPositive() {
			return false
		}
	}
	for _, l := range s.Asks {
		if !l.Qty.IsPositive() {
			return false
		}
	}
	return true
}

// MidPrice returns (bestBid+bestAsk)/2 as a float64. Caller must ensure Valid().
func (s OrderBookSnapshot) MidPrice() float64 {
	bid, _ := s.Bids[0].Price.Float64()
	ask, _ := s.Asks[0].Price.Float64()
	return (bid + ask) / 2
}

// LiquidityRegime buckets a DLS/percentile reading into a coarse label.
type LiquidityRegime string

const (
	RegimeUltraHigh LiquidityRegime = "ULTRA_HIGH"
	RegimeHigh      LiquidityRegime = "HIGH"
	RegimeNormal    LiquidityRegime = "NORMAL"
	RegimeLow       LiquidityRegime = "LOW"
	RegimeCritical  LiquidityRegime = "CRITICAL"
)

// SampleStatus flags whether a LiquiditySample is trustworthy.
type SampleStatus string

const (
	StatusOK           SampleStatus = "OK"
	StatusInvalidData  SampleStatus = "INVALID_DATA"
)

// LiquiditySample is produced once per order-book snapshot by the DLA.
type LiquiditySample struct {
	DLS              int
	Percentile       int
	Regime           LiquidityRegime
	IsValidForSignal bool
	Status           SampleStatus
	Timestamp        time.Time
}

// LiquidityEventType names the derived events the DLA emits on percentile
// crossings (spec.md §4.4).
type LiquidityEventType string

const (
	EventHighLiquidityRegime    LiquidityEventType = "HIGH_LIQUIDITY_REGIME"
	EventLowLiquidityWarning    LiquidityEventType = "LOW_LIQUIDITY_WARNING"
	EventCriticalLiquidity      LiquidityEventType = "CRITICAL_LIQUIDITY_DETECTED"
)

// LiquidityEvent carries one of the above, timestamped.
type LiquidityEvent struct {
	Type      LiquidityEventType
	Percentile int
	Timestamp time.Time
}

// ThreatLevel grades a whale intent's urgency.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// WhaleIntent is a transient side-channel observation of a pending or
// just-confirmed high-value transfer.
type WhaleIntent struct {
	ID                string
	WhaleAddress      string
	EstimatedValueUSD float64
	TargetExchange    string
	ThreatLevel       ThreatLevel
	DetectionLatency  time.Duration
	Timestamp         time.Time
}

// ValidUntil is the 30s validity window spec.md §3 assigns whale intents.
func (w WhaleIntent) ValidUntil() time.Time {
	return w.Timestamp.Add(30 * time.Second)
}

// DerivativesAlertType names the side-channel alert kinds.
type DerivativesAlertType string

const (
	AlertOISpike         DerivativesAlertType = "OI_SPIKE"
	AlertFundingSpike    DerivativesAlertType = "FUNDING_SPIKE"
	AlertHighVolatility  DerivativesAlertType = "HIGH_VOLATILITY"
	AlertWhaleSpike      DerivativesAlertType = "WHALE_SPIKE"
)

// DerivativesAlert is a time-bounded record that relaxes the classifier's
// adaptive DLS threshold while active.
type DerivativesAlert struct {
	ID        string
	Type      DerivativesAlertType
	Data      map[string]any
	Timestamp time.Time
	ExpiresAt time.Time
}

// Expired reports whether the alert is no longer active as of now.
func (a DerivativesAlert) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// Regime is the classifier's output label.
type Regime string

const (
	RegimeCascadeHunter    Regime = "CASCADE_HUNTER"
	RegimeCoilWatcher      Regime = "COIL_WATCHER"
	RegimeShakeoutDetector Regime = "SHAKEOUT_DETECTOR"
	RegimeNone             Regime = "NO_REGIME"
)

// CheckResult is one regime rule's PASS/FAIL outcome with failure reasons.
type CheckResult struct {
	Regime  Regime
	Passed  bool
	Reasons []string
}

// ThresholdReport documents the adaptive DLS threshold overlay that produced
// a ClassifierDecision (spec.md §4.5 observability requirement).
type ThresholdReport struct {
	Base          float64
	Effective     float64
	Floor         float64
	Reductions    float64
	ActiveAlerts  []string
}

// ClassifierInputs is the per-tick tuple the classifier evaluates.
type ClassifierInputs struct {
	Price         float64
	DLSScore      int
	DLSPercentile int
	Pressure      float64
	Momentum      float64
	Timestamp     time.Time
}

// ClassifierDecision is the classifier's full, observable output for one
// tick: the regime label plus the "Glass Box" diagnostic trail.
type ClassifierDecision struct {
	Regime     Regime
	Confidence float64
	Inputs     ClassifierInputs
	Checks     []CheckResult
	Threshold  ThresholdReport
	Forced     bool
	SilenceFor time.Duration
	Timestamp  time.Time
}

// TaskStatus is the lifecycle state of a scheduled Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// TaskType enumerates the worker-implementable job kinds (spec.md §4.2).
type TaskType string

const (
	TaskWhaleBalanceCheck TaskType = "WHALE_BALANCE_CHECK"
	TaskSystemHealthCheck TaskType = "SYSTEM_HEALTH_CHECK"
	TaskPerformanceMetrics TaskType = "PERFORMANCE_METRICS"
	TaskAPIHealthCheck    TaskType = "API_HEALTH_CHECK"
	TaskMemoryCleanup     TaskType = "MEMORY_CLEANUP"
)

// Task is one unit of scheduled work.
type Task struct {
	ID           string
	Type         TaskType
	Priority     int // 1-10, higher first
	Payload      map[string]any
	RetryCount   int
	MaxRetries   int
	TimeoutMs    int
	ScheduledAt  time.Time
	Dependencies []string
	Status       TaskStatus

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	LastError   string
}

// ErrKind classifies failures per spec.md §7's error taxonomy. It is not a
// Go error type itself — it tags an error for the health/metrics surface.
type ErrKind string

const (
	ErrTransientNetwork  ErrKind = "TRANSIENT_NETWORK"
	ErrProviderRejection ErrKind = "PROVIDER_REJECTION"
	ErrMalformedInput    ErrKind = "MALFORMED_INPUT"
	ErrInvariantViolation ErrKind = "INVARIANT_VIOLATION"
	ErrResourceExhaustion ErrKind = "RESOURCE_EXHAUSTION"
	ErrFatal             ErrKind = "FATAL"
)

// HealthState is a component's reported health for /health and /status.
type HealthState string

const (
	HealthOnline  HealthState = "ONLINE"
	HealthLimited HealthState = "LIMITED"
	HealthOffline HealthState = "OFFLINE"
)
