// Package classifier implements the Market Classifier (component F): a
// pure decision function over per-tick inputs plus a side-channel alert
// set that adaptively relaxes the DLS threshold. Grounded on the atlas
// trading-backend's internal/regime/detector.go for the overall shape of
// a stateful-but-pure classifier (named thresholds, confidence scoring)
// and on the teacher's SignalFilter.Validate for the PASS/FAIL-with-reasons
// diagnostic style.
package classifier

import (
	"sync"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// forcedDiagnosticSilence is the heartbeat interval spec.md §4.5 requires:
// if no classification has occurred for this long, emit a diagnostic-only
// record that never produces REGIME_DETECTED.
const forcedDiagnosticSilence = 60 * time.Second

// Stats are cumulative counters included in every diagnostic record.
type Stats struct {
	Classifications  uint64
	RegimesDetected  uint64
	ForcedDiagnostics uint64
}

// Classifier holds the side-channel alert set and forced-diagnostic timer
// — the only state spec.md §4.5 permits outside of pure input evaluation.
type Classifier struct {
	profile Profile

	mu     sync.Mutex
	alerts map[string]domain.DerivativesAlert
	lastClassifiedAt time.Time
	lastForcedAt      time.Time
	stats  Stats
}

func New(profile Profile) *Classifier {
	return &Classifier{
		profile:          profile,
		alerts:           make(map[string]domain.DerivativesAlert),
		lastClassifiedAt: time.Now(),
	}
}

// Observe admits a side-channel alert (derivatives or whale-derived) into
// the active set; expired entries are evicted lazily on the next read.
func (c *Classifier) Observe(alert domain.DerivativesAlert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts[alert.ID] = alert
}

// Classify runs the full regime pipeline for one tick (spec.md §4.5).
func (c *Classifier) Classify(inputs domain.ClassifierInputs) domain.ClassifierDecision {
	c.mu.Lock()
	threshold := c.effectiveThresholdLocked(inputs.Timestamp)
	c.lastClassifiedAt = inputs.Timestamp
	c.stats.Classifications++
	c.mu.Unlock()

	checks := c.evaluateChecks(inputs, threshold.Effective)
	regime, confidence := pickRegime(checks, inputs, c.profile, threshold.Effective)

	if regime != domain.RegimeNone {
		c.mu.Lock()
		c.stats.RegimesDetected++
		c.mu.Unlock()
	}

	return domain.ClassifierDecision{
		Regime:     regime,
		Confidence: confidence,
		Inputs:     inputs,
		Checks:     checks,
		Threshold:  threshold,
		Forced:     false,
		SilenceFor: 0,
		Timestamp:  inputs.Timestamp,
	}
}

// ForcedDiagnostic returns a diagnostic-only record if the classifier has
// been silent for forcedDiagnosticSilence or more; it never sets Regime to
// anything but NO_REGIME and the Engine must never publish it as
// REGIME_DETECTED (spec.md §9 Open Question #3). Silence is measured from
// whichever is more recent of the last Classify call and the last forced
// diagnostic itself, so a caller polling faster than the 60s window (the
// Engine's default heartbeat ticks every 5s) gets exactly one forced
// diagnostic per window rather than one per poll (spec.md §8 scenario 6).
func (c *Classifier) ForcedDiagnostic(now time.Time) (domain.ClassifierDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reference := c.lastClassifiedAt
	if c.lastForcedAt.After(reference) {
		reference = c.lastForcedAt
	}
	silence := now.Sub(reference)
	if silence < forcedDiagnosticSilence {
		return domain.ClassifierDecision{}, false
	}

	c.lastForcedAt = now
	c.stats.ForcedDiagnostics++
	threshold := c.effectiveThresholdLocked(now)

	return domain.ClassifierDecision{
		Regime:     domain.RegimeNone,
		Confidence: 0,
		Threshold:  threshold,
		Forced:     true,
		SilenceFor: silence,
		Timestamp:  now,
	}, true
}

// Stats returns a snapshot of cumulative counters.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// effectiveThresholdLocked computes the adaptive DLS threshold overlay
// (spec.md §4.5): subtract AlertAdjustment per active, non-expired alert
// from the base, clamped at the floor. Must be called with c.mu held.
func (c *Classifier) effectiveThresholdLocked(now time.Time) domain.ThresholdReport {
	active := make([]string, 0, len(c.alerts))
	for id, a := range c.alerts {
		if a.Expired(now) {
			delete(c.alerts, id)
			continue
		}
		active = append(active, string(a.Type))
	}

	reduction := float64(len(active)) * c.profile.AlertAdjustment
	effective := c.profile.BaseThresholdPercentile - reduction
	if effective < c.profile.ThresholdFloor {
		effective = c.profile.ThresholdFloor
	}

	return domain.ThresholdReport{
		Base:         c.profile.BaseThresholdPercentile,
		Effective:    effective,
		Floor:        c.profile.ThresholdFloor,
		Reductions:   reduction,
		ActiveAlerts: active,
	}
}

// evaluateChecks produces the Glass Box PASS/FAIL trail for every regime,
// in rule order, with specific failure reasons (spec.md §4.5).
func (c *Classifier) evaluateChecks(in domain.ClassifierInputs, effectiveThreshold float64) []domain.CheckResult {
	p := c.profile
	eps := p.Epsilon
	pctl := float64(in.DLSPercentile)

	checks := make([]domain.CheckResult, 0, 3)

	// CASCADE_HUNTER
	{
		var reasons []string
		if in.Pressure < p.PressureCascade-eps {
			reasons = append(reasons, "Pressure")
		}
		if pctl < effectiveThreshold-eps {
			reasons = append(reasons, "Liquidity")
		}
		if in.Momentum > p.MomentumCascade+eps {
			reasons = append(reasons, "Momentum")
		}
		checks = append(checks, domain.CheckResult{Regime: domain.RegimeCascadeHunter, Passed: len(reasons) == 0, Reasons: reasons})
	}

	// COIL_WATCHER
	{
		var reasons []string
		if in.Pressure > p.PressureCoil+eps {
			reasons = append(reasons, "Pressure")
		}
		if pctl < 85-eps {
			reasons = append(reasons, "Liquidity")
		}
		if in.Momentum < p.MomentumCoilMin-eps || in.Momentum > p.MomentumCoilMax+eps {
			reasons = append(reasons, "Momentum")
		}
		checks = append(checks, domain.CheckResult{Regime: domain.RegimeCoilWatcher, Passed: len(reasons) == 0, Reasons: reasons})
	}

	// SHAKEOUT_DETECTOR
	{
		var reasons []string
		if in.Pressure > p.PressureShakeout+eps {
			reasons = append(reasons, "Pressure")
		}
		if pctl < 80-eps {
			reasons = append(reasons, "Liquidity")
		}
		if in.Momentum > p.MomentumShakeout+eps {
			reasons = append(reasons, "Momentum")
		}
		checks = append(checks, domain.CheckResult{Regime: domain.RegimeShakeoutDetector, Passed: len(reasons) == 0, Reasons: reasons})
	}

	return checks
}

// pickRegime applies "evaluated in order, first match wins" (spec.md
// §4.5) and scores confidence for whichever regime passed.
func pickRegime(checks []domain.CheckResult, in domain.ClassifierInputs, p Profile, effectiveThreshold float64) (domain.Regime, float64) {
	for _, c := range checks {
		if c.Passed {
			return c.Regime, confidenceFor(c.Regime, in, p, effectiveThreshold)
		}
	}
	return domain.RegimeNone, 0
}

// confidenceFor sums three clipped, linearly-weighted terms measuring how
// far pressure, DLS percentile and momentum exceeded their regime's
// required threshold (spec.md §4.5: weights are fixed for regression, not
// part of the correctness contract).
func confidenceFor(regime domain.Regime, in domain.ClassifierInputs, p Profile, effectiveThreshold float64) float64 {
	const wPressure, wLiquidity, wMomentum = 40.0, 35.0, 25.0
	pctl := float64(in.DLSPercentile)

	clip := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}

	var pressureTerm, liquidityTerm, momentumTerm float64
	switch regime {
	case domain.RegimeCascadeHunter:
		pressureTerm = clip((in.Pressure - p.PressureCascade) / (p.PressureCascade + 1))
		liquidityTerm = clip((pctl - effectiveThreshold) / (100 - effectiveThreshold + 1))
		momentumTerm = clip((p.MomentumCascade - in.Momentum) / (absF(p.MomentumCascade) + 0.01))
	case domain.RegimeCoilWatcher:
		pressureTerm = clip((p.PressureCoil - in.Pressure) / (p.PressureCoil + 1))
		liquidityTerm = clip((pctl - 85) / 15)
		band := p.MomentumCoilMax - p.MomentumCoilMin
		if band <= 0 {
			band = 0.01
		}
		momentumTerm = clip(1 - absF(in.Momentum)/band)
	case domain.RegimeShakeoutDetector:
		pressureTerm = clip((p.PressureShakeout - in.Pressure) / (p.PressureShakeout + 1))
		liquidityTerm = clip((pctl - 80) / 20)
		momentumTerm = clip((p.MomentumShakeout - in.Momentum) / (absF(p.MomentumShakeout) + 0.01))
	default:
		return 0
	}

	return clip(wPressure/100*pressureTerm+wLiquidity/100*liquidityTerm+wMomentum/100*momentumTerm) * 100
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
