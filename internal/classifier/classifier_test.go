package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/domain"
)

func TestClassifyDetectsCascadeHunter(t *testing.T) {
	c := New(ProfileAggressive)
	now := time.Now()

	decision := c.Classify(domain.ClassifierInputs{
		Price: 3000, DLSScore: 80, DLSPercentile: 90, Pressure: 2.0, Momentum: -0.3, Timestamp: now,
	})

	assert.Equal(t, domain.RegimeCascadeHunter, decision.Regime)
	assert.Greater(t, decision.Confidence, 0.0)
	assert.False(t, decision.Forced)
}

func TestClassifyDetectsCoilWatcher(t *testing.T) {
	c := New(ProfileAggressive)
	decision := c.Classify(domain.ClassifierInputs{
		Price: 3000, DLSScore: 90, DLSPercentile: 95, Pressure: 0.5, Momentum: 0.0, Timestamp: time.Now(),
	})
	assert.Equal(t, domain.RegimeCoilWatcher, decision.Regime)
}

func TestClassifyDetectsShakeoutDetector(t *testing.T) {
	c := New(ProfileAggressive)
	decision := c.Classify(domain.ClassifierInputs{
		Price: 3000, DLSScore: 85, DLSPercentile: 85, Pressure: 0.5, Momentum: -0.3, Timestamp: time.Now(),
	})
	assert.Equal(t, domain.RegimeShakeoutDetector, decision.Regime)
}

// The following three tests run the literal fixtures spec.md §8's
// "concrete end-to-end scenarios" specify, against the aggressive
// profile's literal default thresholds (not invented round numbers) —
// exercising the exact boundary values the defaults are calibrated to.

func TestClassifyScenario1CascadeFiresAtBoundary(t *testing.T) {
	c := New(ProfileAggressive)
	decision := c.Classify(domain.ClassifierInputs{
		Price: 3500, DLSScore: 50, DLSPercentile: 50, Pressure: 1.000015, Momentum: -0.06, Timestamp: time.Now(),
	})
	assert.Equal(t, domain.RegimeCascadeHunter, decision.Regime)
}

func TestClassifyScenario2CoilDetected(t *testing.T) {
	c := New(ProfileAggressive)
	decision := c.Classify(domain.ClassifierInputs{
		Price: 3500, DLSScore: 90, DLSPercentile: 90, Pressure: 1.000003, Momentum: 0.01, Timestamp: time.Now(),
	})
	assert.Equal(t, domain.RegimeCoilWatcher, decision.Regime)
}

func TestClassifyScenario3ShakeoutDetected(t *testing.T) {
	c := New(ProfileAggressive)
	decision := c.Classify(domain.ClassifierInputs{
		Price: 3500, DLSScore: 85, DLSPercentile: 85, Pressure: 1.0000005, Momentum: -0.15, Timestamp: time.Now(),
	})
	assert.Equal(t, domain.RegimeShakeoutDetector, decision.Regime)
}

func TestClassifyReturnsNoRegimeOnNeutralInputs(t *testing.T) {
	c := New(ProfileAggressive)
	decision := c.Classify(domain.ClassifierInputs{
		Price: 3000, DLSScore: 50, DLSPercentile: 50, Pressure: 1.0, Momentum: 0.0, Timestamp: time.Now(),
	})
	assert.Equal(t, domain.RegimeNone, decision.Regime)
	assert.Equal(t, 0.0, decision.Confidence)
}

func TestRegimesAreMutuallyExclusive(t *testing.T) {
	c := New(ProfileAggressive)
	decision := c.Classify(domain.ClassifierInputs{
		Price: 3000, DLSScore: 80, DLSPercentile: 90, Pressure: 2.0, Momentum: -0.3, Timestamp: time.Now(),
	})

	passCount := 0
	for _, check := range decision.Checks {
		if check.Passed {
			passCount++
		}
	}
	assert.LessOrEqual(t, passCount, 1, "at most one regime rule may pass per tick")
}

func TestAdaptiveThresholdOverlayLowersWithActiveAlerts(t *testing.T) {
	c := New(ProfileAggressive)
	now := time.Now()

	base := c.Classify(domain.ClassifierInputs{DLSPercentile: 60, Timestamp: now})
	assert.Equal(t, ProfileAggressive.BaseThresholdPercentile, base.Threshold.Effective)

	c.Observe(domain.DerivativesAlert{ID: "a1", Type: domain.AlertOISpike, Timestamp: now, ExpiresAt: now.Add(time.Minute)})
	after := c.Classify(domain.ClassifierInputs{DLSPercentile: 60, Timestamp: now})

	assert.Less(t, after.Threshold.Effective, base.Threshold.Effective)
	assert.Equal(t, ProfileAggressive.AlertAdjustment, after.Threshold.Reductions)
	assert.Contains(t, after.Threshold.ActiveAlerts, string(domain.AlertOISpike))
}

func TestAdaptiveThresholdClampsAtFloor(t *testing.T) {
	c := New(ProfileAggressive)
	now := time.Now()
	for i := 0; i < 10; i++ {
		c.Observe(domain.DerivativesAlert{ID: string(rune('a' + i)), Type: domain.AlertOISpike, Timestamp: now, ExpiresAt: now.Add(time.Minute)})
	}

	decision := c.Classify(domain.ClassifierInputs{DLSPercentile: 60, Timestamp: now})
	assert.GreaterOrEqual(t, decision.Threshold.Effective, ProfileAggressive.ThresholdFloor)
	assert.Equal(t, ProfileAggressive.ThresholdFloor, decision.Threshold.Effective)
}

func TestExpiredAlertsAreEvictedLazily(t *testing.T) {
	c := New(ProfileAggressive)
	now := time.Now()
	c.Observe(domain.DerivativesAlert{ID: "expiring", Type: domain.AlertFundingSpike, Timestamp: now, ExpiresAt: now.Add(-time.Second)})

	decision := c.Classify(domain.ClassifierInputs{DLSPercentile: 60, Timestamp: now})
	assert.Empty(t, decision.Threshold.ActiveAlerts)
	assert.Equal(t, ProfileAggressive.BaseThresholdPercentile, decision.Threshold.Effective)
}

func TestForcedDiagnosticNeverReturnsRegimeDetected(t *testing.T) {
	c := New(ProfileAggressive)
	now := time.Now()

	_, ok := c.ForcedDiagnostic(now)
	assert.False(t, ok, "forced diagnostic must not fire before the silence window elapses")

	later := now.Add(61 * time.Second)
	diag, ok := c.ForcedDiagnostic(later)
	require.True(t, ok)
	assert.Equal(t, domain.RegimeNone, diag.Regime)
	assert.True(t, diag.Forced)
	assert.Greater(t, diag.SilenceFor, 60*time.Second)
}

func TestForcedDiagnosticDoesNotRefireBeforeAnother60sSinceLastForced(t *testing.T) {
	c := New(ProfileAggressive)
	start := time.Now()

	first, ok := c.ForcedDiagnostic(start.Add(61 * time.Second))
	require.True(t, ok)
	assert.True(t, first.Forced)

	// Polled again at the Engine's default 5s heartbeat cadence: well
	// within 60s of the forced diagnostic that just fired.
	_, ok = c.ForcedDiagnostic(start.Add(66 * time.Second))
	assert.False(t, ok, "must not refire until another 60s has passed since the last forced diagnostic")

	second, ok := c.ForcedDiagnostic(start.Add(122 * time.Second))
	require.True(t, ok)
	assert.True(t, second.Forced)
}

func TestForcedDiagnosticResetsAfterClassify(t *testing.T) {
	c := New(ProfileAggressive)
	now := time.Now()
	c.Classify(domain.ClassifierInputs{DLSPercentile: 50, Pressure: 1.0, Momentum: 0, Timestamp: now})

	_, ok := c.ForcedDiagnostic(now.Add(30 * time.Second))
	assert.False(t, ok)
}

func TestProfileForDefaultsToAggressive(t *testing.T) {
	assert.Equal(t, "aggressive", ProfileFor("").Name)
	assert.Equal(t, "aggressive", ProfileFor("unknown").Name)
	assert.Equal(t, "conservative", ProfileFor("conservative").Name)
}
