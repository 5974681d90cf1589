package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/marketpulse/engine/internal/classifier"
	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/liquidity"
	"github.com/marketpulse/engine/internal/logx"
	"github.com/marketpulse/engine/internal/metrics"
	"github.com/marketpulse/engine/internal/notify"
	"github.com/marketpulse/engine/internal/scheduler"
)

func lvl(price, qty float64) domain.PriceLevel {
	return domain.PriceLevel{Price: decimal.NewFromFloat(price), Qty: decimal.NewFromFloat(qty)}
}

// imbalancedSnapshot builds a book skewed heavily toward sell-side
// pressure (ask qty >> bid qty at every level) so Pressure() comfortably
// exceeds every profile's cascade threshold.
func imbalancedSnapshot(mid float64, at time.Time) domain.OrderBookSnapshot {
	bids := make([]domain.PriceLevel, 0, 50)
	asks := make([]domain.PriceLevel, 0, 50)
	for i := 0; i < 50; i++ {
		bids = append(bids, lvl(mid-float64(i)*0.1, 1))
		asks = append(asks, lvl(mid+0.1+float64(i)*0.1, 50))
	}
	return domain.OrderBookSnapshot{Symbol: "ETHUSDT", Bids: bids, Asks: asks, UpdateID: 1, Timestamp: at}
}

type recordingSender struct {
	sent []string
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.sent = append(r.sent, c.(tgbotapi.MessageConfig).Text)
	return tgbotapi.Message{}, nil
}

func newTestEngine(t *testing.T) (*Engine, *recordingSender) {
	t.Helper()
	log := logx.New()
	met := metrics.New()
	sched := scheduler.New(scheduler.DefaultConfig(), log)
	analyzer := liquidity.New(50, nil)
	clf := classifier.New(classifier.ProfileAggressive)
	sender := &recordingSender{}
	sink := notify.NewSink(sender, 1, zerolog.Nop())

	cfg := DefaultConfig("ETHUSDT")
	e := New(cfg, log, met, sched, analyzer, clf, sink)
	return e, sender
}

func TestHandleSnapshotIgnoresInvalidBook(t *testing.T) {
	e, sender := newTestEngine(t)
	e.HandleSnapshot(domain.OrderBookSnapshot{})
	assert.Equal(t, 0, e.analyzer.RingSize())
	assert.Empty(t, sender.sent)
}

func TestHandleSnapshotDetectsCascadeAndNotifies(t *testing.T) {
	e, _ := newTestEngine(t)

	var published []domain.ClassifierDecision
	e.OnRegimeDetected(func(d domain.ClassifierDecision) { published = append(published, d) })

	base := time.Now()
	for i := 0; i < 9; i++ {
		e.HandleSnapshot(imbalancedSnapshot(3000, base.Add(time.Duration(i)*time.Second)))
	}
	// Tenth tick: price drops and enough wall-clock time passes for the
	// momentum window to register a sharp negative move.
	final := base.Add(9*time.Second + 6*time.Minute)
	e.HandleSnapshot(imbalancedSnapshot(2950, final))

	require.NotEmpty(t, published, "expected at least one regime publication")
	last := published[len(published)-1]
	assert.Equal(t, domain.RegimeCascadeHunter, last.Regime)

	snap := e.Metrics()
	assert.Equal(t, domain.RegimeCascadeHunter, snap.LastDecision.Regime)
}

func TestHandleAlertRelaxesClassifierThreshold(t *testing.T) {
	e, _ := newTestEngine(t)
	now := time.Now()

	before := e.clf.Classify(domain.ClassifierInputs{DLSPercentile: 60, Timestamp: now})
	e.HandleAlert(domain.DerivativesAlert{ID: "a1", Type: domain.AlertOISpike, Timestamp: now, ExpiresAt: now.Add(time.Minute)})
	after := e.clf.Classify(domain.ClassifierInputs{DLSPercentile: 60, Timestamp: now})

	assert.Less(t, after.Threshold.Effective, before.Threshold.Effective)
}

func TestSystemHealthReportsOfflineWithoutSupervisor(t *testing.T) {
	e, _ := newTestEngine(t)
	health := e.SystemHealth()
	assert.Equal(t, domain.HealthOffline, health.Ingest.Overall)
	assert.Equal(t, domain.HealthOnline, health.Notifier)
}

func TestPressureZeroWhenNoBids(t *testing.T) {
	snap := domain.OrderBookSnapshot{
		Bids: []domain.PriceLevel{},
		Asks: []domain.PriceLevel{lvl(3000, 10)},
	}
	assert.Equal(t, 0.0, Pressure(snap, 50))
}

func TestMomentumZeroWithFewerThanTwoSamples(t *testing.T) {
	m := newMomentumTracker(5 * time.Minute)
	assert.Equal(t, 0.0, m.Compute())
	m.Add(time.Now(), 3000)
	assert.Equal(t, 0.0, m.Compute())
}

func TestMomentumComputesPercentChange(t *testing.T) {
	m := newMomentumTracker(5 * time.Minute)
	start := time.Now()
	m.Add(start, 3000)
	m.Add(start.Add(time.Minute), 3030)
	assert.InDelta(t, 1.0, m.Compute(), 0.001)
}
