// Package liquidity implements the Dynamic Liquidity Analyzer (component
// E): a composite depth/density/spread/impact/volume-profile score plus an
// adaptive 24h percentile ring. Grounded on the pressure/imbalance
// composite-score shape in other_examples' yoghaf-market-indikator
// orderbook book, generalized from a pressure score to the DLS pipeline
// spec.md §4.4 defines; static thresholds are intentionally never used —
// only the ring's own rolling percentile history.
package liquidity

import (
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

const (
	ringCapacity        = 2880
	minSamplesForRank    = 10
	signalValidationPctl = 75
)

// VolumeProfileSource supplies the optional volume-profile factor E needs
// (spec.md §4.4 step 5). The zero value / nil source defaults to 1.0 —
// "unavailable" per spec.md, not an error.
type VolumeProfileSource interface {
	// VolumeProfileFactor returns a value normalized to [0.5, 1.5] for symbol.
	VolumeProfileFactor(symbol string) (float64, bool)
}

// ConstantVolumeProfile is the default no-op source: always 1.0.
type ConstantVolumeProfile struct{}

func (ConstantVolumeProfile) VolumeProfileFactor(string) (float64, bool) { return 1.0, true }

// Analyzer computes one LiquiditySample per order-book snapshot and
// maintains the adaptive percentile ring. It owns its ring exclusively
// (spec.md §3 ownership rule) and is safe for single-writer use per
// symbol; wrap with external synchronization if shared across goroutines.
type Analyzer struct {
	depthLevels   int
	volumeProfile VolumeProfileSource

	ring     []int
	ringHead int
	ringLen  int
}

// New builds an Analyzer. depthLevels is the top-N per side used for the
// depth component (default 50, matching the order book's configured depth).
func New(depthLevels int, vp VolumeProfileSource) *Analyzer {
	if vp == nil {
		vp = ConstantVolumeProfile{}
	}
	return &Analyzer{
		depthLevels:   depthLevels,
		volumeProfile: vp,
		ring:          make([]int, ringCapacity),
	}
}

// Analyze runs the full pipeline (spec.md §4.4) over one snapshot.
func (a *Analyzer) Analyze(snap domain.OrderBookSnapshot) domain.LiquiditySample {
	if !snap.Valid() {
		return domain.LiquiditySample{Status: domain.StatusInvalidData, Timestamp: snap.Timestamp}
	}

	mid := snap.MidPrice()

	depthScore := a.depthComponent(snap)
	densityScore := a.densityComponent(snap, mid)
	spreadScore := a.spreadComponent(snap, mid)
	impactScore := a.impactComponent(snap, mid)
	volumeScore := a.volumeComponent(snap.Symbol)

	composite := 0.25*depthScore + 0.25*densityScore + 0.20*spreadScore + 0.20*impactScore + 0.10*volumeScore
	dls := clampRoundInt(composite, 0, 100)

	percentile := a.observe(dls)
	regime := regimeFor(percentile)

	return domain.LiquiditySample{
		DLS:              dls,
		Percentile:       percentile,
		Regime:           regime,
		IsValidForSignal: percentile >= signalValidationPctl,
		Status:           domain.StatusOK,
		Timestamp:        snap.Timestamp,
	}
}

// depthComponent sums quantities across the top-N levels on each side,
// normalized to [0,100] against a notional reference depth of 500 units
// per side (calibrated so a typical ETH/USDT futures book near-full depth
// scores close to 100 without ever hard-clamping a thin-but-valid book).
func (a *Analyzer) depthComponent(snap domain.OrderBookSnapshot) float64 {
	const referenceDepth = 500.0
	bidQty := sumQty(snap.Bids, a.depthLevels)
	askQty := sumQty(snap.Asks, a.depthLevels)
	total := bidQty + askQty
	return clampF(total/referenceDepth*100, 0, 100)
}

// densityComponent sums quantities within +-1% of mid, divided by the
// count of contributing levels, scaled x10 (spec.md §4.4 step 2).
func (a *Analyzer) densityComponent(snap domain.OrderBookSnapshot, mid float64) float64 {
	band := mid * 0.01
	qty := 0.0
	count := 0

	within := func(levels []domain.PriceLevel) {
		for _, lvl := range levels {
			price, _ := lvl.Price.Float64()
			if price >= mid-band && price <= mid+band {
				q, _ := lvl.Qty.Float64()
				qty += q
				count++
			}
		}
	}
	within(snap.Bids)
	within(snap.Asks)

	if count == 0 {
		return 0
	}
	return clampF((qty/float64(count))*10, 0, 100)
}

// spreadComponent: max(0, 100 - spread_bps*2) (spec.md §4.4 step 3).
func (a *Analyzer) spreadComponent(snap domain.OrderBookSnapshot, mid float64) float64 {
	bestBid, _ := snap.Bids[0].Price.Float64()
	bestAsk, _ := snap.Asks[0].Price.Float64()
	if mid == 0 {
		return 0
	}
	spreadBps := (bestAsk - bestBid) / mid * 10000
	return clampF(100-spreadBps*2, 0, 100)
}

// impactComponent walks the bid side accumulating quantity to fill a
// hypothetical $10,000 sell, computes VWAP impact in bps, and maps it to
// max(0, 100 - impact_bps*20); a book too thin to fill scores 0 (worst),
// per spec.md §4.4 step 4.
func (a *Analyzer) impactComponent(snap domain.OrderBookSnapshot, mid float64) float64 {
	const notional = 10000.0
	remaining := notional
	filledQty := 0.0
	weightedPrice := 0.0

	for _, lvl := range snap.Bids {
		price, _ := lvl.Price.Float64()
		qty, _ := lvl.Qty.Float64()
		levelNotional := price * qty
		if levelNotional >= remaining {
			take := remaining / price
			weightedPrice += take * price
			filledQty += take
			remaining = 0
			break
		}
		weightedPrice += qty * price
		filledQty += qty
		remaining -= levelNotional
	}

	if remaining > 0 || filledQty == 0 {
		return 0
	}
	vwap := weightedPrice / filledQty
	impactBps := absF(vwap-mid) / mid * 10000
	return clampF(100-impactBps*20, 0, 100)
}

func (a *Analyzer) volumeComponent(symbol string) float64 {
	factor, ok := a.volumeProfile.VolumeProfileFactor(symbol)
	if !ok {
		factor = 1.0
	}
	factor = clampF(factor, 0.5, 1.5)
	// Map [0.5,1.5] -> [0,100] linearly, centered at 1.0 -> 50.
	return clampF((factor-0.5)*100, 0, 100)
}

// observe appends dls to the ring (evicting the oldest above capacity) and
// returns the new percentile rank (spec.md §4.4's mandatory adaptive
// behavior — never a static threshold).
func (a *Analyzer) observe(dls int) int {
	if a.ringLen < ringCapacity {
		a.ring[a.ringLen] = dls
		a.ringLen++
	} else {
		a.ring[a.ringHead] = dls
		a.ringHead = (a.ringHead + 1) % ringCapacity
	}

	if a.ringLen < minSamplesForRank {
		return 50
	}

	countLE := 0
	for i := 0; i < a.ringLen; i++ {
		if a.ring[i] <= dls {
			countLE++
		}
	}
	return clampRoundInt(float64(countLE)/float64(a.ringLen)*100, 0, 100)
}

// RingSize returns the current sample count, exposed for testable property
// #3 (ring cap never exceeds 2880).
func (a *Analyzer) RingSize() int { return a.ringLen }

func regimeFor(percentile int) domain.LiquidityRegime {
	switch {
	case percentile >= 90:
		return domain.RegimeUltraHigh
	case percentile >= 75:
		return domain.RegimeHigh
	case percentile >= 50:
		return domain.RegimeNormal
	case percentile >= 25:
		return domain.RegimeLow
	default:
		return domain.RegimeCritical
	}
}

// DeriveEvent returns the event this percentile reading implies, if any
// (spec.md §4.4's derived-events list). It is level-based, not
// edge-triggered: repeat emissions for a sustained regime are expected and
// rely on the stateful logger's dedupe-by-hash suppression (component A)
// to stay quiet downstream.
func DeriveEvent(percentile int, now time.Time) (domain.LiquidityEvent, bool) {
	switch {
	case percentile <= 10:
		return domain.LiquidityEvent{Type: domain.EventCriticalLiquidity, Percentile: percentile, Timestamp: now}, true
	case percentile <= 25:
		return domain.LiquidityEvent{Type: domain.EventLowLiquidityWarning, Percentile: percentile, Timestamp: now}, true
	case percentile >= 90:
		return domain.LiquidityEvent{Type: domain.EventHighLiquidityRegime, Percentile: percentile, Timestamp: now}, true
	default:
		return domain.LiquidityEvent{}, false
	}
}

func sumQty(levels []domain.PriceLevel, depth int) float64 {
	total := 0.0
	for i, lvl := range levels {
		if i >= depth {
			break
		}
		q, _ := lvl.Qty.Float64()
		total += q
	}
	return total
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampRoundInt(v, lo, hi float64) int {
	v = clampF(v, lo, hi)
	if v-float64(int(v)) >= 0.5 {
		return int(v) + 1
	}
	return int(v)
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
