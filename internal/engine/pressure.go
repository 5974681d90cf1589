package engine

import "github.com/marketpulse/engine/internal/domain"

// Pressure is the order-book imbalance scalar spec.md §3 feeds the
// classifier: total ask volume divided by total bid volume across the
// top-N levels on each side, 0 when the bid side is empty. Values above
// 1 mean sell-side pressure dominates; below 1, buy-side.
func Pressure(snap domain.OrderBookSnapshot, levels int) float64 {
	bidVol := sumQty(snap.Bids, levels)
	askVol := sumQty(snap.Asks, levels)
	if bidVol == 0 {
		return 0
	}
	return askVol / bidVol
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
