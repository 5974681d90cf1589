package ingest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/logx"
)

func newTestStream() *OrderBookStream {
	return NewOrderBookStream("ethusdt", 50, nil, logx.New(), nil)
}

func TestApplyDeltaDropsStaleUpdateID(t *testing.T) {
	s := newTestStream()
	s.lastUpdateID = 100

	s.applyDelta(100, [][]string{{"100.0", "1.0"}}, nil)
	assert.Empty(t, s.bids, "update with updateId <= lastUpdateId must be dropped")
	assert.Equal(t, int64(100), s.lastUpdateID)
}

func TestApplyDeltaReplacesLevel(t *testing.T) {
	s := newTestStream()
	s.applyDelta(1, [][]string{{"100.0", "2.5"}}, nil)

	qty, ok := s.bids["100.0"]
	require.True(t, ok)
	assert.True(t, qty.Equal(decimal.NewFromFloat(2.5)))

	s.applyDelta(2, [][]string{{"100.0", "4.0"}}, nil)
	qty, ok = s.bids["100.0"]
	require.True(t, ok)
	assert.True(t, qty.Equal(decimal.NewFromFloat(4.0)))
}

func TestApplyDeltaZeroQtyRemovesLevel(t *testing.T) {
	s := newTestStream()
	s.applyDelta(1, [][]string{{"100.0", "2.5"}}, nil)
	s.applyDelta(2, [][]string{{"100.0", "0"}}, nil)

	_, ok := s.bids["100.0"]
	assert.False(t, ok, "zero quantity update must remove the price level")
}

func TestApplyDeltaEnforcesMonotonicUpdateID(t *testing.T) {
	s := newTestStream()
	s.applyDelta(5, [][]string{{"100.0", "1.0"}}, nil)
	s.applyDelta(3, [][]string{{"100.0", "9.0"}}, nil) // stale, must be ignored

	qty := s.bids["100.0"]
	assert.True(t, qty.Equal(decimal.NewFromFloat(1.0)))
	assert.Equal(t, int64(5), s.lastUpdateID)
}

func TestSortedLevelsOrdersAndCaps(t *testing.T) {
	side := map[string]decimal.Decimal{
		"100.0": decimal.NewFromFloat(1),
		"102.0": decimal.NewFromFloat(1),
		"101.0": decimal.NewFromFloat(1),
	}
	bids := sortedLevels(side, true, 2)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(decimal.NewFromFloat(102.0)))
	assert.True(t, bids[1].Price.Equal(decimal.NewFromFloat(101.0)))

	asks := sortedLevels(side, false, 2)
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(decimal.NewFromFloat(100.0)))
}
