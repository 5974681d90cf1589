package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/domain"
)

func TestIntakeWhaleTransactionsNative(t *testing.T) {
	payload := WhaleTransactionsPayload{
		MatchingTransactions: []NativeTransaction{
			{Hash: "0xabc", From: "0xfrom", To: "0xto", ValueWei: "1000000000000000000", ObservedAt: time.Now().Add(-500 * time.Millisecond).UnixMilli()},
		},
	}

	result := IntakeWhaleTransactions(payload, 3000)
	require.Equal(t, 1, result.TransactionsProcessed)
	require.Len(t, result.Intents, 1)

	intent := result.Intents[0]
	assert.Equal(t, "0xfrom", intent.WhaleAddress)
	assert.InDelta(t, 3000, intent.EstimatedValueUSD, 1)
	assert.Greater(t, intent.DetectionLatency, time.Duration(0))
}

func TestIntakeWhaleTransactionsERC20Transfer(t *testing.T) {
	topics := []string{
		erc20TransferTopic,
		"0x000000000000000000000000" + "1111111111111111111111111111111111111111",
		"0x000000000000000000000000" + "2222222222222222222222222222222222222222",
	}
	payload := WhaleTransactionsPayload{
		MatchingReceipts: []TransactionReceipt{
			{Logs: []TransactionLog{{Topics: topics, Data: "0x0de0b6b3a7640000"}}}, // 1e18 wei
		},
	}

	result := IntakeWhaleTransactions(payload, 3000)
	require.Equal(t, 1, result.ReceiptsProcessed)
	require.Len(t, result.Intents, 1)

	intent := result.Intents[0]
	assert.Equal(t, "0x1111111111111111111111111111111111111111", intent.WhaleAddress)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", intent.TargetExchange)
	assert.InDelta(t, 3000, intent.EstimatedValueUSD, 1)
}

func TestIntakeWhaleTransactionsIgnoresNonTransferLogs(t *testing.T) {
	payload := WhaleTransactionsPayload{
		MatchingReceipts: []TransactionReceipt{
			{Logs: []TransactionLog{{Topics: []string{"0xsomethingelse"}, Data: "0x00"}}},
		},
	}

	result := IntakeWhaleTransactions(payload, 3000)
	assert.Equal(t, 1, result.ReceiptsProcessed)
	assert.Empty(t, result.Intents)
}

func TestThreatLevelThresholds(t *testing.T) {
	assert.Equal(t, domain.ThreatCritical, threatLevelFor(6_000_000))
	assert.Equal(t, domain.ThreatHigh, threatLevelFor(2_000_000))
	assert.Equal(t, domain.ThreatMedium, threatLevelFor(300_000))
	assert.Equal(t, domain.ThreatLow, threatLevelFor(1_000))
}

func TestWhaleSpikeDetectorFiresOnClusterScore(t *testing.T) {
	det := newWhaleSpikeDetector(time.Minute, 3.0)

	now := time.Now()
	mk := func(level domain.ThreatLevel) domain.WhaleIntent {
		return domain.WhaleIntent{ThreatLevel: level, Timestamp: now}
	}

	_, fired := det.observe(mk(domain.ThreatHigh))
	assert.False(t, fired)
	_, fired = det.observe(mk(domain.ThreatHigh))
	assert.False(t, fired)
	score, fired := det.observe(mk(domain.ThreatHigh))
	assert.True(t, fired, "three HIGH threat intents should cross the cluster score threshold")
	assert.GreaterOrEqual(t, score, 3.0)

	// Buffer is cleared after firing.
	_, fired = det.observe(mk(domain.ThreatLow))
	assert.False(t, fired)
}
