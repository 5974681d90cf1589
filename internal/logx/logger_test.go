package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogDedup(t *testing.T) {
	l := New(WithMinLevel(LevelDebug))

	assert.True(t, l.Log("k", "v", LevelInfo, nil), "first emission must fire")
	assert.False(t, l.Log("k", "v", LevelInfo, nil), "repeat of same value must be suppressed")
	assert.True(t, l.Log("k", "v2", LevelInfo, nil), "changed value must fire")
	assert.False(t, l.Log("k", "v2", LevelInfo, nil))
}

func TestLogLevelFilterAfterSuppressionAccounting(t *testing.T) {
	l := New(WithMinLevel(LevelError))

	// Below min level: dropped, but the cache must still remember it.
	assert.False(t, l.Log("k", "v", LevelInfo, nil))
	cache := l.GetStateCache()
	require.Contains(t, cache, "k")
	assert.Equal(t, uint64(1), cache["k"].Count)

	// Same value again, still below level: still dropped via the dedup
	// path conceptually, but since both paths return false this merely
	// checks count accounting, not suppression vs drop distinction.
	assert.False(t, l.Log("k", "v", LevelInfo, nil))
}

func TestForceBypassesSuppression(t *testing.T) {
	l := New(WithMinLevel(LevelDebug))
	assert.True(t, l.Log("k", "v", LevelInfo, nil))
	assert.False(t, l.Log("k", "v", LevelInfo, nil))
	assert.True(t, l.Force("k", "v", LevelInfo), "force must bypass suppression")
}

func TestClearStateCache(t *testing.T) {
	l := New(WithMinLevel(LevelDebug))
	l.Log("k", "v", LevelInfo, nil)
	require.Len(t, l.GetStateCache(), 1)
	l.ClearStateCache()
	require.Len(t, l.GetStateCache(), 0)
	assert.True(t, l.Log("k", "v", LevelInfo, nil), "after clear, same value fires again")
}

func TestStatsAccounting(t *testing.T) {
	l := New(WithMinLevel(LevelDebug))
	l.Log("a", 1, LevelInfo, nil)
	l.Log("a", 1, LevelInfo, nil)
	l.Log("a", 2, LevelInfo, nil)

	stats := l.GetStats()
	assert.Equal(t, uint64(3), stats.Calls)
	assert.Equal(t, uint64(2), stats.Emitted)
	assert.Equal(t, uint64(1), stats.Suppressed)
}

func TestConvenienceWrappers(t *testing.T) {
	l := New(WithMinLevel(LevelDebug))
	assert.True(t, l.Debug("d", 1))
	assert.True(t, l.Info("i", 1))
	assert.True(t, l.Warn("w", 1))
	assert.True(t, l.Error("e", 1))
	assert.True(t, l.Critical("c", 1))
}
