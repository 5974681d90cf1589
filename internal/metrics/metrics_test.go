package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	r := New()

	r.WhaleIntentsTotal.Inc()
	r.DerivativesUpdatesTotal.WithLabelValues("mark_price").Inc()
	r.TasksExecutedTotal.WithLabelValues("SYSTEM_HEALTH_CHECK").Inc()
	r.RegimesDetectedTotal.WithLabelValues("CASCADE_HUNTER").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(r.WhaleIntentsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.DerivativesUpdatesTotal.WithLabelValues("mark_price")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.TasksExecutedTotal.WithLabelValues("SYSTEM_HEALTH_CHECK")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.RegimesDetectedTotal.WithLabelValues("CASCADE_HUNTER")))
}

func TestComponentHealthGaugeReflectsState(t *testing.T) {
	r := New()
	r.ComponentHealth.WithLabelValues("ingest.orderbook").Set(HealthValue("ONLINE"))
	r.ComponentHealth.WithLabelValues("ingest.derivatives").Set(HealthValue("LIMITED"))
	r.ComponentHealth.WithLabelValues("notify").Set(HealthValue("OFFLINE"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ComponentHealth.WithLabelValues("ingest.orderbook")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ComponentHealth.WithLabelValues("ingest.derivatives")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ComponentHealth.WithLabelValues("notify")))
}

func TestGathererReturnsRegisteredFamilies(t *testing.T) {
	r := New()
	r.DLSGauge.Set(72)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
