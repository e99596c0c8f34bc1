package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.MappingRebuilt("stale")
	m.MappingRebuilt("stale")
	m.LockFallback("counter")
	m.ImageResult("served")
	m.CorruptRecovered("snapshot")
	m.MappingLoadFailed()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.mappingRebuilds.WithLabelValues("stale")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.lockFallbacks.WithLabelValues("counter")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.imageResults.WithLabelValues("served")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.corruptRecovered.WithLabelValues("snapshot")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.mappingErrors))
}

func TestNew_ReRegisterSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.NoError(t, err)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MappingRebuilt("forced")
		m.MappingLoadFailed()
		m.LockFallback("log")
		m.CorruptRecovered("counter")
		m.ImageResult("not_found")
	})
}

func TestNew_SharesExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	require.NoError(t, err)
	b, err := New(reg)
	require.NoError(t, err)

	b.ImageResult("placeholder")
	assert.Equal(t, float64(1), testutil.ToFloat64(a.imageResults.WithLabelValues("placeholder")))
}
