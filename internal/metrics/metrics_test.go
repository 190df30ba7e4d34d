package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRefresh("ok")
		m.RecordCache(true)
		m.ObserveFetch(time.Second, nil)
		m.RecordBaseline("estimate")
		m.RecordFire("timer")
		m.RecordSnapshot(time.Now(), map[string]float64{"gold": 1})
		m.RecordDrop()
	})
}

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRefresh("ok")
	m.RecordRefresh("ok")
	m.RecordCache(false)
	m.ObserveFetch(120*time.Millisecond, errors.New("boom"))
	m.RecordSnapshot(time.Unix(1700000000, 0), map[string]float64{"gold": 58400})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 58400.0, testutil.ToFloat64(m.LastRate.WithLabelValues("gold")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.SnapshotAge))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
