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

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLoad("esm", time.Millisecond)
		m.RecordCacheHit()
		m.RecordLoadError("io")
		m.RecordResolve("ok")
		m.RecordPhase("scan", time.Millisecond)
		m.RecordRun(nil)
		m.RecordChunk(time.Millisecond)
		m.RecordTreeShaking(1, 1)
	})
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	// A second registration of the same collectors must fail
	assert.Panics(t, func() { New(reg) })

	// Two bundlers with separate registries don't interfere
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
	assert.NotPanics(t, func() { New(nil) })
}

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordLoad("esm", 2*time.Millisecond)
	m.RecordLoad("esm", 3*time.Millisecond)
	m.RecordLoad("cjs", time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.modulesLoaded.WithLabelValues("esm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modulesLoaded.WithLabelValues("cjs")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.loadDuration))

	m.RecordCacheHit()
	m.RecordCacheHit()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.loadCacheHits))

	m.RecordLoadError("parse")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loadErrors.WithLabelValues("parse")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.loadErrors.WithLabelValues("io")))

	m.RecordResolve("external")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolveTotal.WithLabelValues("external")))

	m.RecordRun(nil)
	m.RecordRun(errors.New("boom"))
	m.RecordRun(nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("error")))

	m.RecordPhase("scan", time.Millisecond)
	m.RecordPhase("link", time.Millisecond)
	assert.Equal(t, 2, testutil.CollectAndCount(m.runDuration))

	m.RecordChunk(time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunksTotal))

	m.RecordTreeShaking(12, 2)
	m.RecordTreeShaking(7, 1)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.liveParts))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.droppedModules))
}
