package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one bundler. All methods are
// safe to call on a nil receiver so callers never need to check whether
// metrics are enabled.
type Metrics struct {
	modulesLoaded  *prometheus.CounterVec
	loadCacheHits  prometheus.Counter
	loadDuration   prometheus.Histogram
	loadErrors     *prometheus.CounterVec
	resolveTotal   *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	chunksTotal    prometheus.Counter
	chunkDuration  prometheus.Histogram
	liveParts      prometheus.Gauge
	droppedModules prometheus.Counter
}

// New creates the collectors and registers them with "reg". A nil
// registerer leaves them unregistered, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		modulesLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esmerge_modules_loaded_total",
				Help: "Total number of modules parsed and analyzed",
			},
			[]string{"format"},
		),
		loadCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "esmerge_load_cache_hits_total",
				Help: "Total number of module loads served from the record cache",
			},
		),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "esmerge_load_duration_seconds",
				Help:    "Time to read, parse and analyze one module",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		loadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esmerge_load_errors_total",
				Help: "Total number of failed module loads",
			},
			[]string{"kind"},
		),
		resolveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esmerge_resolve_total",
				Help: "Total number of specifier resolutions",
			},
			[]string{"result"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esmerge_runs_total",
				Help: "Total number of bundling runs",
			},
			[]string{"result"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "esmerge_run_duration_seconds",
				Help:    "Duration of each bundling phase",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		chunksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "esmerge_chunks_total",
				Help: "Total number of chunks generated",
			},
		),
		chunkDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "esmerge_chunk_duration_seconds",
				Help:    "Time to merge and rename one chunk",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		liveParts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "esmerge_live_parts",
				Help: "Number of top-level parts kept by the most recent run",
			},
		),
		droppedModules: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "esmerge_dropped_modules_total",
				Help: "Total number of reachable modules removed by tree shaking",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.modulesLoaded,
			m.loadCacheHits,
			m.loadDuration,
			m.loadErrors,
			m.resolveTotal,
			m.runsTotal,
			m.runDuration,
			m.chunksTotal,
			m.chunkDuration,
			m.liveParts,
			m.droppedModules,
		)
	}
	return m
}

// RecordLoad records a completed module load
func (m *Metrics) RecordLoad(format string, duration time.Duration) {
	if m == nil {
		return
	}
	m.modulesLoaded.WithLabelValues(format).Inc()
	m.loadDuration.Observe(duration.Seconds())
}

// RecordCacheHit records a load served without parsing
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.loadCacheHits.Inc()
}

// RecordLoadError records a failed load. The kind is "io" or "parse".
func (m *Metrics) RecordLoadError(kind string) {
	if m == nil {
		return
	}
	m.loadErrors.WithLabelValues(kind).Inc()
}

// RecordResolve records one resolution, labelled by its outcome
func (m *Metrics) RecordResolve(result string) {
	if m == nil {
		return
	}
	m.resolveTotal.WithLabelValues(result).Inc()
}

// RecordPhase records how long a bundling phase took
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordRun records the outcome of a bundling run
func (m *Metrics) RecordRun(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.runsTotal.WithLabelValues(result).Inc()
}

// RecordChunk records a generated chunk
func (m *Metrics) RecordChunk(duration time.Duration) {
	if m == nil {
		return
	}
	m.chunksTotal.Inc()
	m.chunkDuration.Observe(duration.Seconds())
}

// RecordTreeShaking records the result of tree shaking for one run
func (m *Metrics) RecordTreeShaking(liveParts int, droppedModules int) {
	if m == nil {
		return
	}
	m.liveParts.Set(float64(liveParts))
	m.droppedModules.Add(float64(droppedModules))
}
