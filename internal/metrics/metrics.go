// Package metrics exposes validation run counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "etlverify"

// Run results used as label values.
const (
	ResultPassed    = "passed"
	ResultFailed    = "failed"
	ResultJobFailed = "job_failed"
	ResultError     = "error"
)

// Metrics owns its registry so several instances can coexist in tests. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	checksTotal  *prometheus.CounterVec
	remoteJobs   *prometheus.CounterVec
	rowsFetched  *prometheus.CounterVec
	runsInFlight prometheus.Gauge
	ledgerBlocks prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Validation runs by result.",
		},
		[]string{"result"},
	)
	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of validation runs.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"result"},
	)
	m.checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Reconciliation check outcomes.",
		},
		[]string{"check", "result"},
	)
	m.remoteJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_jobs_total",
			Help:      "Remote ETL jobs by verdict.",
		},
		[]string{"verdict"},
	)
	m.rowsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_fetched_total",
			Help:      "Rows read from source and target datasets.",
		},
		[]string{"side"},
	)
	m.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs_in_flight",
		Help:      "Validation runs currently executing.",
	})
	m.ledgerBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_blocks_sealed_total",
		Help:      "Evidence blocks appended to the ledger.",
	})

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.checksTotal,
		m.remoteJobs,
		m.rowsFetched,
		m.runsInFlight,
		m.ledgerBlocks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RunStarted marks a run in flight and returns the func that records its end.
func (m *Metrics) RunStarted() func(result string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.runsInFlight.Inc()
	return func(result string) {
		m.runsInFlight.Dec()
		m.runsTotal.WithLabelValues(result).Inc()
		m.runDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) CheckFinished(check string, passed bool) {
	if m == nil {
		return
	}
	result := ResultFailed
	if passed {
		result = ResultPassed
	}
	m.checksTotal.WithLabelValues(check, result).Inc()
}

func (m *Metrics) RemoteJobFinished(succeeded bool) {
	if m == nil {
		return
	}
	verdict := "failed"
	if succeeded {
		verdict = "succeeded"
	}
	m.remoteJobs.WithLabelValues(verdict).Inc()
}

func (m *Metrics) RowsFetched(side string, n int) {
	if m == nil {
		return
	}
	m.rowsFetched.WithLabelValues(side).Add(float64(n))
}

func (m *Metrics) BlockSealed() {
	if m == nil {
		return
	}
	m.ledgerBlocks.Inc()
}

// Registry is exposed for tests and for embedding extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
