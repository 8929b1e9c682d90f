// Package metrics defines the process-wide Prometheus collectors, grounded on
// cuemby-warren's pkg/metrics/metrics.go: package-level vars registered in
// init, a Handler for mounting on the HTTP mux, and a Timer helper for
// histogram observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_sessions_active",
			Help: "Number of sandbox sessions currently tracked by the manager",
		},
	)

	ExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_exec_duration_seconds",
			Help:    "Time taken to execute code in a session, end to end",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	ArtifactsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandboxd_artifacts_ingested_total",
			Help: "Total number of artifact files ingested into the blob store",
		},
	)

	ArtifactBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandboxd_artifact_bytes_total",
			Help: "Total bytes written to the blob store across all ingested artifacts",
		},
	)

	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandboxd_container_create_duration_seconds",
			Help:    "Time taken to create and health-check a new session container",
			Buckets: prometheus.DefBuckets,
		},
	)

	DatasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_dataset_loads_total",
			Help: "Total dataset load attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(ExecDuration)
	prometheus.MustRegister(ArtifactsIngestedTotal)
	prometheus.MustRegister(ArtifactBytesTotal)
	prometheus.MustRegister(ContainerCreateDuration)
	prometheus.MustRegister(DatasetLoadsTotal)
}

// Handler returns the Prometheus scrape handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a start-time holder for histogram observations spanning an
// operation, grounded on cuemby-warren's pkg/metrics.Timer.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
