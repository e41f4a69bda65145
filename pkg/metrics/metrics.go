// Package metrics defines and registers the Prometheus metrics strata
// exposes, and a small Timer helper for feeding them. Grounded on the
// teacher's pkg/metrics (GaugeVec/CounterVec/HistogramVec declared at
// package scope, registered in init, exposed through promhttp.Handler),
// re-themed from cluster/service/container metrics to checkpoint/restart
// and erasure-coding metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CheckpointsTotal counts completed checkpoints by name and level.
	CheckpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_checkpoints_total",
			Help: "Total number of checkpoints completed, by checkpoint name and highest level reached",
		},
		[]string{"name", "level"},
	)

	CheckpointFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_checkpoint_failures_total",
			Help: "Total number of checkpoint attempts that failed, by checkpoint name",
		},
		[]string{"name"},
	)

	CheckpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_checkpoint_duration_seconds",
			Help:    "Wall-clock time to complete a checkpoint, by level",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"level"},
	)

	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_restarts_total",
			Help: "Total number of restarts completed, by the level they were served from",
		},
		[]string{"level"},
	)

	RestartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_restart_duration_seconds",
			Help:    "Wall-clock time to complete a restart, by the level it was served from",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"level"},
	)

	ErasuresDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_erasures_detected_total",
			Help: "Total number of missing or corrupt group members detected during an L2/L3 pass",
		},
		[]string{"level"},
	)

	RSEncodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_rs_encode_duration_seconds",
			Help:    "Time taken to compute a group's Reed-Solomon parity blocks",
			Buckets: prometheus.DefBuckets,
		},
	)

	RSDecodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_rs_decode_duration_seconds",
			Help:    "Time taken to reconstruct missing blocks from surviving group members",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_queue_depth",
			Help: "Number of commands currently pending or in progress in the backend request queue",
		},
	)

	InFlightCheckpoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_in_flight_checkpoints",
			Help: "Number of checkpoints currently being written by the backend worker pool",
		},
	)

	ChecksumMismatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_checksum_mismatches_total",
			Help: "Total number of checkpoint files whose stored checksum did not match their contents",
		},
		[]string{"name", "level"},
	)

	WatchdogTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_watchdog_timeouts_total",
			Help: "Total number of in-progress commands the watchdog declared failed due to silence",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CheckpointsTotal,
		CheckpointFailuresTotal,
		CheckpointDuration,
		RestartsTotal,
		RestartDuration,
		ErasuresDetectedTotal,
		RSEncodeDuration,
		RSDecodeDuration,
		QueueDepth,
		InFlightCheckpoints,
		ChecksumMismatchesTotal,
		WatchdogTimeoutsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and feeding the result to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
