// Package metrics exposes Prometheus metrics for pipeline runs.
//
// # Basic Usage
//
//	c := metrics.NewCollector("segmentation")
//	c.RunStarted()
//	defer c.RunFinished("success", time.Since(start))
//	c.ObserveFilter("FindSizes", metrics.PhaseExecute, d, code)
//
// The vectors are registered with the default registry through promauto and
// served by the CLI at /metrics when enabled.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voxelflow"

// Phase labels.
const (
	PhasePreflight = "preflight"
	PhaseExecute   = "execute"
)

var (
	// PipelineRuns counts finished runs by outcome
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"pipeline", "outcome"},
	)

	// PipelineDuration tracks wall time of whole runs
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		},
		[]string{"pipeline", "outcome"},
	)

	// PipelinesActive is the number of runs in progress
	PipelinesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "active",
			Help:      "Number of pipeline runs in progress",
		},
		[]string{"pipeline"},
	)

	// FilterDuration tracks time spent in each filter phase
	FilterDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "duration_seconds",
			Help:      "Filter preflight and execute duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12),
		},
		[]string{"filter", "phase"},
	)

	// FilterErrors counts filter phases that ended with a negative code
	FilterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "errors_total",
			Help:      "Filter phases that failed, by error code",
		},
		[]string{"filter", "phase", "code"},
	)

	// Messages counts messages delivered to observers
	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Pipeline messages by kind",
		},
		[]string{"kind"},
	)

	// StoreBytes is the footprint of the data store after the last run
	StoreBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "datastore",
			Name:      "bytes",
			Help:      "Bytes held by data arrays after the last run",
		},
		[]string{"pipeline"},
	)

	// SnapshotBytes counts array payload bytes moved through snapshots
	SnapshotBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "bytes_total",
			Help:      "Array payload bytes written to or read from snapshots",
		},
		[]string{"direction"},
	)
)

// Collector records metrics for one named pipeline.
type Collector struct {
	pipeline string
}

// NewCollector creates a collector labelling every sample with pipeline.
func NewCollector(pipeline string) *Collector {
	if pipeline == "" {
		pipeline = "unnamed"
	}
	return &Collector{pipeline: pipeline}
}

func (c *Collector) RunStarted() {
	PipelinesActive.WithLabelValues(c.pipeline).Inc()
}

func (c *Collector) RunFinished(outcome string, d time.Duration) {
	PipelinesActive.WithLabelValues(c.pipeline).Dec()
	PipelineRuns.WithLabelValues(c.pipeline, outcome).Inc()
	PipelineDuration.WithLabelValues(c.pipeline, outcome).Observe(d.Seconds())
}

// ObserveFilter records one filter phase. Negative codes also count as
// errors.
func (c *Collector) ObserveFilter(class, phase string, d time.Duration, code int) {
	FilterDuration.WithLabelValues(class, phase).Observe(d.Seconds())
	if code < 0 {
		FilterErrors.WithLabelValues(class, phase, strconv.Itoa(code)).Inc()
	}
}

func (c *Collector) ObserveMessage(kind string) {
	Messages.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveStoreBytes(bytes int64) {
	StoreBytes.WithLabelValues(c.pipeline).Set(float64(bytes))
}
