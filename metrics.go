package shmwriter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments a Writer reports against. A nil
// *Metrics (the Config default) disables instrumentation entirely; the
// Writer checks for nil before every use of it.
type Metrics struct {
	BytesWritten      *prometheus.CounterVec
	FramesWritten     *prometheus.CounterVec
	FramesSplit       *prometheus.CounterVec
	Wraps             *prometheus.CounterVec
	BackpressureTotal *prometheus.CounterVec
	Drains            *prometheus.CounterVec
	BufferUsage       *prometheus.GaugeVec
	LifecycleErrors   *prometheus.CounterVec
}

// NewMetrics registers a full set of instruments against reg under the
// shmwriter namespace, the same promauto.With(reg) factory pattern
// vnykmshr-goflow's metrics.Registry uses.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BytesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shmwriter",
				Name:      "bytes_written_total",
				Help:      "Total payload bytes written to the shared ring.",
			},
			[]string{"writer_name"},
		),
		FramesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shmwriter",
				Name:      "frames_written_total",
				Help:      "Total frames written to the shared ring.",
			},
			[]string{"writer_name"},
		),
		FramesSplit: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shmwriter",
				Name:      "frames_split_total",
				Help:      "Total frames written with NOT_FINAL set, i.e. non-final chunks of a split payload.",
			},
			[]string{"writer_name"},
		),
		Wraps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shmwriter",
				Name:      "ring_wraps_total",
				Help:      "Total times the write cursor crossed the end of the ring buffer.",
			},
			[]string{"writer_name"},
		),
		BackpressureTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shmwriter",
				Name:      "backpressure_events_total",
				Help:      "Total times Write had to buffer instead of writing immediately.",
			},
			[]string{"writer_name"},
		),
		Drains: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shmwriter",
				Name:      "drains_total",
				Help:      "Total overflow-queue drain passes.",
			},
			[]string{"writer_name"},
		),
		BufferUsage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "shmwriter",
				Name:      "overflow_queue_length",
				Help:      "Current number of payloads buffered in the overflow queue.",
			},
			[]string{"writer_name"},
		),
		LifecycleErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shmwriter",
				Name:      "lifecycle_errors_total",
				Help:      "Total fatal errors observed, by kind.",
			},
			[]string{"writer_name", "kind"},
		),
	}
}
