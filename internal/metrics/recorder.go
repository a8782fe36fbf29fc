package metrics

import "github.com/prometheus/client_golang/prometheus"

// RecorderMetrics holds Prometheus metrics for the message recorder.
type RecorderMetrics struct {
	Inserted     prometheus.Counter
	Duplicates   prometheus.Counter
	BatchErrors  prometheus.Counter
	Dropped      prometheus.Counter
	BatchSize    prometheus.Histogram
	FlushLatency prometheus.Histogram
	BufferDepth  prometheus.Gauge
}

// NewRecorderMetrics creates and registers recorder metrics on the given registry.
func NewRecorderMetrics(reg prometheus.Registerer) *RecorderMetrics {
	m := &RecorderMetrics{
		Inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "rows_inserted_total",
			Help:      "Total number of messages persisted.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "duplicates_total",
			Help:      "Total number of messages skipped because their id was already stored.",
		}),
		BatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "batch_errors_total",
			Help:      "Total number of failed batch inserts.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "dropped_total",
			Help:      "Total number of messages evicted from a full recorder buffer.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "batch_size",
			Help:      "Number of messages per flushed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
		FlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing one batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "buffer_depth",
			Help:      "Messages waiting to be flushed.",
		}),
	}

	reg.MustRegister(
		m.Inserted,
		m.Duplicates,
		m.BatchErrors,
		m.Dropped,
		m.BatchSize,
		m.FlushLatency,
		m.BufferDepth,
	)
	return m
}
