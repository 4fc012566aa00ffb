// Package telemetry registers the Prometheus metrics for ingestion and
// aggregation. serve exposes them on /metrics; batch commands update them in
// process and log a summary instead.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

const namespace = "biogas"

const (
	MetricRowsRead         = "rows_read_total"
	MetricRowsDropped      = "rows_dropped_total"
	MetricRowsCommitted    = "rows_committed_total"
	MetricInvalidValues    = "invalid_values_total"
	MetricChunks           = "chunks_processed_total"
	MetricWriteFailures    = "write_failures_total"
	MetricMirrorFailures   = "mirror_failures_total"
	MetricHoursAggregated  = "hours_aggregated_total"
	MetricHourFailures     = "hour_failures_total"
	MetricChunkSeconds     = "chunk_duration_seconds"
	MetricAggregateSeconds = "aggregate_duration_seconds"
)

var CounterRowsRead = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricRowsRead,
		Help:      "Data rows read from input files, including rows later dropped.",
	},
)

var CounterRowsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricRowsDropped,
		Help:      "Rows dropped before loading, by reason.",
	},
	[]string{
		"reason",
	},
)

var CounterRowsCommitted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricRowsCommitted,
		Help:      "Readings committed to the reading store.",
	},
)

var CounterInvalidValues = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricInvalidValues,
		Help:      "Present values that could not be read as their field's type and were stored as null.",
	},
)

var CounterChunks = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricChunks,
		Help:      "Chunks transformed and loaded.",
	},
)

var CounterWriteFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricWriteFailures,
		Help:      "Batches the reading store rejected.",
	},
)

var CounterMirrorFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricMirrorFailures,
		Help:      "Batches the InfluxDB mirror rejected.",
	},
)

var CounterHoursAggregated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregate",
		Name:      MetricHoursAggregated,
		Help:      "Hourly aggregates upserted.",
	},
)

var CounterHourFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregate",
		Name:      MetricHourFailures,
		Help:      "Hours whose aggregate could not be written after retries.",
	},
)

var HistogramChunkSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      MetricChunkSeconds,
		Help:      "Time to transform and load one chunk.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	},
)

var HistogramAggregateSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "aggregate",
		Name:      MetricAggregateSeconds,
		Help:      "Time to aggregate one requested range.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	},
)

func init() {
	prometheus.MustRegister(CounterRowsRead)
	prometheus.MustRegister(CounterRowsDropped)
	prometheus.MustRegister(CounterRowsCommitted)
	prometheus.MustRegister(CounterInvalidValues)
	prometheus.MustRegister(CounterChunks)
	prometheus.MustRegister(CounterWriteFailures)
	prometheus.MustRegister(CounterMirrorFailures)
	prometheus.MustRegister(CounterHoursAggregated)
	prometheus.MustRegister(CounterHourFailures)
	prometheus.MustRegister(HistogramChunkSeconds)
	prometheus.MustRegister(HistogramAggregateSeconds)
}
