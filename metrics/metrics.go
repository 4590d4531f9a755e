package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PartitionsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obslake",
		Subsystem: "writer",
		Name:      "partitions_written_total",
		Help:      "Partitions persisted to the catalog, by kind.",
	}, []string{"kind"}) // kind: empty, data

	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obslake",
		Subsystem: "writer",
		Name:      "bytes_written_total",
		Help:      "Columnar file bytes uploaded to object storage.",
	})

	MergeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obslake",
		Subsystem: "merge",
		Name:      "runs_total",
		Help:      "Merge window attempts, by outcome.",
	}, []string{"outcome"}) // outcome: merged, empty, skipped, conflict, error

	PartitionsRetired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obslake",
		Subsystem: "retire",
		Name:      "partitions_total",
		Help:      "Partition rows removed by retirement sweeps.",
	})

	FilesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obslake",
		Subsystem: "retire",
		Name:      "files_swept_total",
		Help:      "Detached files deleted from object storage.",
	})

	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "obslake",
		Subsystem: "writer",
		Name:      "write_duration_seconds",
		Help:      "End to end duration of a partition materialization.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})
)
