// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline holds the ingestion pipeline's metrics.
type Pipeline struct {
	// EventsIngested counts persisted events, labeled by source.
	EventsIngested *prometheus.CounterVec

	// EventsDeduplicated counts fetched events dropped as duplicates.
	EventsDeduplicated prometheus.Counter

	// EventsSkipped counts records dropped during normalization.
	EventsSkipped prometheus.Counter

	// JobsTotal counts ingestion jobs by terminal status.
	JobsTotal *prometheus.CounterVec

	// ChunksWritten counts batch chunks persisted.
	ChunksWritten prometheus.Counter

	// IngestDuration observes end-to-end ingestion run time in seconds.
	IngestDuration prometheus.Histogram
}

// NewPipeline creates and registers the pipeline metrics. reg may be
// prometheus.DefaultRegisterer or a test registry.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playtrace",
			Name:      "events_ingested_total",
			Help:      "Listening events persisted, by source.",
		}, []string{"source"}),
		EventsDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "playtrace",
			Name:      "events_deduplicated_total",
			Help:      "Fetched events dropped as duplicates of stored events.",
		}),
		EventsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "playtrace",
			Name:      "events_skipped_total",
			Help:      "Raw records dropped during normalization.",
		}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playtrace",
			Name:      "jobs_total",
			Help:      "Ingestion jobs reaching a terminal state, by status.",
		}, []string{"status"}),
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "playtrace",
			Name:      "chunks_written_total",
			Help:      "Batch chunks persisted to the event store.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "playtrace",
			Name:      "ingest_duration_seconds",
			Help:      "End-to-end ingestion run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(
		p.EventsIngested,
		p.EventsDeduplicated,
		p.EventsSkipped,
		p.JobsTotal,
		p.ChunksWritten,
		p.IngestDuration,
	)
	return p
}
