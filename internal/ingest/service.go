// Package ingest orchestrates the listening-history pipeline: archive
// extraction, normalization, deduplication, chunked persistence,
// aggregation and summary upkeep, with job status tracking throughout.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/skalter/playtrace/internal/archive"
	"github.com/skalter/playtrace/internal/batch"
	"github.com/skalter/playtrace/internal/jobs"
	"github.com/skalter/playtrace/internal/metrics"
	"github.com/skalter/playtrace/internal/model"
	"github.com/skalter/playtrace/internal/normalize"
	"github.com/skalter/playtrace/internal/stats"
)

// Progress milestones for the import pipeline. Batch write progress is
// mapped into the storing span.
const (
	progressExtracting   = 5
	progressProcessing   = 20
	progressStoringStart = 30
	progressStoringEnd   = 95
)

// EventStore is the event persistence surface the pipeline needs.
type EventStore interface {
	InsertEvents(ctx context.Context, userID string, events []model.ListeningEvent) error
	DeleteEvents(ctx context.Context, userID string, before *time.Time) error
	RecentEvents(ctx context.Context, userID string, limit int) ([]model.ListeningEvent, error)
	AllEvents(ctx context.Context, userID string) ([]model.ListeningEvent, error)
	CountEvents(ctx context.Context, userID string) (int64, error)
	SummaryFacts(ctx context.Context, userID string) (stats.Summary, error)
}

// AggregationStore persists computed aggregate views.
type AggregationStore interface {
	ReplaceAggregations(ctx context.Context, userID string, aggs []stats.Aggregation) error
}

// SummaryStore persists per-user scalar rollups.
type SummaryStore interface {
	UpsertSummary(ctx context.Context, userID string, s stats.Summary, uploadedAt time.Time) error
}

// UserStore records known users for scheduled sync bookkeeping.
type UserStore interface {
	EnsureUser(ctx context.Context, userID string) error
	UpdateLastSync(ctx context.Context, userID string, syncedAt time.Time) error
}

// Service runs the ingestion pipeline.
type Service struct {
	events       EventStore
	aggregations AggregationStore
	summaries    SummaryStore
	users        UserStore
	tracker      *jobs.Tracker
	extractor    *archive.Extractor
	writer       *batch.Writer
	metrics      *metrics.Pipeline
	topN         int
	dedupeWindow int
	log          zerolog.Logger
}

// ServiceConfig wires a Service's collaborators and tunables.
type ServiceConfig struct {
	Events       EventStore
	Aggregations AggregationStore
	Summaries    SummaryStore
	Users        UserStore
	Tracker      *jobs.Tracker
	Extractor    *archive.Extractor
	Writer       *batch.Writer

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Pipeline

	// TopN is how many top tracks/artists to store. Defaults to
	// stats.DefaultTopN.
	TopN int

	// DedupeWindow is the reference window size for sync deduplication.
	DedupeWindow int

	Logger zerolog.Logger
}

// DefaultDedupeWindow is the default dedup reference window size.
const DefaultDedupeWindow = 2000

// NewService creates the pipeline service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.TopN <= 0 {
		cfg.TopN = stats.DefaultTopN
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	return &Service{
		events:       cfg.Events,
		aggregations: cfg.Aggregations,
		summaries:    cfg.Summaries,
		users:        cfg.Users,
		tracker:      cfg.Tracker,
		extractor:    cfg.Extractor,
		writer:       cfg.Writer,
		metrics:      cfg.Metrics,
		topN:         cfg.TopN,
		dedupeWindow: cfg.DedupeWindow,
		log:          cfg.Logger,
	}
}

// JobStatus returns the status of a job owned by userID, reconstructing
// a best-effort record when the tracker entry has been lost.
func (s *Service) JobStatus(ctx context.Context, userID, jobID string) (*jobs.Job, error) {
	return s.tracker.Get(ctx, userID, jobID)
}

// StartImport registers a job for an uploaded archive and runs the
// pipeline on a detached background goroutine. The returned job id is
// available immediately; callers poll the status endpoint for progress.
func (s *Service) StartImport(ctx context.Context, userID string, archiveData []byte) (string, error) {
	job, err := s.tracker.Create(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("starting import: %w", err)
	}

	// The task must outlive the triggering request: partial batch writes
	// are not rolled back, so there is no cancellation once storing
	// begins.
	bg := context.WithoutCancel(ctx)
	go s.runImport(bg, job.ID, userID, archiveData)

	return job.ID, nil
}

// runImport executes the import pipeline for one job, updating the
// tracker at every stage. All failures land in the job record; the
// status endpoint is the sole channel for failure visibility.
func (s *Service) runImport(ctx context.Context, jobID, userID string, archiveData []byte) {
	started := time.Now()
	log := s.log.With().Str("job_id", jobID).Logger()

	s.advance(ctx, jobID, jobs.StatusExtracting, progressExtracting, "extracting archive")

	records, err := s.extractor.Extract(ctx, archiveData)
	if err != nil {
		log.Error().Err(err).Msg("archive extraction failed")
		s.fail(ctx, jobID, fmt.Sprintf("extracting archive: %v", err))
		return
	}

	s.advance(ctx, jobID, jobs.StatusProcessing, progressProcessing,
		fmt.Sprintf("processing %d records", len(records)))

	events, skipped := normalize.FromExportAll(records)
	if s.metrics != nil {
		s.metrics.EventsSkipped.Add(float64(skipped))
	}

	// Chronological insertion order keeps keyset reads aligned with play
	// order.
	sort.Slice(events, func(i, j int) bool {
		return events[i].PlayedAt.Before(events[j].PlayedAt)
	})

	if err := s.users.EnsureUser(ctx, userID); err != nil {
		log.Error().Err(err).Msg("registering user failed")
		s.fail(ctx, jobID, fmt.Sprintf("registering user: %v", err))
		return
	}

	if len(events) > 0 {
		// A re-uploaded export replaces stored history up to its newest
		// event; synced events newer than the archive are preserved.
		cutoff := events[len(events)-1].PlayedAt
		if err := s.events.DeleteEvents(ctx, userID, &cutoff); err != nil {
			log.Error().Err(err).Msg("purging prior events failed")
			s.fail(ctx, jobID, fmt.Sprintf("purging prior events: %v", err))
			return
		}
	}

	s.advance(ctx, jobID, jobs.StatusStoring, progressStoringStart,
		fmt.Sprintf("storing %d events", len(events)))

	err = s.writer.Write(ctx, userID, events, func(percent int, message string) {
		span := progressStoringEnd - progressStoringStart
		if err := s.tracker.SetProgress(ctx, jobID, progressStoringStart+percent*span/100, message); err != nil {
			log.Warn().Err(err).Msg("updating job progress failed")
		}
		if s.metrics != nil {
			s.metrics.ChunksWritten.Inc()
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("storing events failed")
		s.fail(ctx, jobID, fmt.Sprintf("storing events: %v", err))
		return
	}

	if len(events) > 0 {
		count, err := s.events.CountEvents(ctx, userID)
		if err == nil && count == 0 {
			verr := &VerificationError{UserID: userID, Expected: len(events)}
			log.Error().Err(verr).Msg("post-write verification failed")
			s.fail(ctx, jobID, verr.Error())
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("post-write verification read failed")
		}
	}

	// Aggregation failure never fails the upload; the user's data is
	// stored and aggregates can be recomputed later.
	s.recomputeAggregates(ctx, userID, log)

	summary := s.refreshSummary(ctx, userID, events, log)

	result := jobs.Result{
		ImportedCount:  len(events),
		SkippedCount:   skipped,
		DateRangeStart: summary.DateRangeStart,
		DateRangeEnd:   summary.DateRangeEnd,
	}
	if err := s.tracker.Complete(ctx, jobID, result); err != nil {
		log.Warn().Err(err).Msg("completing job failed")
	}

	if s.metrics != nil {
		s.metrics.EventsIngested.WithLabelValues(string(model.SourceBulkExport)).Add(float64(len(events)))
		s.metrics.JobsTotal.WithLabelValues(string(jobs.StatusCompleted)).Inc()
		s.metrics.IngestDuration.Observe(time.Since(started).Seconds())
	}

	log.Info().Int("imported", len(events)).Int("skipped", skipped).
		Dur("elapsed", time.Since(started)).Msg("import complete")
}

// recomputeAggregates rebuilds every aggregate view from the user's full
// history. Errors are logged and swallowed: ingestion success is
// independent of aggregation success.
func (s *Service) recomputeAggregates(ctx context.Context, userID string, log zerolog.Logger) {
	all, err := s.events.AllEvents(ctx, userID)
	if err != nil {
		log.Error().Str("user_id", userID).Err(err).
			Msg("reading events for aggregation failed; aggregates not refreshed")
		return
	}

	aggs := stats.Compute(all, s.topN)
	if err := s.aggregations.ReplaceAggregations(ctx, userID, aggs); err != nil {
		log.Error().Str("user_id", userID).Err(err).
			Msg("storing aggregations failed; aggregates not refreshed")
	}
}

// refreshSummary upserts the user's scalar rollup, preferring the
// store-side aggregate query and falling back to an in-memory reduce
// over the just-ingested events.
func (s *Service) refreshSummary(ctx context.Context, userID string, fallback []model.ListeningEvent, log zerolog.Logger) stats.Summary {
	summary, err := s.events.SummaryFacts(ctx, userID)
	if err != nil {
		log.Warn().Str("user_id", userID).Err(err).
			Msg("store-side summary query failed; reducing in memory")
		summary = stats.Summarize(fallback)
	}

	if err := s.summaries.UpsertSummary(ctx, userID, summary, time.Now()); err != nil {
		log.Error().Str("user_id", userID).Err(err).Msg("storing summary failed")
	}
	return summary
}

// advance moves the job forward, logging rather than propagating tracker
// errors: a lost status update must not abort a healthy pipeline.
func (s *Service) advance(ctx context.Context, jobID string, status jobs.Status, progress int, message string) {
	if err := s.tracker.Advance(ctx, jobID, status, progress, message); err != nil {
		s.log.Warn().Str("job_id", jobID).Err(err).Msg("advancing job failed")
	}
}

// fail marks the job failed and records the terminal metric.
func (s *Service) fail(ctx context.Context, jobID, reason string) {
	if err := s.tracker.Fail(ctx, jobID, reason); err != nil {
		s.log.Warn().Str("job_id", jobID).Err(err).Msg("failing job failed")
	}
	if s.metrics != nil {
		s.metrics.JobsTotal.WithLabelValues(string(jobs.StatusFailed)).Inc()
	}
}
