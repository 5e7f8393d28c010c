package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRetention is how long job records are kept before being pruned.
const DefaultRetention = time.Hour

// ErrInvalidTransition is returned when a stage update would skip a
// state, move backward, or mutate a terminal job.
var ErrInvalidTransition = errors.New("invalid job state transition")

// CompletionMarker answers whether a user has any durably recorded
// successful ingestion at or after a given time. The tracker consults it
// when reconstructing the status of a lost job record; the user summary's
// upload timestamp serves this role in production.
type CompletionMarker interface {
	CompletedSince(ctx context.Context, userID string, since time.Time) (bool, error)
}

// Tracker enforces the job state machine over a Store and prunes stale
// records. Only the actively executing pipeline stage writes to a given
// job; reads are last-write-wins.
type Tracker struct {
	store     Store
	retention time.Duration
	marker    CompletionMarker
	now       func() time.Time
	log       zerolog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithRetention sets how long records are kept.
func WithRetention(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.retention = d
		}
	}
}

// WithCompletionMarker enables best-effort reconstruction of lost jobs.
func WithCompletionMarker(m CompletionMarker) TrackerOption {
	return func(t *Tracker) {
		t.marker = m
	}
}

// WithTrackerLogger sets the tracker's logger.
func WithTrackerLogger(log zerolog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.log = log
	}
}

// withClock overrides the clock, for tests.
func withClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a Tracker over store.
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:     store,
		retention: DefaultRetention,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create registers a new pending job for userID and returns it. Records
// older than the retention window are pruned on every call; there is no
// background sweep timer.
func (t *Tracker) Create(ctx context.Context, userID string) (*Job, error) {
	t.prune(ctx)

	now := t.now()
	job := &Job{
		ID:        NewID(userID, now),
		UserID:    userID,
		Status:    StatusPending,
		Progress:  0,
		Message:   "upload received",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	return job, nil
}

// Advance moves a job to the next pipeline stage. status must be exactly
// the state following the job's current one; progress never decreases
// (lower values are clamped to the current progress).
func (t *Tracker) Advance(ctx context.Context, id string, status Status, progress int, message string) error {
	job, err := t.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("advancing job %s: %w", id, err)
	}

	rank, ok := stageRank[status]
	if !ok || status == StatusCompleted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}
	if job.Status.Terminal() || rank != stageRank[job.Status]+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}

	job.Status = status
	job.Progress = max(job.Progress, clampPercent(progress))
	job.Message = message
	job.UpdatedAt = t.now()
	return t.store.Put(ctx, job)
}

// SetProgress updates progress and message within the current stage.
func (t *Tracker) SetProgress(ctx context.Context, id string, progress int, message string) error {
	job, err := t.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}

	job.Progress = max(job.Progress, clampPercent(progress))
	job.Message = message
	job.UpdatedAt = t.now()
	return t.store.Put(ctx, job)
}

// Complete moves a storing job to completed and records the result.
func (t *Tracker) Complete(ctx context.Context, id string, result Result) error {
	job, err := t.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	if job.Status != StatusStoring {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, StatusCompleted)
	}

	job.Status = StatusCompleted
	job.Progress = 100
	job.Message = "import complete"
	job.Result = &result
	job.UpdatedAt = t.now()
	return t.store.Put(ctx, job)
}

// Fail moves a job to failed from any non-terminal state and records the
// failure reason.
func (t *Tracker) Fail(ctx context.Context, id string, reason string) error {
	job, err := t.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}

	job.Status = StatusFailed
	job.Message = "import failed"
	job.Error = reason
	job.UpdatedAt = t.now()
	return t.store.Put(ctx, job)
}

// Get returns the job for id, owned by userID. When the record is
// missing the tracker reconstructs a best-effort status: the creation
// time embedded in the id establishes the job's age, and the completion
// marker provides evidence of success. Ids older than the retention
// window, malformed ids and ids not derived from userID return
// ErrNotFound.
func (t *Tracker) Get(ctx context.Context, userID, id string) (*Job, error) {
	job, err := t.store.Get(ctx, id)
	if err == nil {
		if job.UserID != userID {
			return nil, ErrNotFound
		}
		return job, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("reading job %s: %w", id, err)
	}

	return t.reconstruct(ctx, userID, id)
}

// reconstruct derives a status for a job whose record was lost.
func (t *Tracker) reconstruct(ctx context.Context, userID, id string) (*Job, error) {
	hash, createdAt, err := ParseID(id)
	if err != nil {
		return nil, ErrNotFound
	}
	if hash != userHash(userID) {
		return nil, ErrNotFound
	}
	if t.now().Sub(createdAt) > t.retention {
		return nil, ErrNotFound
	}

	job := &Job{
		ID:            id,
		UserID:        userID,
		CreatedAt:     createdAt,
		UpdatedAt:     t.now(),
		Reconstructed: true,
	}

	// A durable completion marker at or after the job's creation is the
	// only evidence that lets a reconstructed job report success.
	if t.marker != nil {
		done, err := t.marker.CompletedSince(ctx, userID, createdAt)
		if err != nil {
			t.log.Warn().Str("job_id", id).Err(err).
				Msg("completion marker lookup failed during job reconstruction")
		} else if done {
			job.Status = StatusCompleted
			job.Progress = 100
			job.Message = "import complete"
			return job, nil
		}
	}

	job.Status = StatusProcessing
	job.Progress = 50
	job.Message = "status record unavailable; the import may still be in progress"
	return job, nil
}

// prune drops records older than the retention window.
func (t *Tracker) prune(ctx context.Context) {
	all, err := t.store.List(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("listing jobs for pruning failed")
		return
	}

	cutoff := t.now().Add(-t.retention)
	for _, job := range all {
		if job.CreatedAt.Before(cutoff) {
			if err := t.store.Delete(ctx, job.ID); err != nil {
				t.log.Warn().Str("job_id", job.ID).Err(err).Msg("pruning job failed")
			}
		}
	}
}

// clampPercent bounds a progress value to 0-100.
func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
