package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fixedMarker is a CompletionMarker returning a canned answer.
type fixedMarker struct {
	done bool
	err  error
}

func (m fixedMarker) CompletedSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	return m.done, m.err
}

func newTestTracker(t *testing.T, opts ...TrackerOption) (*Tracker, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewTracker(store, opts...), store
}

func TestTracker_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	job, err := tracker.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("creating job: %v", err)
	}
	if job.Status != StatusPending || job.Progress != 0 {
		t.Errorf("unexpected initial state: %s %d", job.Status, job.Progress)
	}

	steps := []struct {
		status   Status
		progress int
	}{
		{StatusExtracting, 5},
		{StatusProcessing, 20},
		{StatusStoring, 30},
	}
	for _, step := range steps {
		if err := tracker.Advance(ctx, job.ID, step.status, step.progress, "working"); err != nil {
			t.Fatalf("advancing to %s: %v", step.status, err)
		}
	}

	result := Result{ImportedCount: 42, SkippedCount: 3}
	if err := tracker.Complete(ctx, job.ID, result); err != nil {
		t.Fatalf("completing job: %v", err)
	}

	got, err := tracker.Get(ctx, "user-1", job.ID)
	if err != nil {
		t.Fatalf("reading job: %v", err)
	}
	if got.Status != StatusCompleted || got.Progress != 100 {
		t.Errorf("unexpected final state: %s %d", got.Status, got.Progress)
	}
	if got.Result == nil || got.Result.ImportedCount != 42 {
		t.Errorf("unexpected result: %+v", got.Result)
	}
}

func TestTracker_RejectsSkippedStage(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	job, err := tracker.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("creating job: %v", err)
	}

	// pending -> processing skips extracting.
	err = tracker.Advance(ctx, job.ID, StatusProcessing, 20, "working")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	// Completion requires the storing state.
	err = tracker.Complete(ctx, job.ID, Result{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTracker_TerminalIsImmutable(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	job, _ := tracker.Create(ctx, "user-1")
	if err := tracker.Fail(ctx, job.ID, "archive unreadable"); err != nil {
		t.Fatalf("failing job: %v", err)
	}

	if err := tracker.Advance(ctx, job.ID, StatusExtracting, 5, "working"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on advance, got %v", err)
	}
	if err := tracker.Fail(ctx, job.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on re-fail, got %v", err)
	}
	if err := tracker.SetProgress(ctx, job.ID, 80, "late update"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on progress, got %v", err)
	}

	got, err := tracker.Get(ctx, "user-1", job.ID)
	if err != nil {
		t.Fatalf("reading job: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "archive unreadable" {
		t.Errorf("unexpected state after failed mutations: %s %q", got.Status, got.Error)
	}
}

func TestTracker_ProgressNeverDecreases(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	job, _ := tracker.Create(ctx, "user-1")
	if err := tracker.Advance(ctx, job.ID, StatusExtracting, 40, "working"); err != nil {
		t.Fatalf("advancing: %v", err)
	}
	if err := tracker.SetProgress(ctx, job.ID, 10, "late report"); err != nil {
		t.Fatalf("setting progress: %v", err)
	}

	got, _ := tracker.Get(ctx, "user-1", job.ID)
	if got.Progress != 40 {
		t.Errorf("expected progress to hold at 40, got %d", got.Progress)
	}
	if got.Message != "late report" {
		t.Errorf("expected message to update, got %q", got.Message)
	}
}

func TestTracker_PrunesOnCreate(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker, store := newTestTracker(t, withClock(func() time.Time { return current }))

	old, _ := tracker.Create(ctx, "user-1")

	current = current.Add(2 * time.Hour)
	fresh, _ := tracker.Create(ctx, "user-1")

	if _, err := store.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected old job pruned, got %v", err)
	}
	if _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Errorf("expected fresh job kept, got %v", err)
	}
}

func TestTracker_GetRejectsForeignUser(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	job, _ := tracker.Create(ctx, "user-1")
	if _, err := tracker.Get(ctx, "user-2", job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign user, got %v", err)
	}
}

func TestTracker_ReconstructsCompletedJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t,
		withClock(func() time.Time { return now }),
		WithCompletionMarker(fixedMarker{done: true}),
	)

	// A valid id for a job whose record was never stored.
	id := NewID("user-1", now.Add(-10*time.Minute))

	job, err := tracker.Get(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("reconstructing job: %v", err)
	}
	if !job.Reconstructed {
		t.Error("expected reconstructed flag")
	}
	if job.Status != StatusCompleted || job.Progress != 100 {
		t.Errorf("unexpected reconstructed state: %s %d", job.Status, job.Progress)
	}
}

func TestTracker_ReconstructsInFlightJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t,
		withClock(func() time.Time { return now }),
		WithCompletionMarker(fixedMarker{done: false}),
	)

	id := NewID("user-1", now.Add(-10*time.Minute))

	job, err := tracker.Get(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("reconstructing job: %v", err)
	}
	if job.Status != StatusProcessing || job.Progress != 50 {
		t.Errorf("unexpected reconstructed state: %s %d", job.Status, job.Progress)
	}
	if !job.Reconstructed {
		t.Error("expected reconstructed flag")
	}
}

func TestTracker_ReconstructionRejections(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t,
		withClock(func() time.Time { return now }),
		WithCompletionMarker(fixedMarker{done: true}),
	)

	cases := []struct {
		name string
		id   string
	}{
		{"malformed", "not-a-job-id"},
		{"foreign user hash", NewID("someone-else", now.Add(-10*time.Minute))},
		{"expired", NewID("user-1", now.Add(-2*time.Hour))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tracker.Get(ctx, "user-1", tc.id); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestParseID_RoundTrip(t *testing.T) {
	createdAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	id := NewID("user-1", createdAt)

	hash, parsed, err := ParseID(id)
	if err != nil {
		t.Fatalf("parsing id: %v", err)
	}
	if hash == "" {
		t.Error("expected a user hash")
	}
	if !parsed.Equal(createdAt) {
		t.Errorf("expected creation time %v, got %v", createdAt, parsed)
	}
}

func TestParseID_Malformed(t *testing.T) {
	for _, id := range []string{"", "abc", "abc.def.ghi", ".123.abc", "abc.-5.def"} {
		if _, _, err := ParseID(id); !errors.Is(err, ErrMalformedID) {
			t.Errorf("ParseID(%q): expected ErrMalformedID, got %v", id, err)
		}
	}
}
