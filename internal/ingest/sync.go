package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/skalter/playtrace/internal/dedupe"
	"github.com/skalter/playtrace/internal/model"
)

// RecentFetcher supplies recently played events from the streaming API.
// When after is the zero time the fetch starts from the beginning of
// what the source allows.
type RecentFetcher interface {
	RecentlyPlayedAfter(ctx context.Context, after time.Time) ([]model.ListeningEvent, error)
}

// SyncResult describes one incremental sync run.
type SyncResult struct {
	// FetchedCount is how many events the source returned.
	FetchedCount int `json:"fetchedCount"`

	// NewTracksCount is how many events survived deduplication and were
	// stored.
	NewTracksCount int `json:"newTracksCount"`

	SyncedAt time.Time `json:"syncedAt"`
}

// SyncRecent fetches the user's recently played events since the last
// stored one, drops those already present in the dedup reference window
// and persists the remainder. Deduplication is best-effort against a
// bounded window of recent events, not the full history.
func (s *Service) SyncRecent(ctx context.Context, userID string, fetcher RecentFetcher) (*SyncResult, error) {
	if err := s.users.EnsureUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}

	window, err := s.events.RecentEvents(ctx, userID, s.dedupeWindow)
	if err != nil {
		return nil, fmt.Errorf("loading dedup window: %w", err)
	}

	// Fetch strictly after the most recent stored event; from the
	// beginning when the user has no data yet.
	after, _ := dedupe.SinceBoundary(window)

	fetched, err := fetcher.RecentlyPlayedAfter(ctx, after)
	if err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}

	fresh := dedupe.Filter(fetched, window)
	if s.metrics != nil {
		s.metrics.EventsDeduplicated.Add(float64(len(fetched) - len(fresh)))
	}

	if err := s.writer.Write(ctx, userID, fresh, nil); err != nil {
		return nil, fmt.Errorf("storing synced events: %w", err)
	}

	syncedAt := time.Now()

	if len(fresh) > 0 {
		s.recomputeAggregates(ctx, userID, s.log)
		s.refreshSummary(ctx, userID, fresh, s.log)
		if s.metrics != nil {
			s.metrics.EventsIngested.WithLabelValues(string(model.SourceLiveSync)).Add(float64(len(fresh)))
		}
	}

	if err := s.users.UpdateLastSync(ctx, userID, syncedAt); err != nil {
		return nil, fmt.Errorf("updating last sync: %w", err)
	}

	s.log.Info().Str("user_id", userID).
		Int("fetched", len(fetched)).Int("new", len(fresh)).
		Msg("sync complete")

	return &SyncResult{
		FetchedCount:   len(fetched),
		NewTracksCount: len(fresh),
		SyncedAt:       syncedAt,
	}, nil
}
