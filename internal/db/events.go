package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skalter/playtrace/internal/model"
	"github.com/skalter/playtrace/internal/stats"
)

// readPageSize is the row ceiling applied to paginated reads.
const readPageSize = 1000

// EventRepository handles listening event database operations.
type EventRepository struct {
	pool *pgxpool.Pool
}

// InsertEvents appends a batch of events for a user. Callers are
// responsible for staying under the store's per-request row ceiling; the
// batch writer handles chunking.
func (r *EventRepository) InsertEvents(ctx context.Context, userID string, events []model.ListeningEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO listening_events (user_id, track_name, artist_name, played_at, duration_ms, source)
		SELECT $1, * FROM unnest($2::text[], $3::text[], $4::timestamptz[], $5::int[], $6::text[])
	`

	tracks := make([]string, len(events))
	artists := make([]string, len(events))
	playedAts := make([]time.Time, len(events))
	durations := make([]int, len(events))
	sources := make([]string, len(events))

	for i, e := range events {
		tracks[i] = e.TrackName
		artists[i] = e.ArtistName
		playedAts[i] = e.PlayedAt
		durations[i] = e.DurationMs
		sources[i] = string(e.Source)
	}

	_, err := r.pool.Exec(ctx, query, userID, tracks, artists, playedAts, durations, sources)
	if err != nil {
		return fmt.Errorf("batch inserting events: %w", err)
	}
	return nil
}

// DeleteEvents removes a user's events. When before is non-nil only
// events played at or before it are removed, which lets a re-uploaded
// bulk export replace old history without clobbering newer synced rows.
func (r *EventRepository) DeleteEvents(ctx context.Context, userID string, before *time.Time) error {
	var err error
	if before != nil {
		_, err = r.pool.Exec(ctx,
			`DELETE FROM listening_events WHERE user_id = $1 AND played_at <= $2`,
			userID, *before)
	} else {
		_, err = r.pool.Exec(ctx,
			`DELETE FROM listening_events WHERE user_id = $1`, userID)
	}
	if err != nil {
		return fmt.Errorf("deleting events: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit of the user's most recent events,
// newest first. This is the dedup reference window.
func (r *EventRepository) RecentEvents(ctx context.Context, userID string, limit int) ([]model.ListeningEvent, error) {
	query := `
		SELECT track_name, artist_name, played_at, duration_ms, source
		FROM listening_events
		WHERE user_id = $1
		ORDER BY played_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	var events []model.ListeningEvent
	for rows.Next() {
		var e model.ListeningEvent
		var source string
		if err := rows.Scan(&e.TrackName, &e.ArtistName, &e.PlayedAt, &e.DurationMs, &source); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Source = model.Source(source)
		events = append(events, e)
	}
	return events, rows.Err()
}

// AllEvents returns the user's full event set in insertion order,
// reading in keyset-paginated pages under the store's row ceiling.
func (r *EventRepository) AllEvents(ctx context.Context, userID string) ([]model.ListeningEvent, error) {
	query := `
		SELECT id, track_name, artist_name, played_at, duration_ms, source
		FROM listening_events
		WHERE user_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`

	var events []model.ListeningEvent
	var lastID int64

	for {
		rows, err := r.pool.Query(ctx, query, userID, lastID, readPageSize)
		if err != nil {
			return nil, fmt.Errorf("querying events page: %w", err)
		}

		count := 0
		for rows.Next() {
			var e model.ListeningEvent
			var source string
			if err := rows.Scan(&lastID, &e.TrackName, &e.ArtistName, &e.PlayedAt, &e.DurationMs, &source); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning event: %w", err)
			}
			e.Source = model.Source(source)
			events = append(events, e)
			count++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("reading events page: %w", err)
		}

		if count < readPageSize {
			break
		}
	}

	return events, nil
}

// CountEvents returns how many events the user has stored.
func (r *EventRepository) CountEvents(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM listening_events WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return count, nil
}

// SummaryFacts computes the scalar rollups with one store-side aggregate
// query instead of scanning every event row.
func (r *EventRepository) SummaryFacts(ctx context.Context, userID string) (stats.Summary, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(DISTINCT artist_name),
		       COALESCE(SUM(duration_ms), 0),
		       MIN(played_at),
		       MAX(played_at)
		FROM listening_events
		WHERE user_id = $1
	`

	var s stats.Summary
	var start, end *time.Time
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&s.TotalTracks,
		&s.TotalArtists,
		&s.TotalListeningTimeMs,
		&start,
		&end,
	)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("querying summary facts: %w", err)
	}

	if start != nil {
		s.DateRangeStart = *start
	}
	if end != nil {
		s.DateRangeEnd = *end
	}
	return s, nil
}
