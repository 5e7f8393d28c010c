package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skalter/playtrace/internal/stats"
)

// UserSummary is the stored per-user rollup row.
type UserSummary struct {
	UserID     string
	Summary    stats.Summary
	UploadedAt time.Time
}

// SummaryRepository handles user summary operations.
type SummaryRepository struct {
	pool *pgxpool.Pool
}

// UpsertSummary replaces the user's summary row.
func (r *SummaryRepository) UpsertSummary(ctx context.Context, userID string, s stats.Summary, uploadedAt time.Time) error {
	query := `
		INSERT INTO user_summaries (user_id, total_tracks, total_artists, total_listening_time_ms, date_range_start, date_range_end, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			total_tracks = EXCLUDED.total_tracks,
			total_artists = EXCLUDED.total_artists,
			total_listening_time_ms = EXCLUDED.total_listening_time_ms,
			date_range_start = EXCLUDED.date_range_start,
			date_range_end = EXCLUDED.date_range_end,
			uploaded_at = EXCLUDED.uploaded_at
	`

	var start, end *time.Time
	if s.TotalTracks > 0 {
		start, end = &s.DateRangeStart, &s.DateRangeEnd
	}

	_, err := r.pool.Exec(ctx, query, userID,
		s.TotalTracks, s.TotalArtists, s.TotalListeningTimeMs, start, end, uploadedAt)
	if err != nil {
		return fmt.Errorf("upserting summary: %w", err)
	}
	return nil
}

// GetSummary returns the user's summary, or ErrNotFound when no
// ingestion has completed yet.
func (r *SummaryRepository) GetSummary(ctx context.Context, userID string) (*UserSummary, error) {
	query := `
		SELECT total_tracks, total_artists, total_listening_time_ms, date_range_start, date_range_end, uploaded_at
		FROM user_summaries
		WHERE user_id = $1
	`

	summary := UserSummary{UserID: userID}
	var start, end *time.Time
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&summary.Summary.TotalTracks,
		&summary.Summary.TotalArtists,
		&summary.Summary.TotalListeningTimeMs,
		&start,
		&end,
		&summary.UploadedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}

	if start != nil {
		summary.Summary.DateRangeStart = *start
	}
	if end != nil {
		summary.Summary.DateRangeEnd = *end
	}
	return &summary, nil
}

// CompletedSince reports whether the user has a summary recorded at or
// after since. The job tracker uses this as the durable completion
// marker when reconstructing lost job records.
func (r *SummaryRepository) CompletedSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_summaries WHERE user_id = $1 AND uploaded_at >= $2)`,
		userID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying completion marker: %w", err)
	}
	return exists, nil
}
