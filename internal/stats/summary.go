package stats

import (
	"time"

	"github.com/skalter/playtrace/internal/model"
)

// Summary holds the scalar rollups kept per user. DateRangeStart is
// always <= DateRangeEnd whenever TotalTracks > 0; both are zero when
// the user has no events.
type Summary struct {
	TotalTracks          int64     `json:"totalTracks"`
	TotalArtists         int64     `json:"totalArtists"`
	TotalListeningTimeMs int64     `json:"totalListeningTimeMs"`
	DateRangeStart       time.Time `json:"dateRangeStart"`
	DateRangeEnd         time.Time `json:"dateRangeEnd"`
}

// Summarize computes a Summary with a full in-memory reduce. Prefer a
// store-side count/min/max query when one is available; this is the
// fallback for stores without aggregate support.
func Summarize(events []model.ListeningEvent) Summary {
	var s Summary
	artists := make(map[string]struct{})

	for _, e := range events {
		s.TotalTracks++
		s.TotalListeningTimeMs += int64(e.DurationMs)
		artists[e.ArtistName] = struct{}{}

		if s.DateRangeStart.IsZero() || e.PlayedAt.Before(s.DateRangeStart) {
			s.DateRangeStart = e.PlayedAt
		}
		if e.PlayedAt.After(s.DateRangeEnd) {
			s.DateRangeEnd = e.PlayedAt
		}
	}

	s.TotalArtists = int64(len(artists))
	return s
}
