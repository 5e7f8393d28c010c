// Package dedupe filters newly fetched listening events against a
// reference window of already-stored events.
//
// The window is a bounded sample of the user's most recent events, not
// the full history: re-scanning everything on every sync is unaffordable,
// so this filter is best-effort by design. The window size is a tunable
// trade-off between sync cost and duplicate risk.
package dedupe

import (
	"time"

	"github.com/skalter/playtrace/internal/model"
)

// Filter returns the events from incoming whose natural key — exact
// track name, artist name and play timestamp — is absent from the
// reference window. Duplicates within incoming itself are also dropped,
// keeping the first occurrence. Input order is preserved.
func Filter(incoming, window []model.ListeningEvent) []model.ListeningEvent {
	seen := make(map[string]struct{}, len(window)+len(incoming))
	for _, e := range window {
		seen[e.Key()] = struct{}{}
	}

	fresh := make([]model.ListeningEvent, 0, len(incoming))
	for _, e := range incoming {
		key := e.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, e)
	}
	return fresh
}

// SinceBoundary returns the timestamp of the most recent event in the
// window, to be used as the strictly-after boundary for the next upstream
// fetch. Returns ok=false when the window is empty, meaning the fetch
// should start from the beginning of what the source allows.
func SinceBoundary(window []model.ListeningEvent) (time.Time, bool) {
	var newest time.Time
	for _, e := range window {
		if e.PlayedAt.After(newest) {
			newest = e.PlayedAt
		}
	}
	return newest, !newest.IsZero()
}
