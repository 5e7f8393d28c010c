// Package model defines the core data types shared across the ingestion
// and aggregation pipeline.
package model

import (
	"time"
)

// Source identifies where a listening event originated.
type Source string

// Known event sources.
const (
	// SourceBulkExport marks events parsed from an uploaded history archive.
	SourceBulkExport Source = "bulk-export"

	// SourceLiveSync marks events fetched from the streaming API.
	SourceLiveSync Source = "live-sync"
)

// ListeningEvent represents one completed play of a track.
//
// Events are immutable once persisted: they are never updated in place,
// only inserted or purged in bulk per user.
type ListeningEvent struct {
	// TrackName is the track title as reported by the source.
	TrackName string

	// ArtistName is the artist as reported by the source. Some sources
	// join multiple artists into one comma-separated string.
	ArtistName string

	// PlayedAt is when the play ended, at second or finer precision.
	PlayedAt time.Time

	// DurationMs is the elapsed play time in milliseconds. Always >= 0;
	// zero-duration records are dropped during normalization.
	DurationMs int

	// Source records which ingestion path produced the event.
	Source Source
}

// Key returns the natural identity of the event: exact track name, artist
// name and play timestamp. Two events with equal keys are the same play.
func (e ListeningEvent) Key() string {
	return e.TrackName + "\x1f" + e.ArtistName + "\x1f" + e.PlayedAt.UTC().Format(time.RFC3339Nano)
}
