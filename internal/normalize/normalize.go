// Package normalize converts raw listening records from bulk exports and
// the live streaming API into the canonical ListeningEvent shape.
package normalize

import (
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"

	"github.com/skalter/playtrace/internal/model"
)

// ExportRecord is one raw entry from a bulk-export history file. Exports
// have shipped two field layouts over time; a record populates exactly
// one of them.
type ExportRecord struct {
	// Extended history layout.
	TS         string `json:"ts"`
	MSPlayed   *int   `json:"ms_played"`
	TrackName  string `json:"master_metadata_track_name"`
	ArtistName string `json:"master_metadata_album_artist_name"`
	AlbumName  string `json:"master_metadata_album_album_name"`

	// Legacy account-data layout.
	EndTime          string `json:"endTime"`
	LegacyMSPlayed   *int   `json:"msPlayed"`
	LegacyTrackName  string `json:"trackName"`
	LegacyArtistName string `json:"artistName"`
}

// legacyTimeLayout is the minute-precision format of legacy exports.
const legacyTimeLayout = "2006-01-02 15:04"

// ArtistMode selects how multi-artist tracks are flattened.
type ArtistMode int

const (
	// ArtistFirst keeps only the first-listed artist. Use this wherever a
	// single canonical artist name is required, such as top-artist
	// grouping, so joined strings do not produce spurious artists.
	ArtistFirst ArtistMode = iota

	// ArtistJoined joins all artist names with ", ", matching the
	// simplified aggregate format of bulk exports.
	ArtistJoined
)

// FromExport converts a bulk-export record into a ListeningEvent.
//
// The exported timestamp already represents the time the play ended and
// is used as PlayedAt unchanged. Returns ok=false for records that are
// not real listens: zero play duration, missing track or artist metadata
// (podcast and video rows leave these fields empty), or an unparsable
// timestamp.
func FromExport(raw ExportRecord) (model.ListeningEvent, bool) {
	track, artist := raw.TrackName, raw.ArtistName
	tsValue, msPlayed := raw.TS, raw.MSPlayed

	if tsValue == "" && raw.EndTime != "" {
		track, artist = raw.LegacyTrackName, raw.LegacyArtistName
		tsValue, msPlayed = raw.EndTime, raw.LegacyMSPlayed
	}

	if track == "" || artist == "" || msPlayed == nil || *msPlayed <= 0 {
		return model.ListeningEvent{}, false
	}

	playedAt, err := parseExportTime(tsValue)
	if err != nil {
		return model.ListeningEvent{}, false
	}

	return model.ListeningEvent{
		TrackName:  track,
		ArtistName: artist,
		PlayedAt:   playedAt,
		DurationMs: *msPlayed,
		Source:     model.SourceBulkExport,
	}, true
}

// FromExportAll normalizes a batch of export records, dropping skips.
// The second return value is how many records were dropped.
func FromExportAll(raw []ExportRecord) ([]model.ListeningEvent, int) {
	events := make([]model.ListeningEvent, 0, len(raw))
	for _, r := range raw {
		event, ok := FromExport(r)
		if !ok {
			continue
		}
		events = append(events, event)
	}
	return events, len(raw) - len(events)
}

// FromRecentlyPlayed converts a recently-played API item into a
// ListeningEvent. The item's play timestamp is used as PlayedAt.
// Returns ok=false when the reported duration is zero.
func FromRecentlyPlayed(item spotify.RecentlyPlayedItem, mode ArtistMode) (model.ListeningEvent, bool) {
	duration := int(item.Track.Duration)
	if duration <= 0 {
		return model.ListeningEvent{}, false
	}

	return model.ListeningEvent{
		TrackName:  item.Track.Name,
		ArtistName: flattenArtists(item.Track.Artists, mode),
		PlayedAt:   item.PlayedAt,
		DurationMs: duration,
		Source:     model.SourceLiveSync,
	}, true
}

// flattenArtists reduces a track's artist list to one string.
func flattenArtists(artists []spotify.SimpleArtist, mode ArtistMode) string {
	if len(artists) == 0 {
		return ""
	}
	if mode == ArtistFirst {
		return artists[0].Name
	}

	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

// parseExportTime parses the two timestamp formats seen in exports:
// RFC 3339 in extended history and minute-precision local time in legacy
// files.
func parseExportTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(legacyTimeLayout, value)
}
