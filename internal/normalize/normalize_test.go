package normalize

import (
	"testing"
	"time"

	"github.com/zmb3/spotify/v2"

	"github.com/skalter/playtrace/internal/model"
)

func intPtr(n int) *int { return &n }

func TestFromExport_ExtendedLayout(t *testing.T) {
	event, ok := FromExport(ExportRecord{
		TS:         "2023-05-01T10:00:00Z",
		MSPlayed:   intPtr(60000),
		TrackName:  "Song A",
		ArtistName: "Artist A",
	})
	if !ok {
		t.Fatal("expected record to normalize")
	}
	if event.TrackName != "Song A" || event.ArtistName != "Artist A" {
		t.Errorf("unexpected metadata: %q by %q", event.TrackName, event.ArtistName)
	}
	if event.DurationMs != 60000 {
		t.Errorf("expected duration 60000, got %d", event.DurationMs)
	}
	want := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	if !event.PlayedAt.Equal(want) {
		t.Errorf("expected playedAt %v, got %v", want, event.PlayedAt)
	}
	if event.Source != model.SourceBulkExport {
		t.Errorf("expected bulk-export source, got %s", event.Source)
	}
}

func TestFromExport_LegacyLayout(t *testing.T) {
	event, ok := FromExport(ExportRecord{
		EndTime:          "2021-03-01 12:30",
		LegacyMSPlayed:   intPtr(45000),
		LegacyTrackName:  "Song C",
		LegacyArtistName: "Artist C",
	})
	if !ok {
		t.Fatal("expected record to normalize")
	}
	if event.TrackName != "Song C" {
		t.Errorf("expected legacy track name, got %q", event.TrackName)
	}
	want := time.Date(2021, 3, 1, 12, 30, 0, 0, time.UTC)
	if !event.PlayedAt.Equal(want) {
		t.Errorf("expected playedAt %v, got %v", want, event.PlayedAt)
	}
}

func TestFromExport_Skips(t *testing.T) {
	cases := []struct {
		name string
		raw  ExportRecord
	}{
		{"zero duration", ExportRecord{TS: "2023-05-01T10:00:00Z", MSPlayed: intPtr(0), TrackName: "Song", ArtistName: "Artist"}},
		{"negative duration", ExportRecord{TS: "2023-05-01T10:00:00Z", MSPlayed: intPtr(-10), TrackName: "Song", ArtistName: "Artist"}},
		{"missing duration", ExportRecord{TS: "2023-05-01T10:00:00Z", TrackName: "Song", ArtistName: "Artist"}},
		{"missing track", ExportRecord{TS: "2023-05-01T10:00:00Z", MSPlayed: intPtr(1000), ArtistName: "Artist"}},
		{"missing artist", ExportRecord{TS: "2023-05-01T10:00:00Z", MSPlayed: intPtr(1000), TrackName: "Song"}},
		{"bad timestamp", ExportRecord{TS: "yesterday", MSPlayed: intPtr(1000), TrackName: "Song", ArtistName: "Artist"}},
		{"empty record", ExportRecord{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := FromExport(tc.raw); ok {
				t.Error("expected record to be skipped")
			}
		})
	}
}

func TestFromExportAll_CountsSkips(t *testing.T) {
	raw := []ExportRecord{
		{TS: "2023-05-01T10:00:00Z", MSPlayed: intPtr(1000), TrackName: "A", ArtistName: "X"},
		{TS: "2023-05-01T11:00:00Z", MSPlayed: intPtr(0), TrackName: "B", ArtistName: "X"},
		{TS: "2023-05-01T12:00:00Z", MSPlayed: intPtr(2000), TrackName: "C", ArtistName: "Y"},
	}

	events, skipped := FromExportAll(raw)
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
	if skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", skipped)
	}
}

func TestFromRecentlyPlayed(t *testing.T) {
	playedAt := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	item := spotify.RecentlyPlayedItem{
		Track: spotify.SimpleTrack{
			Name:     "Live Song",
			Duration: 180000,
			Artists: []spotify.SimpleArtist{
				{Name: "Lead"},
				{Name: "Feature"},
			},
		},
		PlayedAt: playedAt,
	}

	event, ok := FromRecentlyPlayed(item, ArtistFirst)
	if !ok {
		t.Fatal("expected item to normalize")
	}
	if event.ArtistName != "Lead" {
		t.Errorf("expected first artist only, got %q", event.ArtistName)
	}
	if event.Source != model.SourceLiveSync {
		t.Errorf("expected live-sync source, got %s", event.Source)
	}
	if !event.PlayedAt.Equal(playedAt) {
		t.Errorf("expected playedAt %v, got %v", playedAt, event.PlayedAt)
	}

	event, ok = FromRecentlyPlayed(item, ArtistJoined)
	if !ok {
		t.Fatal("expected item to normalize")
	}
	if event.ArtistName != "Lead, Feature" {
		t.Errorf("expected joined artists, got %q", event.ArtistName)
	}
}

func TestFromRecentlyPlayed_ZeroDuration(t *testing.T) {
	item := spotify.RecentlyPlayedItem{
		Track: spotify.SimpleTrack{
			Name:    "Stub",
			Artists: []spotify.SimpleArtist{{Name: "A"}},
		},
	}
	if _, ok := FromRecentlyPlayed(item, ArtistFirst); ok {
		t.Error("expected zero-duration item to be skipped")
	}
}
