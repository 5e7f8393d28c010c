package spotify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zmb3/spotify/v2"
)

// newAPITestClient wires a Client against a stubbed API server.
func newAPITestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(spotify.New(srv.Client(), spotify.WithBaseURL(srv.URL+"/")))
}

func playedItem(track string, playedAt time.Time, durationMs int) string {
	return fmt.Sprintf(`{
		"track": {"name": %q, "duration_ms": %d, "artists": [{"name": "Artist"}]},
		"played_at": %q
	}`, track, durationMs, playedAt.Format(time.RFC3339Nano))
}

func TestRecentlyPlayedAfter_FiltersAndNormalizes(t *testing.T) {
	after := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"items": [%s, %s, %s]}`,
			playedItem("Fresh", after.Add(2*time.Hour), 180000),
			playedItem("Podcast Stub", after.Add(time.Hour), 0),
			playedItem("Old", after.Add(-time.Hour), 180000),
		)
	}

	client := newAPITestClient(t, handler)
	events, err := client.RecentlyPlayedAfter(context.Background(), after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The boundary is strict and zero-duration items are dropped.
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].TrackName != "Fresh" || events[0].ArtistName != "Artist" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestRecentlyPlayedAfter_ZeroAfterFetchesAll(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") != "" {
			t.Errorf("expected no after cursor, got %q", r.URL.Query().Get("after"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"items": [%s]}`, playedItem("Song", base, 180000))
	}

	client := newAPITestClient(t, handler)
	events, err := client.RecentlyPlayedAfter(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

func TestRecentlyPlayedAfter_RetriesRateLimit(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32

	handler := func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": {"status": 429, "message": "rate limit exceeded"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"items": [%s]}`, playedItem("Song", base, 180000))
	}

	client := newAPITestClient(t, handler)
	events, err := client.RecentlyPlayedAfter(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event after retry, got %d", len(events))
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", calls.Load())
	}
}
