package stats

import (
	"testing"
	"time"

	"github.com/skalter/playtrace/internal/model"
)

func play(track, artist string, playedAt time.Time, durationMs int) model.ListeningEvent {
	return model.ListeningEvent{
		TrackName:  track,
		ArtistName: artist,
		PlayedAt:   playedAt,
		DurationMs: durationMs,
		Source:     model.SourceBulkExport,
	}
}

func findPayload(t *testing.T, aggs []Aggregation, kind Kind, grouping Grouping) any {
	t.Helper()
	for _, a := range aggs {
		if a.Kind == kind && a.Grouping == grouping {
			return a.Payload
		}
	}
	t.Fatalf("no aggregation for kind %s grouping %q", kind, grouping)
	return nil
}

func TestCompute_ProducesAllViews(t *testing.T) {
	events := []model.ListeningEvent{
		play("A", "X", time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC), 1000),
	}
	aggs := Compute(events, 0)

	// Three date-frequency groupings plus the four other kinds.
	if len(aggs) != 7 {
		t.Fatalf("expected 7 aggregations, got %d", len(aggs))
	}
	for _, kind := range Kinds {
		found := false
		for _, a := range aggs {
			if a.Kind == kind {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing aggregation kind %s", kind)
		}
	}
}

func TestDateFrequency_BucketFormats(t *testing.T) {
	events := []model.ListeningEvent{
		play("A", "X", time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC), 1000),
		play("B", "X", time.Date(2023, 5, 1, 14, 0, 0, 0, time.UTC), 2000),
		play("C", "X", time.Date(2023, 6, 10, 9, 0, 0, 0, time.UTC), 3000),
		play("D", "X", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), 4000),
	}
	aggs := Compute(events, 0)

	day := findPayload(t, aggs, KindDateFrequency, GroupingDay).([]DateBucket)
	if len(day) != 3 {
		t.Fatalf("expected 3 day buckets, got %d", len(day))
	}
	if day[0].Bucket != "2023-05-01" || day[0].PlayCount != 2 || day[0].TotalDurationMs != 3000 {
		t.Errorf("unexpected first day bucket: %+v", day[0])
	}

	month := findPayload(t, aggs, KindDateFrequency, GroupingMonth).([]DateBucket)
	if len(month) != 3 || month[0].Bucket != "2023-05" {
		t.Errorf("unexpected month buckets: %+v", month)
	}

	year := findPayload(t, aggs, KindDateFrequency, GroupingYear).([]DateBucket)
	if len(year) != 2 || year[0].Bucket != "2023" || year[0].PlayCount != 3 {
		t.Errorf("unexpected year buckets: %+v", year)
	}

	// Buckets sort in calendar order.
	for i := 1; i < len(day); i++ {
		if day[i].Bucket < day[i-1].Bucket {
			t.Errorf("day buckets out of order: %+v", day)
		}
	}
}

func TestTimeOfDay_AllHoursPresent(t *testing.T) {
	events := []model.ListeningEvent{
		play("A", "X", time.Date(2023, 5, 1, 8, 15, 0, 0, time.UTC), 1000),
		play("B", "X", time.Date(2023, 5, 2, 8, 45, 0, 0, time.UTC), 1000),
		play("C", "X", time.Date(2023, 5, 3, 22, 0, 0, 0, time.UTC), 1000),
	}
	hours := findPayload(t, Compute(events, 0), KindTimeOfDay, GroupingNone).([]HourBucket)

	if len(hours) != 24 {
		t.Fatalf("expected 24 hour buckets, got %d", len(hours))
	}
	sum := 0
	for h, bucket := range hours {
		if bucket.Hour != h {
			t.Errorf("bucket %d reports hour %d", h, bucket.Hour)
		}
		sum += bucket.PlayCount
	}
	if sum != len(events) {
		t.Errorf("hour counts sum to %d, expected %d", sum, len(events))
	}
	if hours[8].PlayCount != 2 {
		t.Errorf("expected 2 plays at hour 8, got %d", hours[8].PlayCount)
	}
}

func TestDayOfWeek_AllDaysPresent(t *testing.T) {
	// 2023-05-01 is a Monday.
	events := []model.ListeningEvent{
		play("A", "X", time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC), 1000),
		play("B", "X", time.Date(2023, 5, 8, 8, 0, 0, 0, time.UTC), 1000),
		play("C", "X", time.Date(2023, 5, 7, 8, 0, 0, 0, time.UTC), 1000),
	}
	days := findPayload(t, Compute(events, 0), KindDayOfWeek, GroupingNone).([]WeekdayBucket)

	if len(days) != 7 {
		t.Fatalf("expected 7 weekday buckets, got %d", len(days))
	}
	sum := 0
	for _, bucket := range days {
		sum += bucket.PlayCount
	}
	if sum != len(events) {
		t.Errorf("weekday counts sum to %d, expected %d", sum, len(events))
	}
	if days[0].Name != "Sunday" || days[0].PlayCount != 1 {
		t.Errorf("unexpected Sunday bucket: %+v", days[0])
	}
	if days[1].Name != "Monday" || days[1].PlayCount != 2 {
		t.Errorf("unexpected Monday bucket: %+v", days[1])
	}
}

func TestTopTracks_OrderAndTruncation(t *testing.T) {
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	var events []model.ListeningEvent
	// "Hit" 3 plays, "Mid" 2 plays, "Rare" 1 play.
	for i := 0; i < 3; i++ {
		events = append(events, play("Hit", "X", base.Add(time.Duration(i)*time.Hour), 1000))
	}
	for i := 0; i < 2; i++ {
		events = append(events, play("Mid", "Y", base.Add(time.Duration(i)*time.Minute), 2000))
	}
	events = append(events, play("Rare", "Z", base, 3000))

	tracks := findPayload(t, Compute(events, 2), KindTopTracks, GroupingNone).([]TrackStat)
	if len(tracks) != 2 {
		t.Fatalf("expected truncation to 2 tracks, got %d", len(tracks))
	}
	if tracks[0].TrackName != "Hit" || tracks[0].PlayCount != 3 || tracks[0].TotalDurationMs != 3000 {
		t.Errorf("unexpected top track: %+v", tracks[0])
	}
	if tracks[1].TrackName != "Mid" {
		t.Errorf("unexpected second track: %+v", tracks[1])
	}
}

func TestTopTracks_TieKeepsFirstSeenOrder(t *testing.T) {
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	events := []model.ListeningEvent{
		play("First", "X", base, 1000),
		play("Second", "Y", base.Add(time.Hour), 1000),
		play("First", "X", base.Add(2*time.Hour), 1000),
		play("Second", "Y", base.Add(3*time.Hour), 1000),
	}

	tracks := findPayload(t, Compute(events, 0), KindTopTracks, GroupingNone).([]TrackStat)
	if tracks[0].TrackName != "First" || tracks[1].TrackName != "Second" {
		t.Errorf("expected first-seen tie order, got %+v", tracks)
	}
}

func TestTopTracks_SameTitleDifferentArtists(t *testing.T) {
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	events := []model.ListeningEvent{
		play("Cover", "Original Artist", base, 1000),
		play("Cover", "Tribute Band", base.Add(time.Hour), 1000),
	}

	tracks := findPayload(t, Compute(events, 0), KindTopTracks, GroupingNone).([]TrackStat)
	if len(tracks) != 2 {
		t.Errorf("expected separate entries per artist, got %+v", tracks)
	}
}

func TestTopArtists(t *testing.T) {
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	events := []model.ListeningEvent{
		play("A", "Big", base, 1000),
		play("B", "Big", base.Add(time.Hour), 2000),
		play("C", "Small", base, 500),
	}

	artists := findPayload(t, Compute(events, 0), KindTopArtists, GroupingNone).([]ArtistStat)
	if len(artists) != 2 {
		t.Fatalf("expected 2 artists, got %d", len(artists))
	}
	if artists[0].ArtistName != "Big" || artists[0].PlayCount != 2 || artists[0].TotalDurationMs != 3000 {
		t.Errorf("unexpected top artist: %+v", artists[0])
	}
}

func TestCompute_EmptyHistory(t *testing.T) {
	aggs := Compute(nil, 0)

	hours := findPayload(t, aggs, KindTimeOfDay, GroupingNone).([]HourBucket)
	if len(hours) != 24 {
		t.Errorf("expected 24 zero hour buckets, got %d", len(hours))
	}
	days := findPayload(t, aggs, KindDayOfWeek, GroupingNone).([]WeekdayBucket)
	if len(days) != 7 {
		t.Errorf("expected 7 zero weekday buckets, got %d", len(days))
	}
	tracks := findPayload(t, aggs, KindTopTracks, GroupingNone).([]TrackStat)
	if len(tracks) != 0 {
		t.Errorf("expected no top tracks, got %+v", tracks)
	}
}

func TestValidKind(t *testing.T) {
	for _, kind := range Kinds {
		if !ValidKind(kind) {
			t.Errorf("expected %s to be valid", kind)
		}
	}
	if ValidKind("play-streaks") {
		t.Error("expected unknown kind to be invalid")
	}
}
