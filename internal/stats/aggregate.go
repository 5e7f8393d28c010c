// Package stats computes the precomputed aggregate views served by the
// read API: calendar frequency, hour-of-day and day-of-week patterns,
// top tracks/artists and the per-user scalar summary.
package stats

import (
	"sort"
	"time"

	"github.com/skalter/playtrace/internal/model"
)

// Kind identifies one of the five aggregate view types.
type Kind string

// Aggregation kinds.
const (
	KindDateFrequency Kind = "date-frequency"
	KindTimeOfDay     Kind = "time-of-day"
	KindDayOfWeek     Kind = "day-of-week"
	KindTopTracks     Kind = "top-tracks"
	KindTopArtists    Kind = "top-artists"
)

// Kinds lists every aggregation kind.
var Kinds = []Kind{KindDateFrequency, KindTimeOfDay, KindDayOfWeek, KindTopTracks, KindTopArtists}

// ValidKind reports whether k names a known aggregation kind.
func ValidKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Grouping is the calendar bucket size for date-frequency aggregations.
// It is empty for every other kind.
type Grouping string

// Date-frequency groupings.
const (
	GroupingNone  Grouping = ""
	GroupingDay   Grouping = "day"
	GroupingMonth Grouping = "month"
	GroupingYear  Grouping = "year"
)

// bucketLayouts formats calendar buckets consistently per grouping.
var bucketLayouts = map[Grouping]string{
	GroupingDay:   "2006-01-02",
	GroupingMonth: "2006-01",
	GroupingYear:  "2006",
}

// DefaultTopN is how many top tracks/artists are stored per user. Callers
// slice further for display limits without recomputation.
const DefaultTopN = 50

// Aggregation is one computed view for a user, ready for storage.
type Aggregation struct {
	Kind     Kind
	Grouping Grouping
	Payload  any
}

// DateBucket is one calendar bucket of the date-frequency view.
type DateBucket struct {
	Bucket          string `json:"bucket"`
	PlayCount       int    `json:"playCount"`
	TotalDurationMs int64  `json:"totalDurationMs"`
}

// HourBucket is one hour of the time-of-day view. All 24 hours are
// always present, zero counts included.
type HourBucket struct {
	Hour      int `json:"hour"`
	PlayCount int `json:"playCount"`
}

// WeekdayBucket is one day of the day-of-week view (0=Sunday through
// 6=Saturday). All 7 days are always present, zero counts included.
type WeekdayBucket struct {
	Weekday   int    `json:"weekday"`
	Name      string `json:"name"`
	PlayCount int    `json:"playCount"`
}

// TrackStat is one entry of the top-tracks view.
type TrackStat struct {
	TrackName       string `json:"trackName"`
	ArtistName      string `json:"artistName"`
	PlayCount       int    `json:"playCount"`
	TotalDurationMs int64  `json:"totalDurationMs"`
}

// ArtistStat is one entry of the top-artists view.
type ArtistStat struct {
	ArtistName      string `json:"artistName"`
	PlayCount       int    `json:"playCount"`
	TotalDurationMs int64  `json:"totalDurationMs"`
}

// Compute produces every aggregate view for one user's full event set:
// date-frequency for each grouping, time-of-day, day-of-week, top-tracks
// and top-artists truncated to topN. Recomputation is always over the
// whole history; callers replace any previously stored views wholesale.
func Compute(events []model.ListeningEvent, topN int) []Aggregation {
	if topN <= 0 {
		topN = DefaultTopN
	}

	aggs := make([]Aggregation, 0, len(Kinds)+2)
	for _, grouping := range []Grouping{GroupingDay, GroupingMonth, GroupingYear} {
		aggs = append(aggs, Aggregation{
			Kind:     KindDateFrequency,
			Grouping: grouping,
			Payload:  dateFrequency(events, grouping),
		})
	}
	aggs = append(aggs,
		Aggregation{Kind: KindTimeOfDay, Payload: timeOfDay(events)},
		Aggregation{Kind: KindDayOfWeek, Payload: dayOfWeek(events)},
		Aggregation{Kind: KindTopTracks, Payload: topTracks(events, topN)},
		Aggregation{Kind: KindTopArtists, Payload: topArtists(events, topN)},
	)
	return aggs
}

// dateFrequency buckets plays by calendar period, sorted ascending by
// bucket start. The layouts sort lexicographically in calendar order.
func dateFrequency(events []model.ListeningEvent, grouping Grouping) []DateBucket {
	layout := bucketLayouts[grouping]

	byBucket := make(map[string]*DateBucket)
	for _, e := range events {
		key := e.PlayedAt.Format(layout)
		b, ok := byBucket[key]
		if !ok {
			b = &DateBucket{Bucket: key}
			byBucket[key] = b
		}
		b.PlayCount++
		b.TotalDurationMs += int64(e.DurationMs)
	}

	buckets := make([]DateBucket, 0, len(byBucket))
	for _, b := range byBucket {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Bucket < buckets[j].Bucket
	})
	return buckets
}

// timeOfDay counts plays per event-timestamp hour, all 24 buckets
// present.
func timeOfDay(events []model.ListeningEvent) []HourBucket {
	buckets := make([]HourBucket, 24)
	for h := range buckets {
		buckets[h].Hour = h
	}
	for _, e := range events {
		buckets[e.PlayedAt.Hour()].PlayCount++
	}
	return buckets
}

// dayOfWeek counts plays per weekday, all 7 buckets present. Weekday
// numbering follows time.Weekday: 0 is Sunday.
func dayOfWeek(events []model.ListeningEvent) []WeekdayBucket {
	buckets := make([]WeekdayBucket, 7)
	for d := range buckets {
		buckets[d].Weekday = d
		buckets[d].Name = time.Weekday(d).String()
	}
	for _, e := range events {
		buckets[e.PlayedAt.Weekday()].PlayCount++
	}
	return buckets
}

// topTracks accumulates plays per (track, artist) pair and keeps the
// topN by play count. Ties keep first-seen-event order: the sort is
// stable over accumulation order, a documented non-determinism under tie
// conditions rather than a business rule.
func topTracks(events []model.ListeningEvent, topN int) []TrackStat {
	index := make(map[string]int)
	stats := make([]TrackStat, 0)

	for _, e := range events {
		key := e.TrackName + "\x1f" + e.ArtistName
		i, ok := index[key]
		if !ok {
			i = len(stats)
			index[key] = i
			stats = append(stats, TrackStat{TrackName: e.TrackName, ArtistName: e.ArtistName})
		}
		stats[i].PlayCount++
		stats[i].TotalDurationMs += int64(e.DurationMs)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].PlayCount > stats[j].PlayCount
	})
	if len(stats) > topN {
		stats = stats[:topN]
	}
	return stats
}

// topArtists accumulates plays per artist name and keeps the topN by
// play count, with the same first-seen tie order as topTracks. Joined
// multi-artist strings group as-is; callers wanting per-artist counts
// must normalize with a single canonical artist name upstream.
func topArtists(events []model.ListeningEvent, topN int) []ArtistStat {
	index := make(map[string]int)
	stats := make([]ArtistStat, 0)

	for _, e := range events {
		i, ok := index[e.ArtistName]
		if !ok {
			i = len(stats)
			index[e.ArtistName] = i
			stats = append(stats, ArtistStat{ArtistName: e.ArtistName})
		}
		stats[i].PlayCount++
		stats[i].TotalDurationMs += int64(e.DurationMs)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].PlayCount > stats[j].PlayCount
	})
	if len(stats) > topN {
		stats = stats[:topN]
	}
	return stats
}
