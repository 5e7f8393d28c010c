package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zmb3/spotify/v2"

	"github.com/skalter/playtrace/internal/model"
	"github.com/skalter/playtrace/internal/normalize"
)

// pageLimit is the API maximum for one recently-played request.
const pageLimit = 50

// retryDelays is the backoff schedule for rate-limited requests.
var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// ErrRateLimited is returned when the API rate limit persists through
// every retry.
var ErrRateLimited = errors.New("rate limit exceeded")

// RecentlyPlayedAfter fetches the user's recently played tracks strictly
// newer than after, paginating backwards in time via the before cursor.
// A zero after fetches everything the API still retains. Multi-artist
// tracks are flattened to the first-listed artist so downstream
// top-artist grouping is not polluted by joined names.
func (c *Client) RecentlyPlayedAfter(ctx context.Context, after time.Time) ([]model.ListeningEvent, error) {
	var events []model.ListeningEvent

	opts := spotify.RecentlyPlayedOptions{Limit: pageLimit}
	if !after.IsZero() {
		opts.AfterEpochMs = after.UnixMilli()
	}

	for {
		items, err := c.recentlyPlayed(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("fetching recently played: %w", err)
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			if !after.IsZero() && !item.PlayedAt.After(after) {
				continue
			}
			event, ok := normalize.FromRecentlyPlayed(item, normalize.ArtistFirst)
			if !ok {
				continue
			}
			events = append(events, event)
		}

		if len(items) < pageLimit {
			break
		}

		// Items arrive newest first; continue backwards from the oldest.
		oldest := items[len(items)-1].PlayedAt
		if !after.IsZero() && !oldest.After(after) {
			break
		}
		opts = spotify.RecentlyPlayedOptions{Limit: pageLimit, BeforeEpochMs: oldest.UnixMilli()}
	}

	return events, nil
}

// recentlyPlayed performs one page request, retrying on rate limit with
// exponential backoff.
func (c *Client) recentlyPlayed(ctx context.Context, opts spotify.RecentlyPlayedOptions) ([]spotify.RecentlyPlayedItem, error) {
	var lastErr error

	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelays[attempt-1]):
			}
		}

		items, err := c.api.PlayerRecentlyPlayedOpt(ctx, &opts)
		if err == nil {
			return items, nil
		}

		if isRateLimited(err) {
			lastErr = fmt.Errorf("%w: %v", ErrRateLimited, err)
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

// isRateLimited reports whether err is an API rate-limit response.
func isRateLimited(err error) bool {
	var apiErr spotify.Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}
