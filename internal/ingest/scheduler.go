package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// UserDirectory lists the users eligible for scheduled sync.
type UserDirectory interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// ClientFactory builds an authenticated recently-played fetcher for one
// user. Implementations obtain credentials from the auth collaborator;
// a user without usable credentials returns an error and is skipped for
// that sweep.
type ClientFactory func(ctx context.Context, userID string) (RecentFetcher, error)

// Scheduler periodically syncs every known user. Users are processed
// sequentially with a minimum inter-user spacing to respect upstream
// rate limits; throughput is deliberately traded for politeness.
type Scheduler struct {
	service  *Service
	users    UserDirectory
	clients  ClientFactory
	interval time.Duration
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewScheduler creates a Scheduler sweeping every interval, spacing
// per-user syncs at least userDelay apart.
func NewScheduler(service *Service, users UserDirectory, clients ClientFactory, interval, userDelay time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if userDelay <= 0 {
		userDelay = time.Second
	}
	return &Scheduler{
		service:  service,
		users:    users,
		clients:  clients,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(userDelay), 1),
		log:      log,
	}
}

// Run sweeps all users on the configured interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep syncs each user in turn. Per-user failures are logged and the
// sweep continues; one user's revoked credentials must not starve the
// rest.
func (s *Scheduler) sweep(ctx context.Context) {
	userIDs, err := s.users.ListUserIDs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("listing users for scheduled sync failed")
		return
	}

	for _, userID := range userIDs {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		fetcher, err := s.clients(ctx, userID)
		if err != nil {
			s.log.Warn().Str("user_id", userID).Err(err).
				Msg("no usable sync client; skipping user")
			continue
		}

		if _, err := s.service.SyncRecent(ctx, userID, fetcher); err != nil {
			s.log.Error().Str("user_id", userID).Err(err).Msg("scheduled sync failed")
		}
	}
}
