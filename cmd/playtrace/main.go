// Command playtrace runs the listening-history ingestion and stats
// service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/oauth2"

	"github.com/skalter/playtrace/internal/archive"
	"github.com/skalter/playtrace/internal/batch"
	"github.com/skalter/playtrace/internal/config"
	"github.com/skalter/playtrace/internal/db"
	"github.com/skalter/playtrace/internal/ingest"
	"github.com/skalter/playtrace/internal/jobs"
	"github.com/skalter/playtrace/internal/logging"
	"github.com/skalter/playtrace/internal/metrics"
	spotifyclient "github.com/skalter/playtrace/internal/spotify"
	"github.com/skalter/playtrace/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log := logging.L()

	ctx := context.Background()

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if err := database.InitSchema(ctx); err != nil {
		return err
	}

	// Job records default to process memory; a store path swaps in the
	// durable Badger store without changing any pipeline call site.
	var jobStore jobs.Store
	if cfg.Jobs.StorePath != "" {
		badgerStore, err := jobs.OpenBadgerStore(cfg.Jobs.StorePath)
		if err != nil {
			return err
		}
		defer badgerStore.Close()
		jobStore = badgerStore
	} else {
		jobStore = jobs.NewMemoryStore()
	}

	tracker := jobs.NewTracker(jobStore,
		jobs.WithRetention(cfg.Jobs.Retention),
		jobs.WithCompletionMarker(database.Summaries()),
		jobs.WithTrackerLogger(log),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipeline := metrics.NewPipeline(registry)

	service := ingest.NewService(ingest.ServiceConfig{
		Events:       database.Events(),
		Aggregations: database.Aggregations(),
		Summaries:    database.Summaries(),
		Users:        database.Users(),
		Tracker:      tracker,
		Extractor:    archive.New(archive.WithLogger(log)),
		Writer: batch.NewWriter(database.Events(),
			batch.WithChunkSize(cfg.Ingest.ChunkSize),
			batch.WithConcurrency(cfg.Ingest.WriteConcurrency),
		),
		Metrics:      pipeline,
		TopN:         cfg.Ingest.TopN,
		DedupeWindow: cfg.Ingest.DedupeWindow,
		Logger:       log,
	})

	if cfg.Sync.Enabled {
		scheduler := ingest.NewScheduler(
			service,
			database.Users(),
			tokenClientFactory(cfg.Sync.TokenURL),
			cfg.Sync.Interval,
			cfg.Sync.UserDelay,
			log,
		)
		go func() {
			if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("scheduler stopped")
			}
		}()
	}

	handlers := web.NewHandlers(
		web.HeaderIdentity{Header: cfg.Server.IdentityHeader},
		service,
		database.Summaries(),
		database.Aggregations(),
		cfg.Ingest.MaxArchiveBytes,
	)

	server := web.NewServer(web.ServerConfig{
		Addr:            cfg.Server.Addr,
		Handlers:        handlers,
		MetricsGatherer: registry,
		Pinger:          database,
	})

	return server.Run()
}

// tokenClientFactory builds sync clients by asking the auth collaborator
// for each user's streaming credential. Users without a usable
// credential are skipped for that sweep.
func tokenClientFactory(tokenURL string) ingest.ClientFactory {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, userID string) (ingest.RecentFetcher, error) {
		reqURL := tokenURL + "?user_id=" + url.QueryEscape(userID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating token request: %w", err)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching credential: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("credential endpoint returned %d", resp.StatusCode)
		}

		var body struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decoding credential: %w", err)
		}
		if body.AccessToken == "" {
			return nil, fmt.Errorf("credential endpoint returned no token")
		}

		return spotifyclient.NewWithToken(ctx, &oauth2.Token{
			AccessToken: body.AccessToken,
			TokenType:   "Bearer",
		}), nil
	}
}
