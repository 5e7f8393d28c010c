// Package config loads application configuration from defaults, an
// optional YAML file and PLAYTRACE_-prefixed environment variables, in
// that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "PLAYTRACE_CONFIG"

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"playtrace.yaml",
	"playtrace.yml",
	"/etc/playtrace/config.yaml",
}

// envPrefix is stripped from environment variable names before mapping
// them to config paths: PLAYTRACE_SERVER_ADDR -> server.addr.
const envPrefix = "PLAYTRACE_"

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Sync     SyncConfig     `koanf:"sync"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `koanf:"addr"`

	// IdentityHeader names the trusted header carrying the authenticated
	// user id, set by the fronting auth proxy.
	IdentityHeader string `koanf:"identity_header"`
}

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// ChunkSize is the per-request row ceiling of the backing store.
	ChunkSize int `koanf:"chunk_size"`

	// WriteConcurrency bounds concurrent chunk writes.
	WriteConcurrency int `koanf:"write_concurrency"`

	// DedupeWindow is the number of most-recent stored events loaded as
	// the dedup reference window on each sync. Larger windows reduce the
	// chance of duplicates surviving a retried batch at the cost of one
	// larger indexed read per sync.
	DedupeWindow int `koanf:"dedupe_window"`

	// TopN is how many top tracks/artists are stored per user.
	TopN int `koanf:"top_n"`

	// MaxArchiveBytes caps the size of an uploaded archive.
	MaxArchiveBytes int64 `koanf:"max_archive_bytes"`
}

// JobsConfig tunes the upload job tracker.
type JobsConfig struct {
	// Retention is how long finished or stale job records are kept.
	Retention time.Duration `koanf:"retention"`

	// StorePath, when set, persists job records in a Badger database at
	// this directory instead of process memory.
	StorePath string `koanf:"store_path"`
}

// SyncConfig tunes the periodic background sync.
type SyncConfig struct {
	Enabled bool `koanf:"enabled"`

	// Interval is how often the scheduler sweeps all users.
	Interval time.Duration `koanf:"interval"`

	// UserDelay is the minimum spacing between per-user syncs within a
	// sweep, to respect upstream rate limits.
	UserDelay time.Duration `koanf:"user_delay"`

	// TokenURL is the auth collaborator endpoint that exchanges a user
	// id for that user's streaming-API bearer credential. Required when
	// Enabled is true.
	TokenURL string `koanf:"token_url"`
}

// defaultConfig returns the configuration defaults applied before file
// and environment overrides.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			IdentityHeader: "X-User-ID",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ingest: IngestConfig{
			ChunkSize:        1000,
			WriteConcurrency: 3,
			DedupeWindow:     2000,
			TopN:             50,
			MaxArchiveBytes:  256 << 20, // 256 MiB
		},
		Jobs: JobsConfig{
			Retention: time.Hour,
		},
		Sync: SyncConfig{
			Enabled:   false,
			Interval:  time.Hour,
			UserDelay: 2 * time.Second,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and
// environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and tunable bounds.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (PLAYTRACE_DATABASE_URL)")
	}
	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("ingest.chunk_size must be >= 1, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.WriteConcurrency < 1 {
		return fmt.Errorf("ingest.write_concurrency must be >= 1, got %d", c.Ingest.WriteConcurrency)
	}
	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("jobs.retention must be positive, got %s", c.Jobs.Retention)
	}
	if c.Sync.Enabled && c.Sync.TokenURL == "" {
		return fmt.Errorf("sync.token_url is required when sync.enabled is true")
	}
	return nil
}

// envTransform maps PLAYTRACE_SERVER_ADDR to server.addr. The first
// underscore separates the section from the key; later underscores are
// kept so multi-word keys like chunk_size round-trip.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// findConfigFile returns the first existing config file path, preferring
// the PLAYTRACE_CONFIG override.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
