package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 4000
	DefaultBackendTimeout  = 30 * time.Second
	DefaultSyncThreshold   = 10
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollDuration = 30 * time.Minute
	DefaultMaxPollErrors   = 1
	DefaultMaxImportRows   = 100
	DefaultCacheTTL        = 24 * time.Hour
	DefaultMetricsPort     = ":9090"

	DefaultHousekeepingInterval = 10 * time.Minute
	DefaultSessionIdleTTL       = 24 * time.Hour
	DefaultHistoryRetention     = 90 * 24 * time.Hour
)

// Load reads a copydesk.yaml file and returns a Config with all
// environment variables resolved and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvironmentVariables(&cfg)
	resolveEnvVars(&cfg)
	setDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvironmentVariables sets OS env vars from the environment_variables section.
func applyEnvironmentVariables(cfg *Config) {
	for k, v := range cfg.EnvironmentVariables {
		os.Setenv(k, ResolveEnvVar(v))
	}
}

func resolveEnvVars(cfg *Config) {
	cfg.Backend.BaseURL = ResolveEnvVar(cfg.Backend.BaseURL)
	cfg.Backend.APIKey = ResolveEnvVar(cfg.Backend.APIKey)
	cfg.Server.MasterKey = ResolveEnvVar(cfg.Server.MasterKey)
	cfg.Server.JWTSecret = ResolveEnvVar(cfg.Server.JWTSecret)
	cfg.DatabaseURL = ResolveEnvVar(cfg.DatabaseURL)
	cfg.Cache.RedisURL = ResolveEnvVar(cfg.Cache.RedisURL)
	cfg.Archive.AccountURL = ResolveEnvVar(cfg.Archive.AccountURL)
	cfg.Secrets.Token = ResolveEnvVar(cfg.Secrets.Token)
	cfg.Secrets.SecretID = ResolveEnvVar(cfg.Secrets.SecretID)
	cfg.Notify.WebhookURL = ResolveEnvVar(cfg.Notify.WebhookURL)
	cfg.Notify.SlackWebhookURL = ResolveEnvVar(cfg.Notify.SlackWebhookURL)
	for k, v := range cfg.Notify.WebhookHeaders {
		cfg.Notify.WebhookHeaders[k] = ResolveEnvVar(v)
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = DefaultBackendTimeout
	}

	b := &cfg.Batch
	if b.SyncThreshold == 0 {
		b.SyncThreshold = DefaultSyncThreshold
	}
	if b.PollInterval == 0 {
		b.PollInterval = DefaultPollInterval
	}
	if b.MaxPollDuration == 0 {
		b.MaxPollDuration = DefaultMaxPollDuration
	}
	if b.MaxPollErrors == 0 {
		b.MaxPollErrors = DefaultMaxPollErrors
	}
	if b.MaxImportRows == 0 {
		b.MaxImportRows = DefaultMaxImportRows
	}

	g := &cfg.Generation
	if g.ContentType == "" {
		g.ContentType = "full_copy"
	}
	if g.Style == "" {
		g.Style = "professional"
	}
	if len(g.Languages) == 0 {
		g.Languages = []string{"en"}
	}

	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "memory"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if cfg.Metrics.Port == "" {
		cfg.Metrics.Port = DefaultMetricsPort
	}

	hk := &cfg.Housekeeping
	if hk.Interval == 0 {
		hk.Interval = DefaultHousekeepingInterval
	}
	if hk.SessionIdleTTL == 0 {
		hk.SessionIdleTTL = DefaultSessionIdleTTL
	}
	if hk.HistoryRetention == 0 {
		hk.HistoryRetention = DefaultHistoryRetention
	}
}
