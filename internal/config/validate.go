package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/praxisllmlab/copydesk/internal/model"
)

// Validate checks enumerations and intervals. Unknown fields are not errors;
// see Warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if _, err := cfg.DefaultGeneration(); err != nil {
		errs = append(errs, fmt.Errorf("generation: %w", err))
	}
	if cfg.Batch.SyncThreshold < 0 {
		errs = append(errs, errors.New("batch.sync_threshold must not be negative"))
	}
	if cfg.Batch.PollInterval < 0 {
		errs = append(errs, errors.New("batch.poll_interval must be positive"))
	}
	if cfg.Batch.MaxPollDuration < 0 {
		errs = append(errs, errors.New("batch.max_poll_duration must be positive"))
	}
	if cfg.Batch.MaxPollErrors < 0 {
		errs = append(errs, errors.New("batch.max_poll_errors must be positive"))
	}
	if cfg.Housekeeping.Interval < 0 || cfg.Housekeeping.SessionIdleTTL < 0 || cfg.Housekeeping.HistoryRetention < 0 {
		errs = append(errs, errors.New("housekeeping durations must be positive"))
	}
	if cfg.Notify.BatchSize < 0 || cfg.Notify.FlushInterval < 0 {
		errs = append(errs, errors.New("notify.batch_size and notify.flush_interval must be positive"))
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout must be positive"))
	}

	switch cfg.Cache.Type {
	case "memory", "redis", "dual", "none":
	default:
		errs = append(errs, fmt.Errorf("cache.type %q is not one of memory, redis, dual, none", cfg.Cache.Type))
	}
	if (cfg.Cache.Type == "redis" || cfg.Cache.Type == "dual") && cfg.Cache.RedisURL == "" {
		errs = append(errs, fmt.Errorf("cache.redis_url is required for cache.type %q", cfg.Cache.Type))
	}

	switch cfg.Archive.Type {
	case "":
	case "s3", "gcs":
		if cfg.Archive.Bucket == "" {
			errs = append(errs, fmt.Errorf("archive.bucket is required for archive.type %q", cfg.Archive.Type))
		}
	case "azure_blob":
		if cfg.Archive.Bucket == "" || cfg.Archive.AccountURL == "" {
			errs = append(errs, errors.New("archive.bucket and archive.account_url are required for azure_blob"))
		}
	case "disk":
		if cfg.Archive.Dir == "" {
			errs = append(errs, errors.New("archive.dir is required for archive.type \"disk\""))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.type %q is not supported", cfg.Archive.Type))
	}

	switch cfg.Secrets.Type {
	case "", "aws_secrets_manager", "azure_key_vault", "hashicorp_vault":
	case "google_secret_manager":
		if cfg.Secrets.ProjectID == "" {
			errs = append(errs, errors.New("secrets.project_id is required for google_secret_manager"))
		}
	default:
		errs = append(errs, fmt.Errorf("secrets.type %q is not supported", cfg.Secrets.Type))
	}
	if cfg.Secrets.Type == "azure_key_vault" && cfg.Secrets.VaultURL == "" {
		errs = append(errs, errors.New("secrets.vault_url is required for azure_key_vault"))
	}

	switch cfg.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of console, json", cfg.Log.Format))
	}

	return errors.Join(errs...)
}

// DefaultGeneration builds the GenerationConfig new sessions start with.
func (c *Config) DefaultGeneration() (model.GenerationConfig, error) {
	return model.NewGenerationConfig(
		model.ContentType(c.Generation.ContentType),
		model.Style(c.Generation.Style),
		c.Generation.Languages,
	)
}

// Warnings lists every unrecognized config field, sorted within each section.
func Warnings(cfg *Config) []string {
	var out []string
	out = appendOverflow(out, "config", cfg.Overflow)
	out = appendOverflow(out, "backend", cfg.Backend.Overflow)
	out = appendOverflow(out, "batch", cfg.Batch.Overflow)
	out = appendOverflow(out, "generation", cfg.Generation.Overflow)
	out = appendOverflow(out, "server", cfg.Server.Overflow)
	out = appendOverflow(out, "cache", cfg.Cache.Overflow)
	out = appendOverflow(out, "archive", cfg.Archive.Overflow)
	out = appendOverflow(out, "log", cfg.Log.Overflow)
	out = appendOverflow(out, "metrics", cfg.Metrics.Overflow)
	out = appendOverflow(out, "housekeeping", cfg.Housekeeping.Overflow)
	out = appendOverflow(out, "secrets", cfg.Secrets.Overflow)
	out = appendOverflow(out, "notify", cfg.Notify.Overflow)
	return out
}

func appendOverflow(out []string, section string, overflow map[string]any) []string {
	if len(overflow) == 0 {
		return out
	}
	keys := make([]string, 0, len(overflow))
	for k := range overflow {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("unrecognized config field %s.%s, field will be ignored", section, k))
	}
	return out
}
