package config

import "time"

// Config represents the top-level copydesk.yaml structure.
type Config struct {
	Backend              BackendConfig      `yaml:"backend"`
	Batch                BatchConfig        `yaml:"batch"`
	Generation           GenerationDefaults `yaml:"generation"`
	Server               ServerConfig       `yaml:"server"`
	Cache                CacheConfig        `yaml:"cache"`
	DatabaseURL          string             `yaml:"database_url,omitempty"`
	Archive              ArchiveConfig      `yaml:"archive"`
	Log                  LogConfig          `yaml:"log"`
	Metrics              MetricsConfig      `yaml:"metrics"`
	Housekeeping         HousekeepingConfig `yaml:"housekeeping"`
	Secrets              SecretsConfig      `yaml:"secrets"`
	Notify               NotifyConfig       `yaml:"notify"`
	EnvironmentVariables map[string]string  `yaml:"environment_variables,omitempty"`

	// Overflow captures any unknown top-level YAML fields.
	Overflow map[string]any `yaml:",inline"`
}

// BackendConfig points at the remote content-generation backend.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// BatchConfig tunes dispatch and polling.
type BatchConfig struct {
	SyncThreshold   int           `yaml:"sync_threshold,omitempty"`
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	MaxPollDuration time.Duration `yaml:"max_poll_duration,omitempty"`
	MaxPollErrors   int           `yaml:"max_poll_errors,omitempty"`
	MaxImportRows   int           `yaml:"max_import_rows,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// GenerationDefaults seeds each new session's GenerationConfig.
type GenerationDefaults struct {
	ContentType string   `yaml:"content_type,omitempty"`
	Style       string   `yaml:"style,omitempty"`
	Languages   []string `yaml:"languages,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

type ServerConfig struct {
	Port      int    `yaml:"port,omitempty"`
	MasterKey string `yaml:"master_key,omitempty"`
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// CacheConfig selects where session snapshots are kept.
// Type is one of "memory", "redis", "dual" or "none".
type CacheConfig struct {
	Type     string        `yaml:"type,omitempty"`
	RedisURL string        `yaml:"redis_url,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// ArchiveConfig selects the sink exports are archived to.
// Type is one of "s3", "gcs", "azure_blob", "disk" or "" (disabled).
type ArchiveConfig struct {
	Type       string `yaml:"type,omitempty"`
	Bucket     string `yaml:"bucket,omitempty"`
	Prefix     string `yaml:"prefix,omitempty"`
	Region     string `yaml:"region,omitempty"`
	Dir        string `yaml:"dir,omitempty"`
	AccountURL string `yaml:"account_url,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // console or json

	Overflow map[string]any `yaml:",inline"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Port     string `yaml:"port,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// HousekeepingConfig drives the background session sweep and history cleanup.
type HousekeepingConfig struct {
	Interval         time.Duration `yaml:"interval,omitempty"`
	SessionIdleTTL   time.Duration `yaml:"session_idle_ttl,omitempty"`
	HistoryRetention time.Duration `yaml:"history_retention,omitempty"`
	Disabled         bool          `yaml:"disabled,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// SecretsConfig selects the external store that "os.secret/<path>" values are
// read from. Type is one of "aws_secrets_manager", "google_secret_manager",
// "azure_key_vault", "hashicorp_vault" or "" (disabled).
type SecretsConfig struct {
	Type            string        `yaml:"type,omitempty"`
	Region          string        `yaml:"region,omitempty"`
	ProjectID       string        `yaml:"project_id,omitempty"`
	CredentialsFile string        `yaml:"credentials_file,omitempty"`
	VaultURL        string        `yaml:"vault_url,omitempty"`
	Mount           string        `yaml:"mount,omitempty"`
	Token           string        `yaml:"token,omitempty"`
	RoleID          string        `yaml:"role_id,omitempty"`
	SecretID        string        `yaml:"secret_id,omitempty"`
	CacheTTL        time.Duration `yaml:"cache_ttl,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// NotifyConfig lists where finished-batch notifications are sent. Every
// target that is set receives each notification.
type NotifyConfig struct {
	WebhookURL      string            `yaml:"webhook_url,omitempty"`
	WebhookHeaders  map[string]string `yaml:"webhook_headers,omitempty"`
	SlackWebhookURL string            `yaml:"slack_webhook_url,omitempty"`
	SQSQueueURL     string            `yaml:"sqs_queue_url,omitempty"`
	SQSRegion       string            `yaml:"sqs_region,omitempty"`
	BatchSize       int               `yaml:"batch_size,omitempty"`
	FlushInterval   time.Duration     `yaml:"flush_interval,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// Enabled reports whether any notification target is configured.
func (n NotifyConfig) Enabled() bool {
	return n.WebhookURL != "" || n.SlackWebhookURL != "" || n.SQSQueueURL != ""
}
