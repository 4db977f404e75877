package models

import "time"

// Config holds the application configuration
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Engine   EngineConfig   `json:"engine"`
	Database DatabaseConfig `json:"database"`
	Cache    CacheConfig    `json:"cache"`
	Server   ServerConfig   `json:"server"`
	Retry    RetryConfig    `json:"retry"`
	Queue    QueueConfig    `json:"queue"`
	Workers  WorkersConfig  `json:"workers"`
	Sender   SenderConfig   `json:"sender"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// GatewayConfig holds messaging-gateway related configuration
type GatewayConfig struct {
	BaseURL           string `json:"base_url"`
	APIKey            string `json:"-"`           // env only, never from file
	WebhookURL        string `json:"webhook_url"` // registered on startup when set
	SendTimeoutMs     int    `json:"send_timeout_ms"`
	TypingTimeoutMs   int    `json:"typing_timeout_ms"`
	ContactsTimeoutMs int    `json:"contacts_timeout_ms"`
	HealthTimeoutMs   int    `json:"health_timeout_ms"`
	FailureThreshold  int    `json:"failure_threshold"`
}

// SendTimeout returns the outbound send timeout as a duration.
func (c GatewayConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

// TypingTimeout returns the presence update timeout as a duration.
func (c GatewayConfig) TypingTimeout() time.Duration {
	return time.Duration(c.TypingTimeoutMs) * time.Millisecond
}

// ContactsTimeout returns the contact sync timeout as a duration.
func (c GatewayConfig) ContactsTimeout() time.Duration {
	return time.Duration(c.ContactsTimeoutMs) * time.Millisecond
}

// HealthTimeout returns the connection probe timeout as a duration.
func (c GatewayConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutMs) * time.Millisecond
}

// EngineConfig points at the reasoning-engine HTTP service that produces
// replies and transcripts. Calls are slow by nature, so the timeout is
// generous.
type EngineConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"-"` // env only
	TimeoutMs int    `json:"timeout_ms"`
}

// Timeout returns the engine call timeout as a duration.
func (c EngineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// DatabaseConfig holds persistent-store configuration.
// Driver is "sqlite3" or "postgres"; DSN is a file path for sqlite
// and a connection string for postgres.
type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// CacheConfig holds shared-cache (redis) configuration. An empty URL
// disables the cache; every consumer degrades to its safe default.
type CacheConfig struct {
	URL          string `json:"url"`
	DedupTTLSec  int    `json:"dedup_ttl_sec"`
	HealthTTLSec int    `json:"health_ttl_sec"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string `json:"port"`
	WebhookWorkers int    `json:"webhook_workers"`
	WebhookSecret  string `json:"-"` // env only
}

// RetryConfig holds backoff configuration for startup dependencies
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts"`
}

// QueueConfig holds delivery-queue tuning
type QueueConfig struct {
	MaxAttempts        int `json:"max_attempts"`
	ClaimLimit         int `json:"claim_limit"`
	MaxAgeHours        int `json:"max_age_hours"`
	PendingMaxAgeSec   int `json:"pending_max_age_sec"`
	BackoffBaseSeconds int `json:"backoff_base_seconds"`
}

// WorkersConfig holds background loop intervals
type WorkersConfig struct {
	RetryIntervalSec     int `json:"retry_interval_sec"`
	IdentityIntervalSec  int `json:"identity_interval_sec"`
	ReengageIntervalSec  int `json:"reengage_interval_sec"`
	HealthIntervalSec    int `json:"health_interval_sec"`
	ReengageStaleMinutes int `json:"reengage_stale_minutes"`
	ReengageMaxAttempts  int `json:"reengage_max_attempts"`
}

// SenderConfig holds outbound message shaping configuration
type SenderConfig struct {
	SplitMaxChars     int `json:"split_max_chars"`
	TypingMsPerChar   int `json:"typing_ms_per_char"`
	TypingMinMs       int `json:"typing_min_ms"`
	TypingMaxMs       int `json:"typing_max_ms"`
	ReadDelayMinMs    int `json:"read_delay_min_ms"`
	ReadDelayMaxMs    int `json:"read_delay_max_ms"`
	ChunkPauseMinMs   int `json:"chunk_pause_min_ms"`
	ChunkPauseMaxMs   int `json:"chunk_pause_max_ms"`
	MaxHistoryDefault int `json:"max_history_default"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
