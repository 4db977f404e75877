package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"chatfunnel/internal/constants"
	"chatfunnel/internal/models"
	"chatfunnel/internal/security"
)

var (
	ErrMissingGatewayURL = models.ConfigError{Message: "missing gateway base URL"}
	ErrMissingEngineURL  = models.ConfigError{Message: "missing reasoning engine base URL"}
	ErrMissingDBDriver   = models.ConfigError{Message: "missing database driver"}
	ErrMissingDBDSN      = models.ConfigError{Message: "missing database DSN"}
)

// LoadConfig reads the JSON configuration file, fills defaults, applies
// environment overrides and validates the result. Secrets (gateway API
// key, webhook secret) are never read from the file.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.WebhookWorkers <= 0 {
		c.Server.WebhookWorkers = constants.DefaultWebhookWorkers
	}

	if c.Gateway.SendTimeoutMs <= 0 {
		c.Gateway.SendTimeoutMs = constants.DefaultSendTimeoutMs
	}
	if c.Gateway.TypingTimeoutMs <= 0 {
		c.Gateway.TypingTimeoutMs = constants.DefaultTypingTimeoutMs
	}
	if c.Gateway.ContactsTimeoutMs <= 0 {
		c.Gateway.ContactsTimeoutMs = constants.DefaultContactsTimeoutMs
	}
	if c.Gateway.HealthTimeoutMs <= 0 {
		c.Gateway.HealthTimeoutMs = constants.DefaultHealthTimeoutMs
	}
	if c.Gateway.FailureThreshold <= 0 {
		c.Gateway.FailureThreshold = constants.DefaultFailureThreshold
	}

	if c.Engine.TimeoutMs <= 0 {
		c.Engine.TimeoutMs = constants.DefaultEngineTimeoutMs
	}

	if c.Cache.DedupTTLSec <= 0 {
		c.Cache.DedupTTLSec = constants.DefaultDedupTTLSec
	}
	if c.Cache.HealthTTLSec <= 0 {
		c.Cache.HealthTTLSec = constants.DefaultHealthTTLSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultBackoffInitialMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultBackoffMaxMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}

	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if c.Queue.ClaimLimit <= 0 {
		c.Queue.ClaimLimit = constants.DefaultQueueClaimLimit
	}
	if c.Queue.MaxAgeHours <= 0 {
		c.Queue.MaxAgeHours = constants.DefaultQueueMaxAgeHours
	}
	if c.Queue.PendingMaxAgeSec <= 0 {
		c.Queue.PendingMaxAgeSec = constants.DefaultPendingMaxAgeSec
	}
	if c.Queue.BackoffBaseSeconds <= 0 {
		c.Queue.BackoffBaseSeconds = constants.DefaultBackoffBaseSeconds
	}

	if c.Workers.RetryIntervalSec <= 0 {
		c.Workers.RetryIntervalSec = constants.DefaultRetryIntervalSec
	}
	if c.Workers.IdentityIntervalSec <= 0 {
		c.Workers.IdentityIntervalSec = constants.DefaultIdentityIntervalSec
	}
	if c.Workers.ReengageIntervalSec <= 0 {
		c.Workers.ReengageIntervalSec = constants.DefaultReengageIntervalSec
	}
	if c.Workers.HealthIntervalSec <= 0 {
		c.Workers.HealthIntervalSec = constants.DefaultHealthIntervalSec
	}
	if c.Workers.ReengageStaleMinutes <= 0 {
		c.Workers.ReengageStaleMinutes = constants.DefaultReengageStaleMinutes
	}
	if c.Workers.ReengageMaxAttempts <= 0 {
		c.Workers.ReengageMaxAttempts = constants.DefaultReengageMaxAttempts
	}

	if c.Sender.SplitMaxChars <= 0 {
		c.Sender.SplitMaxChars = constants.DefaultSplitMaxChars
	}
	if c.Sender.TypingMsPerChar <= 0 {
		c.Sender.TypingMsPerChar = constants.DefaultTypingMsPerChar
	}
	if c.Sender.TypingMinMs <= 0 {
		c.Sender.TypingMinMs = constants.DefaultTypingMinMs
	}
	if c.Sender.TypingMaxMs <= 0 {
		c.Sender.TypingMaxMs = constants.DefaultTypingMaxMs
	}
	if c.Sender.ReadDelayMinMs <= 0 {
		c.Sender.ReadDelayMinMs = constants.DefaultReadDelayMinMs
	}
	if c.Sender.ReadDelayMaxMs <= 0 {
		c.Sender.ReadDelayMaxMs = constants.DefaultReadDelayMaxMs
	}
	if c.Sender.ChunkPauseMinMs <= 0 {
		c.Sender.ChunkPauseMinMs = constants.DefaultChunkPauseMinMs
	}
	if c.Sender.ChunkPauseMaxMs <= 0 {
		c.Sender.ChunkPauseMaxMs = constants.DefaultChunkPauseMaxMs
	}
	if c.Sender.MaxHistoryDefault <= 0 {
		c.Sender.MaxHistoryDefault = constants.DefaultMaxHistory
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "chatfunnel"
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = "development"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("CHATFUNNEL_GATEWAY_URL"); url != "" {
		c.Gateway.BaseURL = url
	}
	if dsn := os.Getenv("CHATFUNNEL_DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if driver := os.Getenv("CHATFUNNEL_DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if url := os.Getenv("CHATFUNNEL_REDIS_URL"); url != "" {
		c.Cache.URL = url
	}

	if url := os.Getenv("CHATFUNNEL_ENGINE_URL"); url != "" {
		c.Engine.BaseURL = url
	}

	// Secrets are environment-only.
	c.Gateway.APIKey = os.Getenv("CHATFUNNEL_GATEWAY_API_KEY")
	c.Engine.APIKey = os.Getenv("CHATFUNNEL_ENGINE_API_KEY")
	c.Server.WebhookSecret = os.Getenv("CHATFUNNEL_WEBHOOK_SECRET")
}

func validate(c *models.Config) error {
	if c.Gateway.BaseURL == "" {
		return ErrMissingGatewayURL
	}
	if c.Engine.BaseURL == "" {
		return ErrMissingEngineURL
	}
	if c.Database.Driver == "" {
		return ErrMissingDBDriver
	}
	if c.Database.DSN == "" {
		return ErrMissingDBDSN
	}
	if c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres" {
		return models.ConfigError{Message: fmt.Sprintf("unsupported database driver: %s", c.Database.Driver)}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown log level: %s", c.LogLevel)}
	}
	return nil
}

// validateSecurity enforces production hardening rules.
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("CHATFUNNEL_ENV") == "production"

	if isProduction {
		if c.Server.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set CHATFUNNEL_WEBHOOK_SECRET)"}
		}
		if len(c.Server.WebhookSecret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}
		if c.Gateway.APIKey == "" {
			return models.ConfigError{Message: "gateway API key is required in production (set CHATFUNNEL_GATEWAY_API_KEY)"}
		}
		if strings.ToLower(c.LogLevel) == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production"}
		}
	} else if c.Server.WebhookSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set CHATFUNNEL_WEBHOOK_SECRET to authenticate inbound events.\n")
	}

	return nil
}
