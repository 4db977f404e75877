package constants

// Default server and startup values
const (
	DefaultServerPort            = "8080"
	DefaultWebhookWorkers        = 20
	DefaultDatabaseRetryAttempts = 3
	DefaultBackoffInitialMs      = 1000
	DefaultBackoffMaxMs          = 60000
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// Delivery queue defaults
const (
	DefaultQueueMaxAttempts   = 5
	DefaultQueueClaimLimit    = 50
	DefaultQueueMaxAgeHours   = 24
	DefaultPendingMaxAgeSec   = 600
	DefaultBackoffBaseSeconds = 30
)

// Background loop defaults
const (
	DefaultRetryIntervalSec     = 30
	DefaultIdentityIntervalSec  = 30
	DefaultReengageIntervalSec  = 300
	DefaultHealthIntervalSec    = 300
	DefaultHealthStartupDelay   = 60 // seconds before the first probe
	DefaultReengageStaleMinutes = 25
	DefaultReengageMaxAttempts  = 2
)

// Shared cache defaults
const (
	DefaultDedupTTLSec      = 86400 // one day of replay protection
	DefaultHealthTTLSec     = 60
	DefaultFailureWindowSec = 3600
	DefaultFailureThreshold = 3
)

// Gateway client defaults (milliseconds)
const (
	DefaultSendTimeoutMs     = 10000
	DefaultTypingTimeoutMs   = 3000
	DefaultContactsTimeoutMs = 10000
	DefaultHealthTimeoutMs   = 5000
)

// Reasoning engine client defaults (milliseconds)
const (
	DefaultEngineTimeoutMs = 60000
)

// Outbound message shaping defaults
const (
	DefaultSplitMaxChars   = 800
	DefaultTypingMsPerChar = 20
	DefaultTypingMinMs     = 800
	DefaultTypingMaxMs     = 3000
	DefaultReadDelayMinMs  = 1500
	DefaultReadDelayMaxMs  = 3500
	DefaultChunkPauseMinMs = 1500
	DefaultChunkPauseMaxMs = 3500
	DefaultMaxHistory      = 10
)

// Identity resolution defaults
const (
	DefaultIdentityCacheTTLSec    = 3600
	DefaultCorrelationWindowSec   = 2
	DefaultCorrelationMinSamples  = 3
	DefaultCorrelationSampleLimit = 5
	DefaultUnresolvedBacklogLimit = 50
)
