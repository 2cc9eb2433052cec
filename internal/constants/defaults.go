package constants

// Ingestion queue and batch writer defaults
const (
	DefaultQueueCapacity         = 10000
	DefaultBatchSize             = 50
	DefaultBatchWindowSec        = 2
	DefaultFirstItemWaitSec      = 5
	DefaultWriteRetryAttempts    = 4
	DefaultWriteBackoffInitialMs = 1000
	DefaultWriteBackoffMaxMs     = 8000
	DefaultDrainTimeoutSec       = 15
	DefaultEnqueueGraceSec       = 3
)

// Circuit breaker defaults
const (
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerWindowSec        = 60
	DefaultBreakerCooldownSec      = 30
)

// Scheduler defaults
const (
	DefaultBackfillLookbackDays   = 14
	DefaultBackfillSkipThreshold  = 50
	DefaultDiscoveryIntervalSec   = 300
	DefaultGapFillIntervalSec     = 1800
	DefaultGapFillLookbackHours   = 1
	DefaultGapFillMaxMessages     = 500
	DefaultThrottleEveryNMessages = 200
	DefaultThrottleSleepMs        = 1500
	DefaultQueueDrainTimeoutSec   = 60
	DefaultHistoryPageSize        = 100
)

// Live listener defaults
const (
	DefaultReconnectDelaySec    = 10
	DefaultMaxReconnectAttempts = 10
	DefaultEnabledCacheTTLSec   = 60
)

// Identifier resolver defaults
const (
	DefaultDialogsCooldownSec = 600
	DefaultResolverCacheSize  = 5000
)

// Dead letter defaults
const (
	DefaultDeadLetterFileMaxBytes = 50 * 1024 * 1024
	DefaultDeadLetterPageSize     = 50
	MaxDeadLetterErrorLen         = 500
)

// Change notifier defaults
const (
	// Postgres NOTIFY payloads are capped at 8000 bytes; leave headroom.
	NotifyPayloadMaxBytes   = 7900
	NotifyContentTruncateAt = 200
)

// Connection pool defaults
const (
	DefaultDatabaseMaxOpenConns = 25
	DefaultDatabaseMaxIdleConns = 5
	DefaultConnLifetimeSec      = 1800
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec         = 30
	DefaultDatabaseRetryAttempts  = 3
	DefaultRetryBackoffMs         = 1000
	DefaultMaxBackoffMs           = 60000
	DefaultGracefulShutdownSec    = 30
	DefaultUpstreamCallTimeoutSec = 120
	DefaultPersistCallTimeoutSec  = 30
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultServerPort             = 8082
)

// Rate limit handling
const (
	// Waits at or below this are slept inline; longer waits become
	// per-source penalties so one throttled source cannot stall a pass.
	MaxInlineRateLimitWaitSec = 60
)
