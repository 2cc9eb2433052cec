package models

// Config holds the application configuration
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Database   DatabaseConfig   `json:"database"`
	Queue      QueueConfig      `json:"queue"`
	Breaker    BreakerConfig    `json:"breaker"`
	Backfill   BackfillConfig   `json:"backfill"`
	GapFill    GapFillConfig    `json:"gapFill"`
	Listener   ListenerConfig   `json:"listener"`
	Retry      RetryConfig      `json:"retry"`
	DeadLetter DeadLetterConfig `json:"deadLetter"`
	Tracing    TracingConfig    `json:"tracing"`
	LogLevel   string           `json:"log_level"`
	ServerPort int              `json:"server_port"`
}

// TelegramConfig holds the upstream gateway configuration. The API key
// comes from the environment, never from the config file.
type TelegramConfig struct {
	APIBaseURL string `json:"api_base_url"`
	EventsURL  string `json:"events_url"`
	TimeoutSec int    `json:"timeout_sec"`
}

// DatabaseConfig holds storage tuning knobs. The connection string is
// taken from DATABASE_URL.
type DatabaseConfig struct {
	MaxOpenConns    int `json:"max_open_conns"`
	MaxIdleConns    int `json:"max_idle_conns"`
	ConnLifetimeSec int `json:"conn_lifetime_sec"`
}

// QueueConfig tunes the ingestion queue and batch writer.
type QueueConfig struct {
	Capacity         int `json:"capacity"`
	BatchSize        int `json:"batch_size"`
	BatchWindowSec   int `json:"batch_window_sec"`
	FirstItemWaitSec int `json:"first_item_wait_sec"`
}

// BreakerConfig tunes the persistence circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	WindowSec        int `json:"window_sec"`
	CooldownSec      int `json:"cooldown_sec"`
}

// BackfillConfig tunes the historical backfill scheduler.
type BackfillConfig struct {
	LookbackDays         int `json:"lookback_days"`
	SkipThreshold        int `json:"skip_threshold"`
	DiscoveryIntervalSec int `json:"discovery_interval_sec"`
}

// GapFillConfig tunes the recurring gap-fill scheduler.
type GapFillConfig struct {
	IntervalSec   int `json:"interval_sec"`
	LookbackHours int `json:"lookback_hours"`
	MaxMessages   int `json:"max_messages"`
}

// ListenerConfig tunes the live listener's reconnect supervisor.
type ListenerConfig struct {
	ReconnectDelaySec    int `json:"reconnect_delay_sec"`
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`
}

// RetryConfig holds retry/backoff settings for persistence writes.
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// DeadLetterConfig tunes the dead-letter sink.
type DeadLetterConfig struct {
	// FallbackFile receives entries when the store itself is unreachable.
	FallbackFile string `json:"fallback_file"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
