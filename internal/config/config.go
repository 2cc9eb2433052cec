package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"telemirror/internal/constants"
	"telemirror/internal/models"
	"telemirror/internal/security"
	"telemirror/internal/validation"
)

var (
	ErrMissingTelegramURL = models.ConfigError{Message: "missing Telegram gateway API URL"}
	ErrMissingDatabaseURL = models.ConfigError{Message: "missing database URL (set DATABASE_URL environment variable)"}
)

// LoadConfig reads the JSON config file, fills defaults and applies
// environment overrides. Secrets never live in the file: the gateway
// API key and the database DSN always come from the environment.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Telegram.TimeoutSec <= 0 {
		c.Telegram.TimeoutSec = constants.DefaultUpstreamCallTimeoutSec
	}

	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = constants.DefaultDatabaseMaxOpenConns
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = constants.DefaultDatabaseMaxIdleConns
	}
	if c.Database.ConnLifetimeSec <= 0 {
		c.Database.ConnLifetimeSec = constants.DefaultConnLifetimeSec
	}

	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = constants.DefaultQueueCapacity
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = constants.DefaultBatchSize
	}
	if c.Queue.BatchWindowSec <= 0 {
		c.Queue.BatchWindowSec = constants.DefaultBatchWindowSec
	}
	if c.Queue.FirstItemWaitSec <= 0 {
		c.Queue.FirstItemWaitSec = constants.DefaultFirstItemWaitSec
	}

	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = constants.DefaultBreakerFailureThreshold
	}
	if c.Breaker.WindowSec <= 0 {
		c.Breaker.WindowSec = constants.DefaultBreakerWindowSec
	}
	if c.Breaker.CooldownSec <= 0 {
		c.Breaker.CooldownSec = constants.DefaultBreakerCooldownSec
	}

	if c.Backfill.LookbackDays <= 0 {
		c.Backfill.LookbackDays = constants.DefaultBackfillLookbackDays
	}
	if c.Backfill.SkipThreshold <= 0 {
		c.Backfill.SkipThreshold = constants.DefaultBackfillSkipThreshold
	}
	if c.Backfill.DiscoveryIntervalSec <= 0 {
		c.Backfill.DiscoveryIntervalSec = constants.DefaultDiscoveryIntervalSec
	}

	if c.GapFill.IntervalSec <= 0 {
		c.GapFill.IntervalSec = constants.DefaultGapFillIntervalSec
	}
	if c.GapFill.LookbackHours <= 0 {
		c.GapFill.LookbackHours = constants.DefaultGapFillLookbackHours
	}
	if c.GapFill.MaxMessages <= 0 {
		c.GapFill.MaxMessages = constants.DefaultGapFillMaxMessages
	}

	if c.Listener.ReconnectDelaySec <= 0 {
		c.Listener.ReconnectDelaySec = constants.DefaultReconnectDelaySec
	}
	if c.Listener.MaxReconnectAttempts <= 0 {
		c.Listener.MaxReconnectAttempts = constants.DefaultMaxReconnectAttempts
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultWriteRetryAttempts
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultWriteBackoffInitialMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultWriteBackoffMaxMs
	}

	if c.DeadLetter.FallbackFile == "" {
		c.DeadLetter.FallbackFile = "dead_letters.jsonl"
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ServerPort <= 0 {
		c.ServerPort = constants.DefaultServerPort
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("TELEMIRROR_GATEWAY_URL"); url != "" {
		c.Telegram.APIBaseURL = url
	}
	if url := os.Getenv("TELEMIRROR_GATEWAY_EVENTS_URL"); url != "" {
		c.Telegram.EventsURL = url
	}
	if level := os.Getenv("TELEMIRROR_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if port := os.Getenv("TELEMIRROR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.ServerPort = p
		}
	}
}

func validate(c *models.Config) error {
	if c.Telegram.APIBaseURL == "" {
		return ErrMissingTelegramURL
	}
	if os.Getenv("DATABASE_URL") == "" {
		return ErrMissingDatabaseURL
	}
	if c.Queue.BatchSize > c.Queue.Capacity {
		return models.ConfigError{Message: fmt.Sprintf(
			"batch size %d exceeds queue capacity %d", c.Queue.BatchSize, c.Queue.Capacity)}
	}
	if err := validation.ValidateConnectionPool(c.Database.MaxOpenConns, c.Database.MaxIdleConns); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateTimeout(c.Telegram.TimeoutSec, "gateway timeout"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := security.ValidateFallbackPath(c.DeadLetter.FallbackFile); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if isProduction() && c.LogLevel == "debug" {
		return models.ConfigError{Message: "debug logging should not be used in production"}
	}
	return nil
}

func isProduction() bool {
	return os.Getenv("TELEMIRROR_ENV") == "production"
}

// DatabaseURL returns the Postgres DSN from the environment.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// GatewayAPIKey returns the bearer token used against the gateway, if any.
func GatewayAPIKey() string {
	return os.Getenv("TELEMIRROR_GATEWAY_API_KEY")
}
