package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemirror/internal/constants"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemirror_test")

	path := writeConfig(t, `{
		"telegram": {"api_base_url": "http://localhost:8090"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultQueueCapacity, cfg.Queue.Capacity)
	assert.Equal(t, constants.DefaultBatchSize, cfg.Queue.BatchSize)
	assert.Equal(t, constants.DefaultBatchWindowSec, cfg.Queue.BatchWindowSec)
	assert.Equal(t, constants.DefaultFirstItemWaitSec, cfg.Queue.FirstItemWaitSec)
	assert.Equal(t, constants.DefaultBreakerFailureThreshold, cfg.Breaker.FailureThreshold)
	assert.Equal(t, constants.DefaultBreakerWindowSec, cfg.Breaker.WindowSec)
	assert.Equal(t, constants.DefaultBreakerCooldownSec, cfg.Breaker.CooldownSec)
	assert.Equal(t, constants.DefaultBackfillLookbackDays, cfg.Backfill.LookbackDays)
	assert.Equal(t, constants.DefaultGapFillIntervalSec, cfg.GapFill.IntervalSec)
	assert.Equal(t, constants.DefaultReconnectDelaySec, cfg.Listener.ReconnectDelaySec)
	assert.Equal(t, constants.DefaultMaxReconnectAttempts, cfg.Listener.MaxReconnectAttempts)
	assert.Equal(t, constants.DefaultWriteRetryAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, constants.DefaultServerPort, cfg.ServerPort)
	assert.Equal(t, "dead_letters.jsonl", cfg.DeadLetter.FallbackFile)
}

func TestLoadConfig_ExplicitValuesKept(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemirror_test")

	path := writeConfig(t, `{
		"telegram": {"api_base_url": "http://localhost:8090"},
		"queue": {"capacity": 500, "batch_size": 20},
		"breaker": {"failure_threshold": 3},
		"log_level": "warn"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Queue.Capacity)
	assert.Equal(t, 20, cfg.Queue.BatchSize)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_MissingGatewayURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemirror_test")
	t.Setenv("TELEMIRROR_GATEWAY_URL", "")

	path := writeConfig(t, `{}`)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingTelegramURL)
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	path := writeConfig(t, `{
		"telegram": {"api_base_url": "http://localhost:8090"}
	}`)

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingDatabaseURL)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemirror_test")
	t.Setenv("TELEMIRROR_GATEWAY_URL", "http://gateway:9000")
	t.Setenv("TELEMIRROR_LOG_LEVEL", "debug")
	t.Setenv("TELEMIRROR_SERVER_PORT", "9999")

	path := writeConfig(t, `{
		"telegram": {"api_base_url": "http://localhost:8090"},
		"log_level": "info"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://gateway:9000", cfg.Telegram.APIBaseURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9999, cfg.ServerPort)
}

func TestLoadConfig_BatchLargerThanQueue(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemirror_test")

	path := writeConfig(t, `{
		"telegram": {"api_base_url": "http://localhost:8090"},
		"queue": {"capacity": 10, "batch_size": 20}
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds queue capacity")
}

func TestLoadConfig_DebugRejectedInProduction(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemirror_test")
	t.Setenv("TELEMIRROR_ENV", "production")

	path := writeConfig(t, `{
		"telegram": {"api_base_url": "http://localhost:8090"},
		"log_level": "debug"
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "production")
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/telemirror_test")

	path := writeConfig(t, `{not json`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.json")
	assert.Error(t, err)
}
