package database

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"

	"telemirror/internal/constants"
)

type retryConfig struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts:  constants.DefaultDatabaseRetryAttempts,
		initialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
		maxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
	}
}

// IsRetryableError reports whether a database error is transient.
// Connectivity failures and serialization conflicts are worth retrying;
// constraint violations and schema errors never resolve on their own.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08": // connection exceptions
			return true
		case "53": // insufficient resources (too many connections etc.)
			return true
		case "57": // operator intervention (admin shutdown, crash recovery)
			return true
		}
		switch pqErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"server closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withRetry runs op with exponential backoff for transient failures.
// Used during startup where the database may still be coming up.
func withRetry(ctx context.Context, cfg retryConfig, op func() error) error {
	var lastErr error
	delay := cfg.initialDelay
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) || attempt == cfg.maxAttempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.maxDelay {
			delay = cfg.maxDelay
		}
	}
	return lastErr
}
