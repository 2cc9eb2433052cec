package retry

import (
	"context"
	"math/rand"
	"time"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns a sensible default configuration
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// WriteBackoffConfig is the persistence-write policy: four attempts with
// delays of 1s, 2s, 4s and 8s. Jitter is off so retry timing stays
// predictable under a struggling backend.
func WriteBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  4,
		Jitter:       false,
	}
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config BackoffConfig
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{config: config}
}

// Retry executes the operation, sleeping between attempts, until it
// succeeds or attempts are exhausted. The last error is returned.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate behaves like Retry but bails out immediately when
// the predicate reports the error as non-retryable.
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == b.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(attempt)):
		}
	}

	return lastErr
}

// delay computes the sleep before the attempt following `attempt`.
func (b *Backoff) delay(attempt int) time.Duration {
	d := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= b.config.Multiplier
	}
	if d > float64(b.config.MaxDelay) {
		d = float64(b.config.MaxDelay)
	}

	if b.config.Jitter {
		// +-25% randomness to avoid synchronized retries
		jitter := d * 0.25
		d += (rand.Float64() - 0.5) * 2 * jitter
		if d < 0 {
			d = float64(b.config.InitialDelay)
		}
		if d > float64(b.config.MaxDelay) {
			d = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(d)
}

// GetNextDelay returns the delay that would follow the given attempt
// (exposed for tests and monitoring).
func (b *Backoff) GetNextDelay(attempt int) time.Duration {
	return b.delay(attempt)
}
