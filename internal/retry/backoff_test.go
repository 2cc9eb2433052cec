package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
	})

	calls := 0
	err := b.Retry(context.Background(), func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  4,
	})

	calls := 0
	opErr := errors.New("backend down")
	err := b.Retry(context.Background(), func() error {
		calls++
		return opErr
	})

	assert.Equal(t, opErr, err)
	assert.Equal(t, 4, calls)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
	})

	calls := 0
	err := b.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithPredicate_NonRetryableStopsImmediately(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  4,
	})

	fatal := errors.New("malformed payload")
	calls := 0
	err := b.RetryWithPredicate(context.Background(), func() error {
		calls++
		return fatal
	}, func(err error) bool {
		return false
	})

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancellation(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := b.Retry(ctx, func() error {
		calls++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}

func TestWriteBackoffConfig_DelaySequence(t *testing.T) {
	b := NewBackoff(WriteBackoffConfig())

	assert.Equal(t, time.Second, b.GetNextDelay(1))
	assert.Equal(t, 2*time.Second, b.GetNextDelay(2))
	assert.Equal(t, 4*time.Second, b.GetNextDelay(3))
	assert.Equal(t, 8*time.Second, b.GetNextDelay(4))
}

func TestGetNextDelay_CappedAtMax(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
	})

	assert.Equal(t, 4*time.Second, b.GetNextDelay(8))
}

func TestGetNextDelay_JitterWithinBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		d := b.GetNextDelay(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}
