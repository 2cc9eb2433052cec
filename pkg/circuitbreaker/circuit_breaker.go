package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker sheds load off an unhealthy backend. It opens once the
// failure threshold is reached within a rolling window, stays open for a
// cooldown, then half-opens to let exactly one probe through. A probe
// success closes it; a probe failure re-opens it.
type CircuitBreaker struct {
	name      string
	threshold int
	window    time.Duration
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time

	// injectable clock for tests
	now func() time.Time

	logger *logrus.Logger
}

// New creates a circuit breaker with the given failure threshold, rolling
// failure window and open-state cooldown.
func New(name string, threshold int, window, cooldown time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
		logger:    logger,
	}
}

// RecordFailure appends a failure timestamp, prunes entries outside the
// rolling window, and trips the breaker once the threshold is reached.
// A failure during the half-open probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if now.Sub(t) < cb.window {
			kept = append(kept, t)
		}
	}
	cb.failures = append(kept, now)

	if cb.state == StateHalfOpen || len(cb.failures) >= cb.threshold {
		cb.trip(now)
	}
}

// RecordSuccess clears the failure window and forces the breaker closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           StateClosed.String(),
		}).Info("Circuit breaker closed after successful probe")
	}
	cb.state = StateClosed
	cb.failures = cb.failures[:0]
}

// IsOpen reports whether writes should be shed. When the cooldown has
// elapsed it transitions open→half-open and returns false, permitting
// exactly one probing attempt.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cooldown {
			cb.state = StateHalfOpen
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.name,
				"state":           StateHalfOpen.String(),
			}).Info("Circuit breaker transitioned to half-open")
			return false
		}
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = StateOpen
	cb.openedAt = now
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"failures":        len(cb.failures),
		"cooldown":        cb.cooldown,
		"state":           StateOpen.String(),
	}).Warn("Circuit breaker opened due to failures")
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	RecentFailures int       `json:"recent_failures"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:           cb.name,
		State:          cb.state.String(),
		RecentFailures: len(cb.failures),
		OpenedAt:       cb.openedAt,
	}
}

// CircuitBreakerError represents an error when the circuit breaker is open
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	_, ok := err.(*CircuitBreakerError)
	return ok
}
