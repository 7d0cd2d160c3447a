// Package breaker guards the Kafka producer with a three-state circuit
// breaker: failures open the circuit, a reset timeout with capped exponential
// backoff gates the next probe.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// maxBackoffFactor caps the exponential backoff at 8x the reset timeout.
const maxBackoffFactor = 8

var (
	ErrOpen          = errors.New("circuit breaker is open")
	ErrInvalidConfig = errors.New("breaker parameters must be greater than zero")
)

type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	MonitoringPeriod time.Duration
}

// CircuitBreaker is safe for concurrent use. The guarded operation runs
// outside the lock; only admission and outcome accounting are serialized.
type CircuitBreaker struct {
	mu sync.Mutex

	config Config

	state           State
	failures        int
	successes       int
	lastFailure     time.Time
	nextAttemptTime time.Time
	windowStart     time.Time

	now func() time.Time
}

func New(config Config) (*CircuitBreaker, error) {
	if config.FailureThreshold <= 0 || config.ResetTimeout <= 0 || config.MonitoringPeriod <= 0 {
		return nil, ErrInvalidConfig
	}

	cb := &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
	cb.windowStart = cb.now()

	return cb, nil
}

// Execute runs op under the breaker. While the breaker is open and the reset
// timeout has not elapsed, op is not invoked and ErrOpen is returned.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := op(ctx)
	cb.record(err)

	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.rollWindow(now)

	if cb.state == StateOpen {
		if now.Before(cb.nextAttemptTime) {
			return ErrOpen
		}

		cb.state = StateHalfOpen
	}

	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.rollWindow(now)

	if err == nil {
		cb.onSuccess()

		return
	}

	cb.onFailure(now)
}

func (cb *CircuitBreaker) onSuccess() {
	cb.successes++

	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.failures = 0
		cb.nextAttemptTime = time.Time{}
	}
}

func (cb *CircuitBreaker) onFailure(now time.Time) {
	cb.failures++
	cb.lastFailure = now

	switch cb.state {
	case StateHalfOpen:
		cb.open(now)
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.open(now)
		}
	case StateOpen:
	}
}

func (cb *CircuitBreaker) open(now time.Time) {
	cb.state = StateOpen

	factor := 1
	for range cb.failures - cb.config.FailureThreshold {
		factor *= 2
		if factor >= maxBackoffFactor {
			factor = maxBackoffFactor

			break
		}
	}

	cb.nextAttemptTime = now.Add(cb.config.ResetTimeout * time.Duration(factor))
}

// rollWindow restarts the monitoring window once it has elapsed. Counters are
// cleared only while closed; in open and half-open they drive the backoff.
func (cb *CircuitBreaker) rollWindow(now time.Time) {
	if now.Sub(cb.windowStart) < cb.config.MonitoringPeriod {
		return
	}

	cb.windowStart = now

	if cb.state == StateClosed {
		cb.failures = 0
		cb.successes = 0
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Counts returns the successes and failures observed in the current window.
func (cb *CircuitBreaker) Counts() (int, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.successes, cb.failures
}

// NextAttemptTime reports when an open breaker will admit a probe.
func (cb *CircuitBreaker) NextAttemptTime() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.nextAttemptTime
}
