// Package resilience provides the fault-tolerance primitives used around
// optional external dependencies: exponential-backoff retry for the
// analytics store and a circuit breaker that keeps a flapping cache backend
// out of the query hot path.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig controls attempt count and backoff timing. Zero values fall
// back to the defaults.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Retry runs fn up to MaxAttempts times with jittered exponential backoff,
// stopping early when ctx is cancelled.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	logger := slog.Default().With("component", "retry", "operation", name)

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		jittered := delay + time.Duration(rand.Int63n(int64(delay)/4+1))
		logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"error", lastErr,
			"next_delay", jittered,
		)
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, lastErr)
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig controls the failure threshold and recovery timing.
// Zero values fall back to the defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// CircuitBreaker trips open after a run of consecutive failures and lets a
// single probe through once the cool-down elapses.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	open     bool
	failures int
	lastFail time.Time
	probing  bool
}

// NewCircuitBreaker creates a CircuitBreaker, filling defaults for zero
// config values.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn when the circuit allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return nil
	}
	if time.Since(cb.lastFail) >= cb.cfg.ResetTimeout && !cb.probing {
		cb.probing = true
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		if cb.open {
			cb.logger.Info("circuit closed")
		}
		cb.open = false
		cb.failures = 0
		cb.probing = false
		return
	}
	cb.failures++
	cb.lastFail = time.Now()
	cb.probing = false
	if !cb.open && cb.failures >= cb.cfg.FailureThreshold {
		cb.open = true
		cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures)
	}
}
