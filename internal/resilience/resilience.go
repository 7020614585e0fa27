// Package resilience wires the generic retry and circuit-breaker
// primitives to the platform's fixed backoff schedule and error
// taxonomy. It never re-implements backoff or state-machine logic —
// both come from infrastructure/resilience — it only supplies the
// schedule, the jitter, and the retryable/terminal classification.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/darkvelocity/retailcore/infrastructure/resilience"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/config"
)

// Retrier executes operations against the fixed 1,2,4,8,16s (±25% jitter)
// schedule, stopping early on a non-retryable apierr.Kind.
type Retrier struct {
	cfg config.RetryConfig
}

// NewRetrier builds a Retrier from the platform retry configuration.
func NewRetrier(cfg config.RetryConfig) *Retrier {
	return &Retrier{cfg: cfg}
}

// Do runs fn up to cfg.MaxAttempts times on the fixed backoff schedule,
// delegating the actual loop/sleep/jitter to infrastructure/resilience.Retry.
// It stops immediately if fn's error is not retryable per
// apierr.Kind.Retryable, surfacing that error instead of exhausting the
// schedule.
func (r *Retrier) Do(ctx context.Context, fn func(attempt int) error) error {
	attempt := 0
	var terminalErr error
	err := resilience.Retry(ctx, r.retryConfig(), func() error {
		fnErr := fn(attempt)
		attempt++
		if fnErr != nil && !apierr.KindOf(fnErr).Retryable() {
			terminalErr = fnErr
			return nil
		}
		return fnErr
	})
	if terminalErr != nil {
		return terminalErr
	}
	return err
}

// retryConfig translates the fixed ScheduleSeconds schedule into the
// generic package's exponential-backoff parameters: an initial delay and
// multiplier that reproduce the schedule's first two steps, capped at its
// last entry.
func (r *Retrier) retryConfig() resilience.RetryConfig {
	schedule := r.cfg.ScheduleSeconds
	initial := time.Second
	multiplier := 2.0
	maxDelay := 16 * time.Second
	if len(schedule) > 0 {
		initial = time.Duration(schedule[0]) * time.Second
		maxDelay = time.Duration(schedule[len(schedule)-1]) * time.Second
	}
	if len(schedule) > 1 && schedule[0] > 0 {
		multiplier = float64(schedule[1]) / float64(schedule[0])
	}
	return resilience.RetryConfig{
		MaxAttempts:  r.cfg.MaxAttempts,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		Jitter:       r.cfg.JitterFraction,
	}
}

// BreakerRegistry hands out one circuit breaker per named processor
// (e.g. a cloud TSS region, a payment gateway), created lazily on first
// use with the platform's trip-threshold/reset-timeout configuration.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      config.CircuitBreakerConfig
	breakers map[string]*resilience.CircuitBreaker
}

// NewBreakerRegistry builds a registry from the platform circuit-breaker
// configuration.
func NewBreakerRegistry(cfg config.CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, breakers: make(map[string]*resilience.CircuitBreaker)}
}

// For returns the breaker for name, creating it on first reference.
func (r *BreakerRegistry) For(name string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := resilience.New(resilience.Config{
		MaxFailures: r.cfg.TripThreshold,
		Timeout:     r.cfg.ResetAfter,
		HalfOpenMax: 1,
	})
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker, translating a tripped
// breaker into apierr.ErrCircuitOpen so callers can branch on taxonomy
// alone.
func (r *BreakerRegistry) Execute(name string, fn func() error) error {
	cb := r.For(name)
	err := cb.Execute(context.Background(), fn)
	if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
		return apierr.ErrCircuitOpen(name)
	}
	return err
}

// State reports the current state of the named breaker as a metrics gauge
// value: 0 closed, 1 open, 2 half-open.
func (r *BreakerRegistry) State(name string) int {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	switch cb.State() {
	case resilience.StateOpen:
		return 1
	case resilience.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
