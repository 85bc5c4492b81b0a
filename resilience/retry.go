package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/itsneelabh/gomind-refine/core"
)

// RetryConfig bounds a retry loop's attempt count and backoff schedule.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig is a conservative default: 3 attempts, 100ms-5s
// exponential backoff with jitter.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

func (c *RetryConfig) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.InitialDelay
	eb.MaxInterval = c.MaxDelay
	eb.Multiplier = c.BackoffFactor
	if !c.JitterEnabled {
		eb.RandomizationFactor = 0
	}
	return eb
}

// Retry runs fn until it succeeds, config.MaxAttempts is exhausted, or
// ctx is canceled.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	op := func() (struct{}, error) {
		if err := fn(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(config.backOff()),
		backoff.WithMaxTries(uint(config.MaxAttempts)),
	)
	return err
}

// RetryWithCircuitBreaker retries fn under Retry's backoff schedule,
// consulting cb before every attempt and recording the outcome after
// each one. The circuit short-circuits retries once it trips open.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return core.ErrCircuitBreakerOpen
		}
		if err := fn(); err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	})
}
