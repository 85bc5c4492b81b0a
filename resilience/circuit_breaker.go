package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
)

// CircuitState is one of the three states a CircuitBreaker moves through.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

// MetricsCollector receives circuit breaker lifecycle events. Callers
// that don't care about metrics can leave CircuitBreakerConfig.Metrics
// nil; NewCircuitBreaker substitutes a no-op collector.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSuccess(string)                      {}
func (noopMetrics) RecordFailure(string, string)               {}
func (noopMetrics) RecordStateChange(string, string, string)   {}
func (noopMetrics) RecordRejection(string)                     {}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	Name    string
	Logger  core.Logger
	Metrics MetricsCollector

	// ErrorThreshold is the failure rate (0.0-1.0) within WindowDuration
	// that trips the breaker open, once VolumeThreshold requests have
	// been observed.
	ErrorThreshold  float64
	VolumeThreshold int
	WindowDuration  time.Duration

	// OpenDuration is how long the breaker stays open before allowing a
	// half-open probe.
	OpenDuration time.Duration
	// HalfOpenMaxProbes bounds how many calls are allowed through while
	// half-open, before the breaker decides to close or reopen.
	HalfOpenMaxProbes int
}

// DefaultConfig returns a CircuitBreakerConfig suited to an internal
// process-spawn or RPC-style dependency: trips at a 50% failure rate
// once 10 requests have been seen in a 10s window, reopens after 5s.
func DefaultConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		ErrorThreshold:    0.5,
		VolumeThreshold:   10,
		WindowDuration:    10 * time.Second,
		OpenDuration:      5 * time.Second,
		HalfOpenMaxProbes: 3,
	}
}

// CircuitBreaker guards a flaky dependency: it trips open after a burst
// of failures, rejects calls for OpenDuration, then lets a handful of
// half-open probes decide whether to close again or reopen.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger core.Logger

	mu          sync.Mutex
	state       CircuitState
	successes   int
	failures    int
	windowStart time.Time
	openedAt    time.Time
	halfOpenOK  int
	halfOpenBad int
}

// NewCircuitBreaker validates config and returns a breaker in the
// closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("resilience: circuit breaker name is required")
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	if config.WindowDuration == 0 {
		config.WindowDuration = 10 * time.Second
	}
	if config.OpenDuration == 0 {
		config.OpenDuration = 5 * time.Second
	}
	if config.HalfOpenMaxProbes == 0 {
		config.HalfOpenMaxProbes = 3
	}

	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	return &CircuitBreaker{
		config:      config,
		logger:      logger,
		state:       StateClosed,
		windowStart: time.Now(),
	}, nil
}

// CanExecute reports whether a call should be attempted right now,
// advancing open->half-open on timeout as a side effect.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.config.OpenDuration {
			cb.config.Metrics.RecordRejection(cb.config.Name)
			return false
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenOK, cb.halfOpenBad = 0, 0
		return true
	case StateHalfOpen:
		if cb.halfOpenOK+cb.halfOpenBad >= cb.config.HalfOpenMaxProbes {
			cb.config.Metrics.RecordRejection(cb.config.Name)
			return false
		}
		return true
	default:
		return true
	}
}

// RecordSuccess reports a completed call that did not error.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.config.Metrics.RecordSuccess(cb.config.Name)

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.config.HalfOpenMaxProbes {
			cb.transition(StateClosed)
			cb.resetWindow()
		}
	case StateClosed:
		cb.rotateWindow()
		cb.successes++
	}
}

// RecordFailure reports a completed call that errored.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.config.Metrics.RecordFailure(cb.config.Name, "execution_error")

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenBad++
		cb.transition(StateOpen)
		cb.openedAt = time.Now()
	case StateClosed:
		cb.rotateWindow()
		cb.failures++
		total := cb.successes + cb.failures
		if total >= cb.config.VolumeThreshold {
			rate := float64(cb.failures) / float64(total)
			if rate >= cb.config.ErrorThreshold {
				cb.transition(StateOpen)
				cb.openedAt = time.Now()
			}
		}
	}
}

// GetState returns the breaker's current state.
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// rotateWindow clears the success/failure counters once WindowDuration
// has elapsed, so old observations don't influence a fresh trip decision.
func (cb *CircuitBreaker) rotateWindow() {
	if time.Since(cb.windowStart) >= cb.config.WindowDuration {
		cb.resetWindow()
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.successes, cb.failures = 0, 0
	cb.windowStart = time.Now()
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.config.Metrics.RecordStateChange(cb.config.Name, string(from), string(to))
	cb.logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.config.Name, "from": string(from), "to": string(to),
	})
}
