package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
)

func TestCircuitBreakerTripsOnVolumeAndErrorRate(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{
		Name: "spawn.test", ErrorThreshold: 0.5, VolumeThreshold: 4, WindowDuration: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	if !cb.CanExecute() {
		t.Fatal("expected closed breaker to allow execution")
	}

	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Fatalf("expected state open after exceeding error threshold, got %s", cb.GetState())
	}
	if cb.CanExecute() {
		t.Fatal("expected open breaker to reject execution")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{
		Name: "recover.test", ErrorThreshold: 0.1, VolumeThreshold: 1,
		OpenDuration: 10 * time.Millisecond, HalfOpenMaxProbes: 2,
	})
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("expected half-open probe to be allowed after OpenDuration")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open state, got %s", cb.GetState())
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed state after successful probes, got %s", cb.GetState())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{
		Name: "reopen.test", ErrorThreshold: 0.1, VolumeThreshold: 1,
		OpenDuration: 5 * time.Millisecond, HalfOpenMaxProbes: 2,
	})
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	cb.CanExecute() // transitions to half-open
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Fatalf("expected a half-open failure to reopen the breaker, got %s", cb.GetState())
	}
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{Name: "concurrent.test", ErrorThreshold: 0.9, VolumeThreshold: 1000})
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.CanExecute() {
				cb.RecordSuccess()
			}
		}()
	}
	wg.Wait()
}

func TestRetryWithCircuitBreakerStopsOnOpenCircuit(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{Name: "retry.test", ErrorThreshold: 0.1, VolumeThreshold: 1})
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}
	cb.RecordFailure() // opens the breaker directly

	calls := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	err = RetryWithCircuitBreaker(context.Background(), cfg, cb, func() error {
		calls++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected an error from an open circuit")
	}
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Fatalf("expected ErrCircuitBreakerOpen, got %v", err)
	}
}

func TestRetryWithCircuitBreakerSucceedsEventually(t *testing.T) {
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{Name: "retry.success.test", ErrorThreshold: 0.9, VolumeThreshold: 100})
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	err = RetryWithCircuitBreaker(context.Background(), cfg, cb, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected breaker to remain closed, got %s", cb.GetState())
	}
}

func TestCreateCircuitBreakerDefaultsLogger(t *testing.T) {
	cb, err := CreateCircuitBreaker("coordinator.spawn.test-binary", ResilienceDependencies{})
	if err != nil {
		t.Fatalf("CreateCircuitBreaker: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected a fresh breaker to start closed, got %s", cb.GetState())
	}
}
