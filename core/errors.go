package core

import (
	"errors"
	"fmt"
)

// ErrorKind is a closed taxonomy every FrameworkError carries. Callers
// branch on Kind rather than on error identity so retry/backoff/escalation
// policy stays centralized instead of scattered across sentinel checks.
type ErrorKind string

const (
	// KindTransient covers errors expected to clear on their own: a busy
	// backend, a momentarily unreachable child process, a lock contention.
	// Safe to retry with backoff.
	KindTransient ErrorKind = "transient"

	// KindResource covers exhaustion of a bounded resource: rate limiter
	// tokens, maxConcurrent quota, memory tier capacity. Retry only after
	// the resource frees up, never immediately.
	KindResource ErrorKind = "resource"

	// KindInvalidInput covers malformed requests: bad JSON, missing
	// required fields, a maxDepth violation. Never retryable as-is.
	KindInvalidInput ErrorKind = "invalid_input"

	// KindContractViolation covers a collaborator breaking its documented
	// protocol: a child process skipping its readiness marker, a result
	// file with the wrong shape, a handoff consumed twice. Indicates a
	// bug, not a transient condition.
	KindContractViolation ErrorKind = "contract_violation"

	// KindSafety covers the refinement loop's hard safety gate failing.
	// Never retried automatically; always terminates the iteration.
	KindSafety ErrorKind = "safety"
)

// Sentinel errors for errors.Is() comparisons.
var (
	ErrRequestNotFound   = errors.New("request not found")
	ErrResultNotFound    = errors.New("result not found")
	ErrHandoffNotFound   = errors.New("handoff not found")
	ErrHandoffConsumed   = errors.New("handoff already consumed")
	ErrRecordNotFound    = errors.New("memory record not found")
	ErrRecordProtected   = errors.New("memory record is protected from eviction")

	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	ErrAlreadyStarted  = errors.New("already started")
	ErrNotInitialized  = errors.New("not initialized")
	ErrMaxDepthReached = errors.New("maximum sub-request depth reached")
	ErrQuotaExhausted  = errors.New("maxConcurrent quota exhausted")

	ErrTimeout            = errors.New("operation timeout")
	ErrContextCanceled    = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrConnectionFailed   = errors.New("connection failed")

	ErrSafetyGateFailed  = errors.New("safety self-audit dimension failed")
	ErrNoReadinessMarker = errors.New("child process did not emit a readiness marker")

	// ErrCircuitBreakerOpen is returned by resilience.CircuitBreaker when a
	// call is rejected because the breaker has tripped open.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// ErrNotFound is a generic not-found sentinel for lookups that don't
	// have a more specific sentinel of their own (e.g. a named expert
	// missing from the registry).
	ErrNotFound = errors.New("not found")
)

// FrameworkError is the structured error type returned by every package in
// this module. It always carries a Kind so policy code can branch on it
// instead of re-deriving intent from string matching.
type FrameworkError struct {
	Op      string // operation that failed, e.g. "coordinator.Submit"
	Kind    ErrorKind
	ID      string // requestId/expertId/recordId involved, if any
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError wraps err with an operation name and a closed Kind.
func NewFrameworkError(op string, kind ErrorKind, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// WithID returns a copy of the error annotated with an entity id.
func (e *FrameworkError) WithID(id string) *FrameworkError {
	clone := *e
	clone.ID = id
	return &clone
}

// IsRetryable reports whether err (or its Kind, if it's a *FrameworkError)
// represents a transient condition worth retrying with backoff.
func IsRetryable(err error) bool {
	var fe *FrameworkError
	if errors.As(err, &fe) && fe.Kind == KindTransient {
		return true
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}

// IsResourceExhausted reports whether err represents a bounded-resource
// exhaustion (rate limiter, maxConcurrent quota, memory capacity).
func IsResourceExhausted(err error) bool {
	var fe *FrameworkError
	if errors.As(err, &fe) && fe.Kind == KindResource {
		return true
	}
	return errors.Is(err, ErrQuotaExhausted)
}

// IsInvalidInput reports whether err represents a caller mistake that will
// never succeed on retry.
func IsInvalidInput(err error) bool {
	var fe *FrameworkError
	return errors.As(err, &fe) && fe.Kind == KindInvalidInput
}

// IsContractViolation reports whether err represents a collaborator
// breaking its documented protocol.
func IsContractViolation(err error) bool {
	var fe *FrameworkError
	if errors.As(err, &fe) && fe.Kind == KindContractViolation {
		return true
	}
	return errors.Is(err, ErrNoReadinessMarker) || errors.Is(err, ErrHandoffConsumed)
}

// IsSafetyFailure reports whether err represents the refinement loop's
// hard safety gate failing. Never retryable.
func IsSafetyFailure(err error) bool {
	var fe *FrameworkError
	if errors.As(err, &fe) && fe.Kind == KindSafety {
		return true
	}
	return errors.Is(err, ErrSafetyGateFailed)
}

// IsConfigurationError reports whether err is configuration-related.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrMissingConfiguration)
}

// IsStateError reports whether err is related to an invalid state transition.
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) || errors.Is(err, ErrNotInitialized)
}

// IsNotFound reports whether err represents a missing entity lookup
// (request, result, handoff, memory record, or a generic not-found).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrResultNotFound) ||
		errors.Is(err, ErrHandoffNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}
