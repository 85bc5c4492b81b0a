package core

import (
	"context"
	"sync"
)

// Logger is the minimal structured-logging interface every subsystem
// accepts as an injected dependency.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with component scoping so structured
// logs can be filtered by subsystem:
//
//	jq 'select(.component == "coordinator")'
//	jq 'select(.component | startswith("memory/"))'
//
// Component naming convention:
//   - "coordinator"   - file-based coordinator
//   - "experts"       - multi-expert execution engine
//   - "refine"        - refinement loop engine
//   - "memory/<tier>" - memory substrate, per tier (hot/warm/cold)
//   - "ratelimit"     - token-bucket limiter
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
	GetComponent() string
}

// Telemetry is the optional tracing/metrics facade used by subsystems that
// want spans around spawn/call/tier-roundtrip operations.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents one telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpLogger discards everything. It is the fallback when a subsystem is
// constructed without an explicit Logger.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

func (n *NoOpLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}

// NoOpTelemetry discards every span and metric.
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}
func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan discards attributes and errors.
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}

// ============================================================================
// Global registry pattern for telemetry integration, ported from the
// teacher's core/interfaces.go: avoids a circular dependency between core
// and telemetry while still letting core-level loggers emit metrics once
// telemetry has initialized.
// ============================================================================

// MetricsRegistry lets the telemetry package register itself with core
// without core importing telemetry.
type MetricsRegistry interface {
	// Counter increments a counter metric by 1.
	Counter(name string, labels ...string)
	// Gauge sets a point-in-time measurement.
	Gauge(name string, value float64, labels ...string)
	// Histogram records a value in a distribution (latency, size).
	Histogram(name string, value float64, labels ...string)
	// EmitWithContext emits a metric carrying trace correlation.
	EmitWithContext(ctx context.Context, name string, value float64, labels ...string)
	// GetBaggage returns correlation baggage from context.
	GetBaggage(ctx context.Context) map[string]string
}

var globalMetricsRegistry MetricsRegistry

// SetMetricsRegistry registers the telemetry module's MetricsRegistry and
// enables the metrics-emission layer on every logger created so far.
func SetMetricsRegistry(registry MetricsRegistry) {
	globalMetricsRegistry = registry
	enableMetricsOnExistingLoggers()
}

// GetGlobalMetricsRegistry returns the registered MetricsRegistry, or nil
// if telemetry has not initialized yet.
func GetGlobalMetricsRegistry() MetricsRegistry {
	return globalMetricsRegistry
}

var (
	createdLoggers []*ProductionLogger
	loggersMutex   sync.RWMutex
)

func trackLogger(logger *ProductionLogger) {
	loggersMutex.Lock()
	defer loggersMutex.Unlock()
	createdLoggers = append(createdLoggers, logger)
	if globalMetricsRegistry != nil {
		logger.EnableMetrics()
	}
}

func enableMetricsOnExistingLoggers() {
	loggersMutex.Lock()
	defer loggersMutex.Unlock()
	for _, logger := range createdLoggers {
		logger.EnableMetrics()
	}
}
