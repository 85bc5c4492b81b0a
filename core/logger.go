package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProductionLogger is the framework's default Logger/ComponentAwareLogger
// implementation.
//
// Logging layers:
//   - Layer 1: console output (always works, immediate visibility)
//   - Layer 2: metrics emission (once a MetricsRegistry registers itself)
//
// Format auto-detects Kubernetes (JSON) vs local (text) and can be
// overridden with REFINE_LOG_FORMAT. Error logs are rate-limited to avoid
// flooding stdout when a backend or child process is failing repeatedly.
type ProductionLogger struct {
	level     string
	debug     bool
	component string
	format    string
	output    io.Writer
	mu        sync.RWMutex

	errorLimiter   *RateLimiter
	metricsEnabled bool
}

// NewProductionLogger creates a root logger for the given component.
// Component naming convention mirrors the teacher's:
//   - "coordinator"        - file-based coordinator
//   - "experts"            - multi-expert execution engine
//   - "refine"             - refinement loop engine
//   - "memory/<tier>"      - memory substrate, per tier
func NewProductionLogger(component string) *ProductionLogger {
	level := os.Getenv("REFINE_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	debug := os.Getenv("REFINE_DEBUG") == "true" || strings.ToUpper(level) == "DEBUG"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("REFINE_LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	l := &ProductionLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		component:    component,
		format:       format,
		output:       os.Stdout,
		errorLimiter: NewRateLimiter(1 * time.Second),
	}
	trackLogger(l)
	return l
}

// WithComponent returns a logger scoped to a different component, sharing
// this logger's level/format/output configuration.
func (l *ProductionLogger) WithComponent(component string) Logger {
	l.mu.RLock()
	clone := &ProductionLogger{
		level:        l.level,
		debug:        l.debug,
		component:    component,
		format:       l.format,
		output:       l.output,
		errorLimiter: NewRateLimiter(1 * time.Second),
	}
	l.mu.RUnlock()
	trackLogger(clone)
	return clone
}

// GetComponent returns the component this logger is scoped to.
func (l *ProductionLogger) GetComponent() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.component
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{})  { l.log("INFO", msg, fields) }
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{})  { l.log("WARN", msg, fields) }
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("INFO", msg, withTrace(ctx, fields))
}

func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, withTrace(ctx, fields))
}

func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("WARN", msg, withTrace(ctx, fields))
}

func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, withTrace(ctx, fields))
}

func withTrace(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	if ctx == nil {
		return fields
	}
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok && requestID != "" {
		out := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			out[k] = v
		}
		out["requestId"] = requestID
		return out
	}
	return fields
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)

	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
	l.emitLogMetric(level, fields)
}

func (l *ProductionLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"component": l.component,
		"message":   msg,
	}
	for k, v := range fields {
		if k != "timestamp" && k != "level" && k != "component" && k != "message" {
			entry[k] = v
		}
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *ProductionLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	if len(fields) > 0 {
		b.WriteString(" ")
		for _, k := range []string{"requestId", "expertId", "processId", "error"} {
			if v, ok := fields[k]; ok {
				fmt.Fprintf(&b, "%s=%v ", k, v)
				delete(fields, k)
			}
		}
		for k, v := range fields {
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n", timestamp, level, l.component, msg, b.String())
}

func (l *ProductionLogger) shouldLog(level string) bool {
	levels := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	current, ok1 := levels[l.level]
	message, ok2 := levels[level]
	if !ok1 || !ok2 {
		return true
	}
	return message >= current
}

// SetOutput redirects log output, primarily for tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func (l *ProductionLogger) emitLogMetric(level string, fields map[string]interface{}) {
	if !l.metricsEnabled {
		return
	}
	registry := GetGlobalMetricsRegistry()
	if registry == nil {
		return
	}
	labels := []string{"level", level, "component", l.component}
	registry.Counter("log.lines", labels...)
}

// EnableMetrics is invoked once a MetricsRegistry has registered itself.
func (l *ProductionLogger) EnableMetrics() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metricsEnabled = true
}

type requestIDKey struct{}

// WithRequestID attaches a requestId to ctx so loggers and spans downstream
// can correlate a whole refinement run without threading the value by hand.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext retrieves a requestId set by WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey{}).(string)
	return v, ok
}

// RateLimiter implements a simple fixed-interval gate, used to throttle
// error-log emission during sustained failures.
type RateLimiter struct {
	interval time.Duration
	lastTime time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a rate limiter allowing at most one Allow() success
// per interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Allow reports whether an action may proceed now.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.lastTime) >= r.interval {
		r.lastTime = now
		return true
	}
	return false
}
