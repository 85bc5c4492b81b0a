// Level 1 of this file's API (Counter/Histogram/Gauge/Duration) covers
// ordinary metric emission. Level 2 (RecordError/RecordSuccess/...) adds
// semantic helpers. Level 3 (EmitWithOptions) exposes sampling, units, and
// bulk labels for call sites that need more control.
package telemetry

import (
	"context"
	"time"
)

// Counter increments name by 1.
func Counter(name string, labels ...string) {
	Emit(name, 1, labels...)
}

// Histogram records value into name's distribution.
func Histogram(name string, value float64, labels ...string) {
	Emit(name, value, labels...)
}

// Gauge records a point-in-time value for name.
func Gauge(name string, value float64, labels ...string) {
	Emit(name, value, labels...)
}

// Duration records the milliseconds elapsed since startTime.
func Duration(name string, startTime time.Time, labels ...string) {
	Emit(name, float64(time.Since(startTime).Milliseconds()), labels...)
}

// RecordError records an occurrence of name tagged with an error_type label.
func RecordError(name, errorType string, labels ...string) {
	Counter(name, append(labels, "error_type", errorType)...)
}

// RecordSuccess records a successful occurrence of name.
func RecordSuccess(name string, labels ...string) {
	Counter(name, append(labels, "status", "success")...)
}

// RecordLatency records milliseconds into name's distribution, tagged
// with a coarse latency_bucket label for cheap dashboard aggregation.
func RecordLatency(name string, milliseconds float64, labels ...string) {
	Histogram(name, milliseconds, append(labels, "latency_bucket", latencyBucket(milliseconds))...)
}

// RecordBytes records a byte count for name.
func RecordBytes(name string, bytes int64, labels ...string) {
	Emit(name, float64(bytes), labels...)
}

// EmitOption configures EmitWithOptions.
type EmitOption func(*emitConfig)

type emitConfig struct {
	labels     map[string]string
	unit       Unit
	sampleRate float64
}

// Unit names a metric's unit of measure for documentation purposes.
type Unit string

const (
	UnitMilliseconds Unit = "ms"
	UnitBytes        Unit = "bytes"
	UnitPercent      Unit = "percent"
	UnitCount        Unit = "count"
)

// EmitWithOptions emits name with full control over labels, unit, and
// sampling. ctx's baggage is merged in via EmitWithContext.
func EmitWithOptions(ctx context.Context, name string, value float64, opts ...EmitOption) {
	cfg := &emitConfig{labels: make(map[string]string), sampleRate: 1.0}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.sampleRate < 1.0 && !shouldSample(cfg.sampleRate) {
		return
	}

	labelPairs := make([]string, 0, len(cfg.labels)*2)
	for k, v := range cfg.labels {
		labelPairs = append(labelPairs, k, v)
	}
	EmitWithContext(ctx, name, value, labelPairs...)
}

// WithUnit documents the metric's unit; does not affect emission.
func WithUnit(u Unit) EmitOption { return func(c *emitConfig) { c.unit = u } }

// WithLabels merges a label map into the emitted metric.
func WithLabels(labels map[string]string) EmitOption {
	return func(c *emitConfig) {
		for k, v := range labels {
			c.labels[k] = v
		}
	}
}

// WithLabel adds a single label to the emitted metric.
func WithLabel(key, value string) EmitOption {
	return func(c *emitConfig) { c.labels[key] = value }
}

// WithSampleRate samples emission at rate (0.0-1.0); 1.0 emits every call.
func WithSampleRate(rate float64) EmitOption {
	return func(c *emitConfig) { c.sampleRate = rate }
}

func latencyBucket(ms float64) string {
	switch {
	case ms < 1:
		return "<1ms"
	case ms < 10:
		return "1-10ms"
	case ms < 100:
		return "10-100ms"
	case ms < 1000:
		return "100ms-1s"
	case ms < 10000:
		return "1-10s"
	default:
		return ">10s"
	}
}

func shouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return time.Now().UnixNano()%100 < int64(rate*100)
}

// TimeOperation starts a timer and returns a func to record its duration
// under name; intended for `defer telemetry.TimeOperation(...)()`.
func TimeOperation(name string, labels ...string) func() {
	start := time.Now()
	return func() { Duration(name, start, labels...) }
}

// TrackGoroutines adjusts an up-down counter tracking concurrently
// running goroutines for some pool (delta is +1 on start, -1 on exit).
func TrackGoroutines(name string, delta int, labels ...string) {
	if r := getRegistry(); r != nil {
		_ = r.instruments.updown(context.Background(), name, int64(delta))
	}
}

// BatchEmit emits several metrics in one call, for call sites that
// compute a handful of related counts together (e.g. a maintenance pass).
func BatchEmit(metrics []struct {
	Name   string
	Value  float64
	Labels []string
}) {
	for _, m := range metrics {
		Emit(m.Name, m.Value, m.Labels...)
	}
}
