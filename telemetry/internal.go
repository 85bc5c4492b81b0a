package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// atomicCounter is a tiny int64 counter, used where a handful of atomics
// don't warrant pulling in a metrics library of their own.
type atomicCounter struct{ v atomic.Int64 }

func (c *atomicCounter) add(n int64)    { c.v.Add(n) }
func (c *atomicCounter) store(n int64)  { c.v.Store(n) }
func (c *atomicCounter) load() int64    { return c.v.Load() }

// instrumentSet lazily creates and caches OpenTelemetry instruments by
// metric name, so repeated Emit calls for the same name reuse one
// instrument instead of registering a new one each time.
type instrumentSet struct {
	meter      metric.Meter
	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	updowns    map[string]metric.Int64UpDownCounter
}

func newInstrumentSet(meter metric.Meter) *instrumentSet {
	return &instrumentSet{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		updowns:    make(map[string]metric.Int64UpDownCounter),
	}
}

func (s *instrumentSet) counter(ctx context.Context, name string, value float64, opts ...metric.AddOption) error {
	s.mu.Lock()
	c, ok := s.counters[name]
	if !ok {
		var err error
		if c, err = s.meter.Float64Counter(name); err != nil {
			s.mu.Unlock()
			return err
		}
		s.counters[name] = c
	}
	s.mu.Unlock()
	c.Add(ctx, value, opts...)
	return nil
}

func (s *instrumentSet) histogram(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	s.mu.Lock()
	h, ok := s.histograms[name]
	if !ok {
		var err error
		if h, err = s.meter.Float64Histogram(name); err != nil {
			s.mu.Unlock()
			return err
		}
		s.histograms[name] = h
	}
	s.mu.Unlock()
	h.Record(ctx, value, opts...)
	return nil
}

func (s *instrumentSet) updown(ctx context.Context, name string, delta int64, opts ...metric.AddOption) error {
	s.mu.Lock()
	c, ok := s.updowns[name]
	if !ok {
		var err error
		if c, err = s.meter.Int64UpDownCounter(name); err != nil {
			s.mu.Unlock()
			return err
		}
		s.updowns[name] = c
	}
	s.mu.Unlock()
	c.Add(ctx, delta, opts...)
	return nil
}

// cardinalityLimiter caps the number of distinct values seen per label
// key, replacing anything past the cap with "other" so a runaway label
// (a raw user id, say) can't blow up the backend's series count.
type cardinalityLimiter struct {
	limits map[string]int
	mu     sync.Mutex
	seen   map[string]map[string]struct{} // label key -> value set
}

func newCardinalityLimiter(limits map[string]int) *cardinalityLimiter {
	return &cardinalityLimiter{limits: limits, seen: make(map[string]map[string]struct{})}
}

func (c *cardinalityLimiter) limit(label, value string) string {
	limit, ok := c.limits[label]
	if !ok {
		return value
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	values, ok := c.seen[label]
	if !ok {
		values = make(map[string]struct{})
		c.seen[label] = values
	}
	if _, exists := values[value]; exists {
		return value
	}
	if len(values) >= limit {
		return "other"
	}
	values[value] = struct{}{}
	return value
}

func (c *cardinalityLimiter) current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, values := range c.seen {
		total += len(values)
	}
	return total
}

func (c *cardinalityLimiter) max() int {
	total := 0
	for _, limit := range c.limits {
		total += limit
	}
	return total
}

// backendCircuit protects the telemetry backend from a thundering herd of
// export attempts once it starts failing: it opens after MaxFailures
// consecutive failures, waits RecoveryTime, then allows a limited number
// of half-open probes before fully closing again.
type backendCircuit struct {
	cfg CircuitConfig

	mu          sync.Mutex
	state       string // "closed", "open", "half-open"
	failures    int
	halfSuccess int
	openedAt    time.Time
}

// CircuitConfig configures backendCircuit.
type CircuitConfig struct {
	Enabled      bool
	MaxFailures  int
	RecoveryTime time.Duration
	HalfOpenMax  int
}

func newBackendCircuit(cfg CircuitConfig) *backendCircuit {
	if !cfg.Enabled {
		return nil
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 10
	}
	if cfg.RecoveryTime == 0 {
		cfg.RecoveryTime = 30 * time.Second
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = 5
	}
	return &backendCircuit{cfg: cfg, state: "closed"}
}

func (b *backendCircuit) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case "open":
		if time.Since(b.openedAt) < b.cfg.RecoveryTime {
			return false
		}
		b.state = "half-open"
		b.halfSuccess = 0
		return true
	case "half-open":
		return b.halfSuccess < b.cfg.HalfOpenMax
	default:
		return true
	}
}

func (b *backendCircuit) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case "half-open":
		b.halfSuccess++
		if b.halfSuccess >= b.cfg.HalfOpenMax {
			b.state = "closed"
			b.failures = 0
		}
	case "closed":
		b.failures = 0
	}
}

func (b *backendCircuit) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.cfg.MaxFailures && b.state != "open" {
		b.state = "open"
		b.openedAt = time.Now()
	}
}

func (b *backendCircuit) State() string {
	if b == nil {
		return "disabled"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
