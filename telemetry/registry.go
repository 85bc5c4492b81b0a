package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
)

// ModuleConfig declares a module's metrics ahead of Initialize, so
// packages can register their catalog from an init() without caring
// about initialization order.
type ModuleConfig struct {
	Metrics []MetricDefinition
}

// MetricDefinition documents one metric's shape; Initialize pre-creates
// its instrument so the first real emission doesn't pay registration cost.
type MetricDefinition struct {
	Name    string
	Type    string // counter, histogram, updowncounter
	Help    string
	Labels  []string
	Unit    string
	Buckets []float64
}

var (
	globalRegistry  atomic.Value // *Registry
	initOnce        sync.Once
	declaredMetrics sync.Map // map[string]ModuleConfig

	telemetryErrors  atomicCounter
	telemetryDropped atomicCounter
)

// DeclareMetrics registers a module's metric catalog. Safe to call from
// an init() function, before Initialize runs.
func DeclareMetrics(module string, config ModuleConfig) {
	declaredMetrics.Store(module, config)
}

// Registry owns the OpenTelemetry provider and the safety layers
// (cardinality limiting, the backend circuit breaker) that sit in front
// of it.
type Registry struct {
	config      Config
	otel        *otelProvider
	instruments *instrumentSet
	cardinality *cardinalityLimiter
	circuit     *backendCircuit

	emitted   atomicCounter
	startTime time.Time
	lastError atomic.Value // string
}

// Initialize activates telemetry for the process. Only the first call
// takes effect; later calls are no-ops returning nil. If it fails, Emit
// and friends remain safe no-ops rather than panicking.
func Initialize(config Config) error {
	var initErr error
	initOnce.Do(func() {
		logger := GetLogger()
		logger.Info("telemetry initializing", map[string]interface{}{"service": config.ServiceName, "endpoint": config.Endpoint})

		r, err := newRegistry(config)
		if err != nil {
			initErr = err
			logger.Error("telemetry initialization failed", map[string]interface{}{"error": err.Error()})
			return
		}

		declaredMetrics.Range(func(key, value interface{}) bool {
			r.registerModule(value.(ModuleConfig))
			return true
		})

		globalRegistry.Store(r)
		core.SetMetricsRegistry(frameworkMetrics{})

		logger.Info("telemetry initialized", map[string]interface{}{
			"circuit_enabled": r.circuit != nil,
			"init_ms":         time.Since(r.startTime).Milliseconds(),
		})
	})
	return initErr
}

func newRegistry(config Config) (*Registry, error) {
	if config.Endpoint == "" {
		config.Endpoint = "localhost:4318"
	}
	if config.ServiceName == "" {
		config.ServiceName = "gomind-refine"
	}

	provider, err := newOTelProvider(config.ServiceName, config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otel provider: %w", err)
	}

	limits := config.CardinalityLimits
	if limits == nil {
		limits = map[string]int{"expertId": 100, "role": 50, "taskType": 100}
	}

	r := &Registry{
		config:      config,
		otel:        provider,
		instruments: newInstrumentSet(provider.meter),
		cardinality: newCardinalityLimiter(limits),
		circuit:     newBackendCircuit(config.CircuitBreaker),
		startTime:   time.Now(),
	}
	r.lastError.Store("")
	return r, nil
}

func (r *Registry) registerModule(config ModuleConfig) {
	ctx := context.Background()
	for _, m := range config.Metrics {
		switch m.Type {
		case "counter":
			_ = r.instruments.counter(ctx, m.Name, 0)
		case "histogram":
			_ = r.instruments.histogram(ctx, m.Name, 0)
		case "updowncounter":
			_ = r.instruments.updown(ctx, m.Name, 0)
		}
	}
}

func (r *Registry) emit(name string, value float64, labels map[string]string) error {
	if r.circuit != nil && !r.circuit.Allow() {
		telemetryDropped.add(1)
		return fmt.Errorf("telemetry backend circuit open")
	}

	for k, v := range labels {
		labels[k] = r.cardinality.limit(k, v)
	}

	r.otel.record(name, value, labels)
	r.emitted.add(1)
	if r.circuit != nil {
		r.circuit.RecordSuccess()
	}
	return nil
}

func getRegistry() *Registry {
	v := globalRegistry.Load()
	if v == nil {
		return nil
	}
	return v.(*Registry)
}

// Emit sends one metric observation. A no-op until Initialize succeeds.
func Emit(name string, value float64, labels ...string) {
	r := getRegistry()
	if r == nil {
		return
	}
	if err := r.emit(name, value, parseLabels(labels...)); err != nil {
		telemetryErrors.add(1)
		r.lastError.Store(err.Error())
		if r.circuit != nil {
			r.circuit.RecordFailure()
		}
	}
}

// EmitWithContext is Emit, but merges ctx's baggage into the labels first.
func EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	Emit(name, value, appendBaggageToLabels(ctx, labels)...)
}

func parseLabels(labels ...string) map[string]string {
	m := make(map[string]string, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		m[labels[i]] = labels[i+1]
	}
	return m
}

// Shutdown flushes and tears down the telemetry system. Safe to call
// even if Initialize was never called or already shut down.
func Shutdown(ctx context.Context) error {
	r := getRegistry()
	if r == nil {
		return nil
	}
	logger := GetLogger()
	logger.Info("telemetry shutting down", map[string]interface{}{"emitted": r.emitted.load()})

	err := r.otel.shutdown(ctx)
	core.SetMetricsRegistry(nil)
	globalRegistry.Store((*Registry)(nil))
	return err
}

// GetRegistry returns the active registry, or nil before Initialize.
func GetRegistry() *Registry { return getRegistry() }

// Health reports the telemetry system's own operating condition.
type Health struct {
	Initialized     bool   `json:"initialized"`
	MetricsEmitted  int64  `json:"metrics_emitted"`
	MetricsDropped  int64  `json:"metrics_dropped"`
	Errors          int64  `json:"errors"`
	LastError       string `json:"last_error,omitempty"`
	CircuitState    string `json:"circuit_state"`
	Uptime          string `json:"uptime"`
	CardinalityUsed int    `json:"cardinality_used"`
	CardinalityMax  int    `json:"cardinality_max"`
}

// GetHealth returns the current Health snapshot.
func GetHealth() Health {
	r := getRegistry()
	if r == nil {
		return Health{}
	}
	lastErr, _ := r.lastError.Load().(string)
	return Health{
		Initialized:     true,
		MetricsEmitted:  r.emitted.load(),
		MetricsDropped:  telemetryDropped.load(),
		Errors:          telemetryErrors.load(),
		LastError:       lastErr,
		CircuitState:    r.circuit.State(),
		Uptime:          time.Since(r.startTime).String(),
		CardinalityUsed: r.cardinality.current(),
		CardinalityMax:  r.cardinality.max(),
	}
}

// HealthHandler serves GetHealth as JSON, with a 503 while telemetry is
// uninitialized or its backend circuit is open.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := GetHealth()
	w.Header().Set("Content-Type", "application/json")
	if !health.Initialized || health.CircuitState == "open" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// InternalMetrics reports telemetry's own emission counters, for a
// /debug endpoint distinct from the richer Health snapshot.
type InternalMetrics struct {
	Errors  int64 `json:"errors"`
	Dropped int64 `json:"dropped"`
	Emitted int64 `json:"emitted"`
}

// GetInternalMetrics returns the current InternalMetrics snapshot.
func GetInternalMetrics() InternalMetrics {
	emitted := int64(0)
	if r := getRegistry(); r != nil {
		emitted = r.emitted.load()
	}
	return InternalMetrics{Errors: telemetryErrors.load(), Dropped: telemetryDropped.load(), Emitted: emitted}
}

// frameworkMetrics adapts the package-level emission functions to
// core.MetricsRegistry, so components holding only a core.Logger-style
// dependency (via core.GetGlobalMetricsRegistry) can still emit metrics
// without importing this package directly.
type frameworkMetrics struct{}

func (frameworkMetrics) Counter(name string, labels ...string)          { Counter(name, labels...) }
func (frameworkMetrics) Gauge(name string, value float64, labels ...string) { Gauge(name, value, labels...) }
func (frameworkMetrics) Histogram(name string, value float64, labels ...string) {
	Histogram(name, value, labels...)
}
func (frameworkMetrics) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	EmitWithContext(ctx, name, value, labels...)
}
