package resilience

import (
	"github.com/itsneelabh/gomind-refine/core"
	"github.com/itsneelabh/gomind-refine/telemetry"
)

// ResilienceDependencies holds the optional collaborators a circuit
// breaker is built with; a zero value is valid and yields sensible
// defaults.
type ResilienceDependencies struct {
	Logger core.Logger
}

// globalTelemetryAvailable reports whether the process-wide telemetry
// registry has been initialized, so CreateCircuitBreaker can wire in
// metrics without every caller having to check first.
func globalTelemetryAvailable() bool {
	return telemetry.GetRegistry() != nil
}

// CreateCircuitBreaker builds a named circuit breaker, defaulting its
// logger to a production logger and auto-enabling telemetry metrics
// when the global telemetry registry is active.
func CreateCircuitBreaker(name string, deps ResilienceDependencies) (*CircuitBreaker, error) {
	config := DefaultConfig()
	config.Name = name

	if deps.Logger != nil {
		config.Logger = deps.Logger
	} else {
		config.Logger = core.NewProductionLogger("circuit-breaker")
	}

	if globalTelemetryAvailable() {
		config.Metrics = NewTelemetryMetrics()
		config.Logger.Info("circuit breaker telemetry enabled", map[string]interface{}{"name": name})
	}

	return NewCircuitBreaker(config)
}
