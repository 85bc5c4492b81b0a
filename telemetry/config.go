package telemetry

import "time"

// Config configures the telemetry system.
type Config struct {
	Enabled     bool
	ServiceName string
	Endpoint    string

	SamplingRate float64

	CardinalityLimit  int
	CardinalityLimits map[string]int

	CircuitBreaker CircuitConfig
}

// Profile names a pre-built Config suited to a deployment environment.
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileStaging     Profile = "staging"
	ProfileProduction  Profile = "production"
)

var profiles = map[Profile]Config{
	ProfileDevelopment: {
		Enabled:          true,
		Endpoint:         "localhost:4318",
		SamplingRate:     1.0,
		CardinalityLimit: 50000,
		CircuitBreaker:   CircuitConfig{Enabled: false},
	},
	ProfileStaging: {
		Enabled:          true,
		Endpoint:         "otel-collector.staging:4318",
		SamplingRate:     0.1,
		CardinalityLimit: 20000,
		CircuitBreaker: CircuitConfig{
			Enabled:      true,
			MaxFailures:  10,
			RecoveryTime: 15 * time.Second,
		},
	},
	ProfileProduction: {
		Enabled:          true,
		Endpoint:         "otel-collector.prod:4318",
		SamplingRate:     0.001,
		CardinalityLimit: 10000,
		CircuitBreaker: CircuitConfig{
			Enabled:      true,
			MaxFailures:  10,
			RecoveryTime: 30 * time.Second,
			HalfOpenMax:  5,
		},
		CardinalityLimits: map[string]int{
			"expertId": 100,
			"role":     50,
			"taskType": 100,
		},
	},
}

// UseProfile returns the named profile's Config, falling back to
// ProfileDevelopment for an unrecognized name.
func UseProfile(profile Profile) Config {
	if config, ok := profiles[profile]; ok {
		return config
	}
	return profiles[ProfileDevelopment]
}
