package telemetry

// This file declares the metric catalog for each module. It lives in the
// telemetry package to avoid import cycles back into the modules it
// describes.

func init() {
	DeclareMetrics("coordinator", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "coordinator.worker_spawned",
				Type:   "counter",
				Help:   "Worker processes spawned",
				Labels: []string{"role", "complexity"},
			},
			{
				Name:   "coordinator.spawn_failed",
				Type:   "counter",
				Help:   "Worker spawn attempts that exhausted retries",
				Labels: []string{"role"},
			},
			{
				Name:    "coordinator.request_duration_ms",
				Type:    "histogram",
				Help:    "End-to-end request duration from spawn to terminal result",
				Labels:  []string{"role"},
				Unit:    "ms",
				Buckets: []float64{100, 500, 1000, 5000, 30000, 120000, 240000},
			},
			{
				Name:   "coordinator.requests_completed",
				Type:   "counter",
				Help:   "Requests reaching a terminal status",
				Labels: []string{"status"},
			},
		},
	})

	DeclareMetrics("experts", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:    "experts.call_duration_ms",
				Type:    "histogram",
				Help:    "Per-expert call duration",
				Labels:  []string{"expertId", "archetype"},
				Unit:    "ms",
				Buckets: []float64{10, 100, 500, 1000, 5000, 30000},
			},
			{
				Name:   "experts.agreement_level",
				Type:   "gauge",
				Help:   "Consensus agreement level for the most recent panel run",
				Labels: []string{"taskType"},
			},
		},
	})

	DeclareMetrics("memory", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "memory.tier.operations",
				Type:   "counter",
				Help:   "Memory tier read/write operations",
				Labels: []string{"tier", "operation"},
			},
			{
				Name:   "memory.maintenance.runs",
				Type:   "counter",
				Help:   "Maintenance pass executions",
				Labels: []string{"outcome"},
			},
		},
	})

	DeclareMetrics("refine", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:    "refine.iteration_duration_ms",
				Type:    "histogram",
				Help:    "Duration of a single refinement iteration",
				Labels:  []string{"goal"},
				Unit:    "ms",
				Buckets: []float64{100, 1000, 5000, 30000, 120000},
			},
			{
				Name:   "refine.audit_passes",
				Type:   "counter",
				Help:   "Refinement attempts whose audit passed all thresholds",
				Labels: []string{"goal", "passed"},
			},
		},
	})
}
