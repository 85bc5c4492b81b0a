// Package telemetry emits metrics and traces for the refinement engine,
// the expert panel, the file-based coordinator, and the memory substrate.
//
// Initialize once from main:
//
//	telemetry.Initialize(telemetry.UseProfile(telemetry.ProfileProduction))
//	defer telemetry.Shutdown(context.Background())
//
// then emit from anywhere:
//
//	telemetry.Counter("coordinator.worker_spawned", "role", "critic")
//	telemetry.RecordLatency("experts.call_duration_ms", ms, "expertId", id)
//
// Metric emission never blocks and never returns an error to the caller:
// an un-initialized package or a tripped internal circuit breaker degrades
// to a silent no-op rather than a crash, and a label value past its
// cardinality cap is replaced with "other". Baggage set with WithBaggage rides along on every metric emitted
// through EmitWithContext and on every span started from that context.
package telemetry
