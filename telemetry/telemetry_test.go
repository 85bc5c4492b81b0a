package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInitializeEmitAndHealth(t *testing.T) {
	DeclareMetrics("telemetry_test", ModuleConfig{
		Metrics: []MetricDefinition{
			{Name: "telemetry_test.calls", Type: "counter", Help: "test calls", Labels: []string{"status"}},
		},
	})

	if err := Initialize(Config{ServiceName: "telemetry-test", Endpoint: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = Shutdown(ctx)
	})

	Counter("telemetry_test.calls", "status", "ok")
	Gauge("telemetry_test.gauge", 42)
	Histogram("telemetry_test.duration_ms", 12.5)

	health := GetHealth()
	if !health.Initialized {
		t.Fatal("expected telemetry to report initialized")
	}
	if health.MetricsEmitted == 0 {
		t.Fatal("expected at least one metric to have been emitted")
	}
	if health.CircuitState != "disabled" {
		t.Fatalf("expected circuit disabled by default, got %s", health.CircuitState)
	}
}

func TestCardinalityLimiterCapsDistinctValues(t *testing.T) {
	c := newCardinalityLimiter(map[string]int{"expertId": 2})

	if got := c.limit("expertId", "a"); got != "a" {
		t.Fatalf("expected first value through unchanged, got %q", got)
	}
	c.limit("expertId", "b")
	if got := c.limit("expertId", "c"); got != "other" {
		t.Fatalf("expected third distinct value to collapse to \"other\", got %q", got)
	}
	if got := c.limit("expertId", "a"); got != "a" {
		t.Fatalf("expected a previously-seen value to pass through, got %q", got)
	}
	if got := c.limit("untracked-label", "anything"); got != "anything" {
		t.Fatalf("expected an unconfigured label to pass through unchanged, got %q", got)
	}
}

func TestBackendCircuitOpensAndRecovers(t *testing.T) {
	b := newBackendCircuit(CircuitConfig{Enabled: true, MaxFailures: 2, RecoveryTime: 10 * time.Millisecond, HalfOpenMax: 1})

	if !b.Allow() {
		t.Fatal("expected a fresh circuit to allow")
	}
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != "open" {
		t.Fatalf("expected open after MaxFailures failures, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("expected open circuit to reject")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected a half-open probe to be allowed after RecoveryTime")
	}
	b.RecordSuccess()
	if b.State() != "closed" {
		t.Fatalf("expected closed after a successful half-open probe, got %s", b.State())
	}
}
