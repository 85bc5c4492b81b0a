package telemetry

import (
	"context"
	"testing"
)

func TestWithBaggageRoundTrip(t *testing.T) {
	ctx := WithBaggage(context.Background(), "expertId", "e-1", "taskType", "refine")

	got := GetBaggage(ctx)
	if got["expertId"] != "e-1" || got["taskType"] != "refine" {
		t.Fatalf("unexpected baggage: %+v", got)
	}
}

func TestAppendBaggageToLabelsMergesAndSorts(t *testing.T) {
	ctx := WithBaggage(context.Background(), "runId", "r-1")

	labels := appendBaggageToLabels(ctx, []string{"status", "ok"})
	if len(labels) != 4 {
		t.Fatalf("expected 4 label elements (2 pairs), got %d: %v", len(labels), labels)
	}
	if labels[0] != "runId" || labels[1] != "r-1" {
		t.Fatalf("expected baggage key to sort first, got %v", labels)
	}
	if labels[2] != "status" || labels[3] != "ok" {
		t.Fatalf("expected explicit label preserved, got %v", labels)
	}
}

func TestAppendBaggageToLabelsNoBaggage(t *testing.T) {
	labels := appendBaggageToLabels(context.Background(), []string{"status", "ok"})
	if len(labels) != 2 || labels[0] != "status" || labels[1] != "ok" {
		t.Fatalf("expected labels unchanged with no baggage, got %v", labels)
	}
}

func TestWithBaggageTruncatesOversizedValue(t *testing.T) {
	huge := make([]byte, MaxBaggageValueLength+100)
	for i := range huge {
		huge[i] = 'x'
	}

	ctx := WithBaggage(context.Background(), "payload", string(huge))
	got := GetBaggage(ctx)
	if len(got["payload"]) > MaxBaggageValueLength {
		t.Fatalf("expected value truncated to %d bytes, got %d", MaxBaggageValueLength, len(got["payload"]))
	}
}
