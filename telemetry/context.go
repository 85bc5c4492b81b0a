package telemetry

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/baggage"
)

// Baggage holds request-scoped labels that flow through context into
// every metric emitted via EmitWithContext and every span derived from
// that context.
type Baggage map[string]string

// Limits mirror the W3C baggage spec's practical recommendations: enough
// room for a handful of correlation ids without letting a runaway caller
// balloon context size.
const (
	MaxBaggageItems       = 64
	MaxBaggageKeyLength   = 128
	MaxBaggageValueLength = 512
	MaxBaggageTotalSize   = 8192
)

var baggageStats struct {
	itemsAdded, itemsDropped, overLimit, totalSize atomicCounter
}

// WithBaggage adds key/value pairs that travel with ctx. Later calls are
// additive; a repeated key overwrites its earlier value. Values beyond
// MaxBaggageItems, or that would push the encoded baggage past
// MaxBaggageTotalSize, are dropped silently.
func WithBaggage(ctx context.Context, labels ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	bag := baggage.FromContext(ctx)
	members := bag.Members()
	if len(members) >= MaxBaggageItems {
		baggageStats.overLimit.add(1)
		return ctx
	}

	size := 0
	for _, m := range members {
		size += len(m.Key()) + len(m.Value())
	}

	newBag := bag
	for i := 0; i+1 < len(labels); i += 2 {
		key, value := labels[i], labels[i+1]
		if key == "" {
			continue
		}
		if len(key) > MaxBaggageKeyLength {
			key = key[:MaxBaggageKeyLength]
		}
		if len(value) > MaxBaggageValueLength {
			value = value[:MaxBaggageValueLength]
		}
		if size+len(key)+len(value) > MaxBaggageTotalSize {
			baggageStats.itemsDropped.add(1)
			continue
		}
		member, err := baggage.NewMember(key, value)
		if err != nil {
			continue
		}
		if newBag, err = newBag.SetMember(member); err != nil {
			continue
		}
		size += len(key) + len(value)
		baggageStats.itemsAdded.add(1)
	}
	baggageStats.totalSize.store(int64(size))

	return baggage.ContextWithBaggage(ctx, newBag)
}

// GetBaggage returns ctx's baggage as a plain map, or nil if none is set.
func GetBaggage(ctx context.Context) Baggage {
	if ctx == nil {
		return nil
	}
	members := baggage.FromContext(ctx).Members()
	if len(members) == 0 {
		return nil
	}
	out := make(Baggage, len(members))
	for _, m := range members {
		out[m.Key()] = m.Value()
	}
	return out
}

// appendBaggageToLabels merges ctx's baggage into an explicit label list,
// with baggage taking precedence on key collisions, and returns the
// result with deterministic (sorted) key ordering.
func appendBaggageToLabels(ctx context.Context, labels []string) []string {
	if ctx == nil {
		return labels
	}
	members := baggage.FromContext(ctx).Members()
	if len(members) == 0 {
		return labels
	}

	merged := make(map[string]string, len(labels)/2+len(members))
	for i := 0; i+1 < len(labels); i += 2 {
		merged[labels[i]] = labels[i+1]
	}
	for _, m := range members {
		merged[m.Key()] = m.Value()
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		result = append(result, k, merged[k])
	}
	return result
}

// BaggageStats reports cumulative baggage usage, for /debug endpoints.
type BaggageStats struct {
	ItemsAdded   int64 `json:"items_added"`
	ItemsDropped int64 `json:"items_dropped"`
	OverLimit    int64 `json:"over_limit"`
	CurrentSize  int64 `json:"current_size"`
}

// GetBaggageStats returns the process-wide baggage usage counters.
func GetBaggageStats() BaggageStats {
	return BaggageStats{
		ItemsAdded:   baggageStats.itemsAdded.load(),
		ItemsDropped: baggageStats.itemsDropped.load(),
		OverLimit:    baggageStats.overLimit.load(),
		CurrentSize:  baggageStats.totalSize.load(),
	}
}
