package ratelimit

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
)

// bucket is one backend identifier's token bucket plus its waiter queue.
type bucket struct {
	mu sync.Mutex

	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	waiters waiterHeap
	seq     uint64

	spendCum atomic.Int64
}

func newBucket(capacity float64, refillRate float64, clock core.Clock) *bucket {
	return &bucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: clock.Now(),
	}
}

func (b *bucket) refillLocked(now time.Time) {
	if b.refillRate <= 0 {
		b.lastRefill = now
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

// dispatchLocked serves waiters from the head of the priority heap while
// the bucket has enough tokens, in strict (priority desc, enqueueTime asc)
// order. There is no aging: a waiter is passed over by every
// higher-priority waiter that arrives while it is queued.
func (b *bucket) dispatchLocked() {
	for b.waiters.Len() > 0 {
		top := b.waiters[0]
		if top.cancelled {
			heap.Pop(&b.waiters)
			continue
		}
		if float64(top.cost) > b.tokens {
			return
		}
		heap.Pop(&b.waiters)
		b.tokens -= float64(top.cost)
		b.spendCum.Add(int64(top.cost))
		top.ready <- nil
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Limiter gates backend calls through one token bucket per backend
// identifier, with priority-queued waiters and an optional persistent cost
// ledger backed by Redis.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	defaultCapacity float64
	defaultRefill   float64
	clock           core.Clock
	logger          core.Logger
	metrics         core.MetricsRegistry
	ledger          *core.RedisClient
}

// New creates a Limiter. defaultCapacity/defaultRefill apply to any backend
// identifier seen for the first time; ledger may be nil to disable the
// persistent cost ledger.
func New(defaultCapacity float64, defaultRefill float64, clock core.Clock, logger core.Logger, ledger *core.RedisClient) *Limiter {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("ratelimit")
	}
	return &Limiter{
		buckets:         make(map[string]*bucket),
		defaultCapacity: defaultCapacity,
		defaultRefill:   defaultRefill,
		clock:           clock,
		logger:          logger,
		metrics:         core.GetGlobalMetricsRegistry(),
		ledger:          ledger,
	}
}

func (l *Limiter) bucketFor(backendID string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[backendID]
	if !ok {
		b = newBucket(l.defaultCapacity, l.defaultRefill, l.clock)
		l.buckets[backendID] = b
	}
	return b
}

// Acquire blocks until cost tokens are available on backendID's bucket, at
// the given priority (higher values served first), or ctx is cancelled.
// Cancellation removes the waiter from the queue within one dispatch pass,
// per spec.md §4.2.
func (l *Limiter) Acquire(ctx context.Context, backendID string, cost int, priority int) (Permit, error) {
	if cost <= 0 {
		return Permit{}, core.NewFrameworkError("ratelimit.Acquire", core.KindInvalidInput, fmt.Errorf("cost must be positive"))
	}

	b := l.bucketFor(backendID)

	b.mu.Lock()
	b.seq++
	w := &waiter{
		cost:      cost,
		priority:  priority,
		enqueueAt: l.clock.Now(),
		seq:       b.seq,
		ready:     make(chan error, 1),
	}
	b.refillLocked(l.clock.Now())
	heap.Push(&b.waiters, w)
	b.dispatchLocked()
	b.mu.Unlock()

	select {
	case err := <-w.ready:
		if err != nil {
			return Permit{}, err
		}
		if l.ledger != nil {
			_, _ = l.ledger.IncrBy(ctx, "spend:"+backendID, int64(cost))
		}
		l.emitGauge("ratelimit.spend_cum", float64(b.spendCum.Load()), backendID)
		return Permit{backendID: backendID, cost: cost, issuedAt: l.clock.Now()}, nil
	case <-ctx.Done():
		b.mu.Lock()
		w.cancelled = true
		if w.heapIndex >= 0 {
			heap.Fix(&b.waiters, w.heapIndex)
		}
		b.mu.Unlock()
		return Permit{}, ctx.Err()
	}
}

// Release returns a permit's cost to its bucket (capped at capacity) and
// wakes any waiters it can now satisfy. Never fails, per spec.md §4.2.
func (l *Limiter) Release(permit Permit) {
	if permit.backendID == "" {
		return
	}
	b := l.bucketFor(permit.backendID)
	b.mu.Lock()
	b.tokens = min(b.capacity, b.tokens+float64(permit.cost))
	b.dispatchLocked()
	b.mu.Unlock()
}

// Stats reports the current queue depth, per-priority waiter counts,
// cumulative spend, and utilization for backendID.
func (l *Limiter) Stats(backendID string) Stats {
	b := l.bucketFor(backendID)
	b.mu.Lock()
	defer b.mu.Unlock()

	byPriority := make(map[int]int)
	for _, w := range b.waiters {
		if !w.cancelled {
			byPriority[w.priority]++
		}
	}
	utilization := 0.0
	if b.capacity > 0 {
		utilization = 1 - (b.tokens / b.capacity)
	}
	queued := 0
	for _, v := range byPriority {
		queued += v
	}
	return Stats{
		Queued:            queued,
		WaitingByPriority: byPriority,
		SpendCum:          b.spendCum.Load(),
		Utilization:       utilization,
	}
}

func (l *Limiter) emitGauge(name string, value float64, backendID string) {
	if l.metrics == nil {
		return
	}
	l.metrics.Gauge(name, value, "backend", backendID)
}
