// Package ratelimit implements the token-bucket limiter spec.md §4.2
// describes: one bucket per backend identifier, priority-queued waiters,
// monotonic wall-clock refill, and a persistent cost ledger option.
package ratelimit

import "time"

// Permit is the opaque handle returned by Acquire and consumed by Release.
type Permit struct {
	backendID string
	cost      int
	issuedAt  time.Time
}

// Stats reports one backend bucket's current state.
type Stats struct {
	Queued           int
	WaitingByPriority map[int]int
	SpendCum         int64
	Utilization      float64 // fraction of capacity currently checked out
}

// waiter is one pending Acquire call, ordered by (priority desc, enqueueTime
// asc) per spec.md §4.2.
type waiter struct {
	cost       int
	priority   int
	enqueueAt  time.Time
	seq        uint64 // monotonic tie-break within identical enqueueAt
	ready      chan error
	cancelled  bool
	heapIndex  int
}

// waiterHeap is a container/heap.Interface ordering waiters by priority
// (descending) then enqueue time / sequence (ascending).
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	if !h[i].enqueueAt.Equal(h[j].enqueueAt) {
		return h[i].enqueueAt.Before(h[j].enqueueAt)
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *waiterHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.heapIndex = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.heapIndex = -1
	*h = old[:n-1]
	return w
}
