package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
)

// HotTier is the <100ms tier: an in-process map mirrored to a real-time
// synchronized remote store (Redis) with TTL, grounded on the teacher's
// core.MemoryStore in-process map pattern plus core.RedisClient for the
// remote half. Redis is optional — the tier degrades to in-process-only
// when it is unavailable, matching spec.md §4.1's failure semantics
// ("hot-tier unavailability is non-fatal").
type HotTier struct {
	mu      sync.RWMutex
	records map[string]*Record
	ttl     time.Duration
	redis   *core.RedisClient
	clock   core.Clock
	logger  core.Logger
}

// NewHotTier creates a hot tier with the given TTL. redis may be nil.
func NewHotTier(ttl time.Duration, redis *core.RedisClient, clock core.Clock, logger core.Logger) *HotTier {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HotTier{
		records: make(map[string]*Record),
		ttl:     ttl,
		redis:   redis,
		clock:   clock,
		logger:  logger,
	}
}

// Put inserts or replaces a record in the hot tier.
func (h *HotTier) Put(ctx context.Context, rec *Record) error {
	h.mu.Lock()
	h.records[rec.ID] = rec
	h.mu.Unlock()

	if h.redis != nil {
		if err := h.mirrorToRedis(ctx, rec); err != nil {
			h.logger.Warn("hot tier redis mirror failed", map[string]interface{}{
				"id":    rec.ID,
				"error": err.Error(),
			})
		}
	}
	return nil
}

// Get retrieves a record by id, falling back to the Redis mirror when the
// in-process map has evicted it (e.g. after a restart).
func (h *HotTier) Get(ctx context.Context, id string) (*Record, bool) {
	h.mu.RLock()
	rec, ok := h.records[id]
	h.mu.RUnlock()
	if ok && !h.expired(rec) {
		return rec, true
	}

	if h.redis == nil {
		return nil, false
	}

	raw, err := h.redis.Get(ctx, id)
	if err != nil {
		return nil, false
	}
	var restored Record
	if err := json.Unmarshal([]byte(raw), &restored); err != nil {
		return nil, false
	}
	h.mu.Lock()
	h.records[id] = &restored
	h.mu.Unlock()
	return &restored, true
}

// Delete removes a record from both the in-process map and the mirror.
func (h *HotTier) Delete(ctx context.Context, id string) {
	h.mu.Lock()
	delete(h.records, id)
	h.mu.Unlock()

	if h.redis != nil {
		_ = h.redis.Del(ctx, id)
	}
}

// All returns every non-expired record currently in the hot tier.
func (h *HotTier) All() []*Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Record, 0, len(h.records))
	for _, rec := range h.records {
		if !h.expired(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Sweep evicts expired records from the in-process map, returning the count
// removed. Called by Substrate.RunMaintenance.
func (h *HotTier) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for id, rec := range h.records {
		if h.expired(rec) {
			delete(h.records, id)
			removed++
		}
	}
	return removed
}

func (h *HotTier) expired(rec *Record) bool {
	if h.ttl <= 0 {
		return false
	}
	return h.clock.Now().Sub(rec.LastAccessed) > h.ttl
}

func (h *HotTier) mirrorToRedis(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return h.redis.Set(ctx, rec.ID, data, h.ttl)
}
