package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
	"github.com/itsneelabh/gomind-refine/telemetry"
)

// Substrate is the tiered memory store: spec.md §4.1's MemoryStore
// interface implemented across hot/warm/cold tiers, with importance
// scoring, decay, consolidation, tier migration, and spaced repetition.
type Substrate struct {
	mu sync.Mutex

	hot  *HotTier
	warm *WarmTier
	cold *ColdTier

	embedder Embedder
	clock    core.Clock
	logger   core.Logger
	metrics  core.MetricsRegistry

	cfg core.MemoryConfig
}

// New wires a Substrate from its three tiers and the memory configuration.
// embedder may be nil — relevance then falls back to a neutral 0.5 default
// per spec.md §4.1.
func New(cfg core.MemoryConfig, hot *HotTier, warm *WarmTier, cold *ColdTier, embedder Embedder, clock core.Clock, logger core.Logger) *Substrate {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("memory")
	}
	return &Substrate{
		hot:      hot,
		warm:     warm,
		cold:     cold,
		embedder: embedder,
		clock:    clock,
		logger:   logger,
		metrics:  core.GetGlobalMetricsRegistry(),
		cfg:      cfg,
	}
}

// Create stores a new record, computing its initial importance score from
// recency (1 at creation), frequency (0 at creation), salience
// (caller-provided or 0.5 default), and relevance (cosine similarity to a
// current-context embedding, or 0.5 if unavailable), weighted per
// core.MemoryConfig's ImportanceWeight* fields.
func (s *Substrate) Create(ctx context.Context, content string, typ Type, opts ...CreateOption) (string, error) {
	if !ValidType(typ) {
		return "", core.NewFrameworkError("memory.Create", core.KindInvalidInput, fmt.Errorf("invalid memory type %q", typ))
	}

	p := &createParams{}
	for _, opt := range opts {
		opt(p)
	}

	salience := 0.5
	if p.importance != nil {
		if *p.importance < 0 || *p.importance > 1 {
			return "", core.NewFrameworkError("memory.Create", core.KindInvalidInput, fmt.Errorf("importance %v out of range [0,1]", *p.importance))
		}
		salience = *p.importance
	}

	// No current-context embedding is supplied at Create time, so relevance
	// holds at the spec's neutral default until the record is first
	// retrieved by a vector-scored Search.
	relevance := 0.5

	importance := s.cfg.ImportanceWeightRecency*1.0 +
		s.cfg.ImportanceWeightFreq*0.0 +
		s.cfg.ImportanceWeightSalience*salience +
		s.cfg.ImportanceWeightRelevance*relevance
	importance = clamp01(importance)

	now := s.clock.Now()
	rec := &Record{
		ID:           core.NewID(),
		Type:         typ,
		Content:      content,
		Importance:   importance,
		Tags:         p.tags,
		Embedding:    p.embedding,
		Metadata:     p.metadata,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		Strength:     1.0,
		State:        StateActive,
		Protected:    p.protected,
		Privacy:      p.privacy,
	}

	tier := s.tierFor(typ)
	rec.Tier = tier
	if err := s.writeToTier(ctx, tier, rec); err != nil {
		return "", err
	}

	s.emitCounter("memory.operations", map[string]string{"op": "create", "type": string(typ)})
	return rec.ID, nil
}

// Get retrieves a record, reinforcing it (incrementing accessCount,
// resetting recency, recomputing importance) unless reinforce is false.
func (s *Substrate) Get(ctx context.Context, id string, reinforce bool) (*Record, error) {
	rec, tier, ok := s.lookup(ctx, id)
	if !ok {
		s.emitCounter("memory.cache.misses", map[string]string{"op": "get"})
		return nil, core.ErrRecordNotFound
	}
	s.emitCounter("memory.cache.hits", map[string]string{"op": "get"})

	if reinforce {
		s.mu.Lock()
		rec.AccessCount++
		rec.LastAccessed = s.clock.Now()
		recency := 1.0
		freq := math.Min(1.0, float64(rec.AccessCount)/20.0)
		salience := rec.Importance // salience is sticky once set; re-derive from the prior value
		relevance := 0.5
		rec.Importance = clamp01(
			s.cfg.ImportanceWeightRecency*recency +
				s.cfg.ImportanceWeightFreq*freq +
				s.cfg.ImportanceWeightSalience*salience +
				s.cfg.ImportanceWeightRelevance*relevance,
		)
		s.mu.Unlock()

		if tier == TierCold {
			// Resurrection: a referenced cold memory is copied back into
			// warm per spec.md §4.1's tier-migration rule.
			rec.State = StateActive
			if err := s.warm.Put(ctx, rec); err == nil {
				s.cold.Delete(rec.ID)
				tier = TierWarm
			}
		}
		_ = s.writeToTier(ctx, tier, rec)
	}
	return rec, nil
}

// Search ranks warm-tier records by the warm tier's relevance scoring, then
// appends matching hot-tier records (unranked) so a single call surfaces
// active state alongside completed traces. Cold-tier records are not
// searched.
func (s *Substrate) Search(ctx context.Context, filters Filters) ([]*Record, error) {
	if filters.Limit < 0 {
		return nil, core.NewFrameworkError("memory.Search", core.KindInvalidInput, fmt.Errorf("negative limit"))
	}

	results, err := s.warm.Search(ctx, filters)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(results))
	for _, r := range results {
		seen[r.ID] = true
	}
	for _, rec := range s.hot.All() {
		if seen[rec.ID] {
			continue
		}
		if matchesFilters(rec, filters) {
			results = append(results, rec)
			seen[rec.ID] = true
		}
	}

	if filters.Limit > 0 && len(results) > filters.Limit {
		results = results[:filters.Limit]
	}
	return results, nil
}

func matchesFilters(rec *Record, filters Filters) bool {
	if filters.Type != "" && rec.Type != filters.Type {
		return false
	}
	if rec.Importance < filters.MinImportance {
		return false
	}
	return hasAllTags(rec, filters.Tags)
}

// Update applies a partial patch to a record, wherever it currently lives.
func (s *Substrate) Update(ctx context.Context, id string, patch Patch) (*Record, error) {
	rec, tier, ok := s.lookup(ctx, id)
	if !ok {
		return nil, core.ErrRecordNotFound
	}

	s.mu.Lock()
	if patch.Content != nil {
		rec.Content = *patch.Content
	}
	if patch.Importance != nil {
		if *patch.Importance < 0 || *patch.Importance > 1 {
			s.mu.Unlock()
			return nil, core.NewFrameworkError("memory.Update", core.KindInvalidInput, fmt.Errorf("importance out of range"))
		}
		rec.Importance = *patch.Importance
	}
	if patch.Tags != nil {
		rec.Tags = patch.Tags
	}
	if patch.Metadata != nil {
		rec.Metadata = patch.Metadata
	}
	if patch.Protected != nil {
		rec.Protected = *patch.Protected
	}
	s.mu.Unlock()

	if err := s.writeToTier(ctx, tier, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Substrate) lookup(ctx context.Context, id string) (*Record, Tier, bool) {
	if rec, ok := s.hot.Get(ctx, id); ok {
		return rec, TierHot, true
	}
	if rec, ok := s.warm.Get(ctx, id); ok {
		return rec, TierWarm, true
	}
	if rec, ok := s.cold.Get(id); ok {
		return rec, TierCold, true
	}
	return nil, "", false
}

func (s *Substrate) writeToTier(ctx context.Context, tier Tier, rec *Record) error {
	rec.Tier = tier
	telemetry.Counter("memory.tier.operations", "tier", string(tier), "operation", "write")
	telemetry.RecordBytes("memory.record_size_bytes", int64(len(rec.Content)), "tier", string(tier))

	start := time.Now()
	var err error
	switch tier {
	case TierHot:
		err = s.hot.Put(ctx, rec)
	case TierCold:
		err = s.cold.Put(ctx, rec)
	default:
		err = s.warm.Put(ctx, rec)
	}
	telemetry.RecordLatency("memory.tier.write_latency_ms", float64(time.Since(start).Milliseconds()), "tier", string(tier))
	return err
}

// tierFor assigns a record's initial home tier by type: working state
// starts hot, every other type starts warm.
func (s *Substrate) tierFor(typ Type) Tier {
	switch typ {
	case TypeWorking:
		return TierHot
	default:
		return TierWarm
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Substrate) emitCounter(name string, labels map[string]string) {
	if s.metrics == nil {
		return
	}
	flat := make([]string, 0, len(labels)*2)
	for k, v := range labels {
		flat = append(flat, k, v)
	}
	s.metrics.Counter(name, flat...)
}

var _ Store = (*Substrate)(nil)

// now returns the substrate's injected clock time, used by maintenance.
func (s *Substrate) now() time.Time { return s.clock.Now() }
