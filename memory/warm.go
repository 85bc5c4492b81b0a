package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/itsneelabh/gomind-refine/core"
)

// WarmTier is the 100-500ms tier: an indexed document store (Redis string keys holding JSON)
// plus a naive in-process cosine-similarity index over caller-supplied
// embeddings, grounded on core.RedisClient's key-namespacing pattern. Holds
// completed process traces, semantic records, and consensus records.
//
// Per spec.md §4.1's failure semantics, warm-tier unavailability fails
// Search with ErrConnectionFailed but Create buffers the record to
// bufferDir and replays it on the next maintenance pass.
type WarmTier struct {
	mu        sync.RWMutex
	redis     *core.RedisClient
	index     map[string]*Record // in-process mirror for cosine/text search
	bufferDir string
	logger    core.Logger
}

const warmKeyPrefix = "record:"

// NewWarmTier creates a warm tier backed by redis (required for durability
// beyond process lifetime; may be nil for pure in-process/test use).
func NewWarmTier(redis *core.RedisClient, bufferDir string, logger core.Logger) *WarmTier {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &WarmTier{
		redis:     redis,
		index:     make(map[string]*Record),
		bufferDir: bufferDir,
		logger:    logger,
	}
}

// Put stores a record, buffering to disk if Redis is unreachable.
func (w *WarmTier) Put(ctx context.Context, rec *Record) error {
	w.mu.Lock()
	w.index[rec.ID] = rec
	w.mu.Unlock()

	if w.redis == nil {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := w.redis.Set(ctx, warmKeyPrefix+rec.ID, data, 0); err != nil {
		w.logger.Warn("warm tier write failed, buffering to disk", map[string]interface{}{
			"id":    rec.ID,
			"error": err.Error(),
		})
		return w.bufferToDisk(rec)
	}
	return nil
}

// Get retrieves a record by id.
func (w *WarmTier) Get(ctx context.Context, id string) (*Record, bool) {
	w.mu.RLock()
	rec, ok := w.index[id]
	w.mu.RUnlock()
	if ok {
		return rec, true
	}

	if w.redis == nil {
		return nil, false
	}
	raw, err := w.redis.Get(ctx, warmKeyPrefix+id)
	if err != nil {
		return nil, false
	}
	var restored Record
	if err := json.Unmarshal([]byte(raw), &restored); err != nil {
		return nil, false
	}
	w.mu.Lock()
	w.index[id] = &restored
	w.mu.Unlock()
	return &restored, true
}

// Delete removes a record from the warm tier.
func (w *WarmTier) Delete(ctx context.Context, id string) {
	w.mu.Lock()
	delete(w.index, id)
	w.mu.Unlock()
	if w.redis != nil {
		_ = w.redis.Del(ctx, warmKeyPrefix+id)
	}
}

// All returns every record currently indexed in the warm tier.
func (w *WarmTier) All() []*Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Record, 0, len(w.index))
	for _, rec := range w.index {
		out = append(out, rec)
	}
	return out
}

// Search ranks records by relevance score, combining vector cosine
// similarity, text token overlap, importance, and access frequency; time
// since last access is not a ranking input.
// Weights are fixed and documented here per spec.md §4.1's deferral of
// exact retrieval weights to the implementation.
func (w *WarmTier) Search(ctx context.Context, filters Filters) ([]*Record, error) {
	if w.redis != nil {
		if err := w.redis.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("warm tier search: %w", core.ErrConnectionFailed)
		}
	}

	w.mu.RLock()
	candidates := make([]*Record, 0, len(w.index))
	for _, rec := range w.index {
		candidates = append(candidates, rec)
	}
	w.mu.RUnlock()

	type scored struct {
		rec   *Record
		score float64
	}
	var results []scored
	for _, rec := range candidates {
		if filters.Type != "" && rec.Type != filters.Type {
			continue
		}
		if rec.Importance < filters.MinImportance {
			continue
		}
		if len(filters.Tags) > 0 && !hasAllTags(rec, filters.Tags) {
			continue
		}
		score := relevanceScore(rec, filters)
		if filters.TextQuery != "" && score <= 0 {
			continue
		}
		results = append(results, scored{rec, score})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	limit := filters.Limit
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}
	out := make([]*Record, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, results[i].rec)
	}
	return out, nil
}

// relevanceScore combines vector similarity (0.4), text overlap (0.2),
// importance (0.25), and access frequency (0.15, accessCount/10 capped at
// 1) — documented, deterministic weights per spec.md §4.1's
// retrieval-ranking note. With neither a vector nor a text query, only the
// importance and frequency terms are summed.
func relevanceScore(rec *Record, filters Filters) float64 {
	var vectorScore, textScore float64
	haveSignal := false

	if len(filters.VectorQuery) > 0 && len(rec.Embedding) > 0 {
		vectorScore = cosineSimilarity(filters.VectorQuery, rec.Embedding)
		haveSignal = true
	}
	if filters.TextQuery != "" {
		textScore = jaccardTokens(filters.TextQuery, rec.Content)
		haveSignal = true
	}

	score := 0.4*vectorScore + 0.2*textScore + 0.25*rec.Importance + 0.15*math.Min(1, float64(rec.AccessCount)/10.0)
	if !haveSignal {
		score = 0.25*rec.Importance + 0.15*math.Min(1, float64(rec.AccessCount)/10.0)
	}
	return score
}

func hasAllTags(rec *Record, tags []string) bool {
	for _, t := range tags {
		if !rec.HasTag(t) {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func jaccardTokens(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for tok := range ta {
		if tb[tok] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func (w *WarmTier) bufferToDisk(rec *Record) error {
	if w.bufferDir == "" {
		return fmt.Errorf("warm tier unavailable and no buffer dir configured: %w", core.ErrConnectionFailed)
	}
	if err := os.MkdirAll(w.bufferDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := filepath.Join(w.bufferDir, rec.ID+".json.tmp")
	final := filepath.Join(w.bufferDir, rec.ID+".json")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// ReplayBuffer flushes any disk-buffered records into Redis, returning the
// number successfully replayed. Called from RunMaintenance.
func (w *WarmTier) ReplayBuffer(ctx context.Context) (int, error) {
	if w.bufferDir == "" || w.redis == nil {
		return 0, nil
	}
	entries, err := os.ReadDir(w.bufferDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	replayed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(w.bufferDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if err := w.redis.Set(ctx, warmKeyPrefix+rec.ID, data, 0); err != nil {
			continue
		}
		_ = os.Remove(path)
		replayed++
	}
	return replayed, nil
}
