package memory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
	"github.com/itsneelabh/gomind-refine/telemetry"
)

// RunMaintenance applies decay, archival/destruction, tier migration, and
// consolidation across the warm tier (the durable tier decay operates on;
// hot entries expire via TTL and cold entries are already at rest).
//
// Per spec.md §4.1: strength ← strength · exp(−λΔt) · (1−importance)²,
// with state transitions at strength < 0.30 (archive candidate), < 0.15
// (compress to summary), and < 0.05 (destroy after grace, unless
// never-forget). Partial failures are logged and retried on the next pass,
// never surfaced as an error from RunMaintenance itself.
func (s *Substrate) RunMaintenance(ctx context.Context) (MaintenanceStats, error) {
	var stats MaintenanceStats
	now := s.now()

	_, _ = s.warm.ReplayBuffer(ctx)
	s.hot.Sweep()

	for _, rec := range s.warm.All() {
		s.mu.Lock()
		dt := now.Sub(rec.LastAccessed).Hours()
		rec.Strength = rec.Strength * math.Exp(-s.cfg.DecayLambda*dt) * math.Pow(1-rec.Importance, 2)
		neverForget := rec.NeverForget(s.cfg.NeverForgetImportance, s.cfg.NeverForgetAccessCount)
		s.mu.Unlock()

		if neverForget {
			continue
		}

		switch {
		case rec.Strength < s.cfg.DestroyThreshold:
			if rec.State != StateArchived {
				rec.State = StateArchived
				_ = s.warm.Put(ctx, rec)
			}
			graceDeadline := graceStart(rec).Add(s.cfg.DestroyGrace)
			if now.After(graceDeadline) {
				if rec.Privacy != "" {
					// Privacy-tagged records get no separate retention cap;
					// they are destroyed here like any other record.
				}
				s.warm.Delete(ctx, rec.ID)
				stats.Deleted++
				continue
			}
			stats.Decayed++

		case rec.Strength < s.cfg.CompressThreshold:
			if rec.State != StateDecaying {
				rec.Content = summarize(rec.Content)
				rec.State = StateDecaying
				_ = s.warm.Put(ctx, rec)
			}
			stats.Decayed++

		case rec.Strength < s.cfg.ArchiveThreshold:
			if rec.State == StateActive {
				rec.State = StateDecaying
				_ = s.warm.Put(ctx, rec)
			}
			if now.Sub(rec.LastAccessed) > s.cfg.WarmTTL {
				if err := s.cold.Put(ctx, rec); err == nil {
					rec.State = StateArchived
					rec.Tier = TierCold
					s.warm.Delete(ctx, rec.ID)
					stats.Archived++
					stats.Demoted++
				}
			}

		default:
			// strength >= archiveThreshold: stays active, no transition.
		}
	}

	consolidated, err := s.consolidate(ctx)
	if err != nil {
		telemetry.Counter("memory.maintenance.runs", "outcome", "error")
		return stats, fmt.Errorf("memory maintenance consolidation: %w", err)
	}
	stats.Consolidated = consolidated

	telemetry.Counter("memory.maintenance.runs", "outcome", "ok")
	telemetry.BatchEmit([]struct {
		Name   string
		Value  float64
		Labels []string
	}{
		{Name: "memory.maintenance.decayed", Value: float64(stats.Decayed)},
		{Name: "memory.maintenance.archived", Value: float64(stats.Archived)},
		{Name: "memory.maintenance.deleted", Value: float64(stats.Deleted)},
		{Name: "memory.maintenance.consolidated", Value: float64(stats.Consolidated)},
	})
	telemetry.EmitWithOptions(ctx, "memory.maintenance.demoted", float64(stats.Demoted),
		telemetry.WithUnit(telemetry.UnitCount),
		telemetry.WithLabel("pass", "tier_migration"),
	)
	return stats, nil
}

// graceStart anchors the destroy-grace window to the moment a record first
// crossed into archived state; approximated here by LastAccessed since the
// substrate does not separately track a state-transition timestamp.
func graceStart(rec *Record) time.Time {
	return rec.LastAccessed
}

func summarize(content string) string {
	const maxLen = 280
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "…"
}

// consolidate clusters warm records whose pairwise cosine similarity
// exceeds ConsolidationThreshold within a temporal window, and links small
// clusters, summarizes low-importance large clusters, or preserves hybrid
// form for high-importance ones — per spec.md §4.1.
func (s *Substrate) consolidate(ctx context.Context) (int, error) {
	const window = 24 * time.Hour
	const smallClusterMax = 3
	const highImportance = 0.7

	records := s.warm.All()
	var withEmbeddings []*Record
	for _, r := range records {
		if len(r.Embedding) > 0 && r.State == StateActive {
			withEmbeddings = append(withEmbeddings, r)
		}
	}

	visited := make(map[string]bool)
	consolidated := 0
	now := s.now()

	for i, a := range withEmbeddings {
		if visited[a.ID] {
			continue
		}
		cluster := []*Record{a}
		for j := i + 1; j < len(withEmbeddings); j++ {
			b := withEmbeddings[j]
			if visited[b.ID] {
				continue
			}
			if now.Sub(b.CreatedAt) > window && now.Sub(a.CreatedAt) > window {
				continue
			}
			if cosineSimilarity(a.Embedding, b.Embedding) >= s.cfg.ConsolidationThreshold {
				cluster = append(cluster, b)
			}
		}
		if len(cluster) < 2 {
			continue
		}
		for _, r := range cluster {
			visited[r.ID] = true
		}

		maxImportance := 0.0
		for _, r := range cluster {
			if r.Importance > maxImportance {
				maxImportance = r.Importance
			}
		}

		switch {
		case len(cluster) <= smallClusterMax:
			// link: tag members with each other's ids, no content change.
			for _, r := range cluster {
				r.Metadata = mergeLinks(r.Metadata, cluster)
				_ = s.warm.Put(ctx, r)
			}
		case maxImportance < highImportance:
			// summarize: collapse the whole cluster into one record.
			s.summarizeCluster(ctx, cluster)
		default:
			// hybrid: keep high-importance nodes, add a summary alongside.
			s.hybridCluster(ctx, cluster, highImportance)
		}
		consolidated++
	}
	return consolidated, nil
}

func mergeLinks(metadata map[string]interface{}, cluster []*Record) map[string]interface{} {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	ids := make([]string, 0, len(cluster))
	for _, r := range cluster {
		ids = append(ids, r.ID)
	}
	metadata["linkedRecords"] = ids
	return metadata
}

func (s *Substrate) summarizeCluster(ctx context.Context, cluster []*Record) {
	var combined string
	for _, r := range cluster {
		combined += r.Content + " "
	}
	summary := &Record{
		ID:           core.NewID(),
		Type:         cluster[0].Type,
		Content:      summarize(combined),
		Importance:   maxImportanceOf(cluster),
		CreatedAt:    s.now(),
		LastAccessed: s.now(),
		Strength:     1.0,
		State:        StateActive,
		Tier:         TierWarm,
	}
	_ = s.warm.Put(ctx, summary)
	for _, r := range cluster {
		s.warm.Delete(ctx, r.ID)
	}
}

func (s *Substrate) hybridCluster(ctx context.Context, cluster []*Record, highImportance float64) {
	var lowImportance []*Record
	for _, r := range cluster {
		if r.Importance < highImportance {
			lowImportance = append(lowImportance, r)
		}
	}
	if len(lowImportance) < 2 {
		return
	}
	s.summarizeCluster(ctx, lowImportance)
}

func maxImportanceOf(cluster []*Record) float64 {
	max := 0.0
	for _, r := range cluster {
		if r.Importance > max {
			max = r.Importance
		}
	}
	return max
}

// ScheduleReview computes the next spaced-repetition interval for a
// procedural record marked for review: 1 day, then 6 days, then
// interval·easiness where easiness = 1.3 + importance·1.7, clamped to
// [1.3, 3.0]. Per spec.md §4.1, optional — callers invoke this explicitly
// for procedural records under active review; RunMaintenance does not call
// it automatically.
func ScheduleReview(rec *Record, priorInterval time.Duration) time.Duration {
	switch rec.reviewIdx {
	case 0:
		rec.reviewIdx = 1
		return 24 * time.Hour
	case 1:
		rec.reviewIdx = 2
		return 6 * 24 * time.Hour
	default:
		easiness := 1.3 + rec.Importance*1.7
		if easiness < 1.3 {
			easiness = 1.3
		}
		if easiness > 3.0 {
			easiness = 3.0
		}
		rec.reviewIdx++
		return time.Duration(float64(priorInterval) * easiness)
	}
}
