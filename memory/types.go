// Package memory implements the tiered memory substrate: a hot/warm/cold
// store of typed, importance-scored records with decay, consolidation, and
// tier migration.
package memory

import (
	"time"
)

// Type is the closed taxonomy of memory records.
type Type string

const (
	TypeEpisodic         Type = "episodic"
	TypeSemantic         Type = "semantic"
	TypeProcedural       Type = "procedural"
	TypeWorking          Type = "working"
	TypeRefinementTrace  Type = "refinement_trace"
	TypeExpertConsensus  Type = "expert_consensus"
)

// ValidType reports whether t belongs to the closed type taxonomy.
func ValidType(t Type) bool {
	switch t {
	case TypeEpisodic, TypeSemantic, TypeProcedural, TypeWorking, TypeRefinementTrace, TypeExpertConsensus:
		return true
	default:
		return false
	}
}

// State is the per-record lifecycle state driven by maintenance.
type State string

const (
	StateActive   State = "active"
	StateDecaying State = "decaying"
	StateArchived State = "archived"
	StateDeleted  State = "deleted"
)

// Tier identifies which store currently holds a record.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Record is a single memory item, held by exactly one tier at a time.
type Record struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	Content       string                 `json:"content"`
	Importance    float64                `json:"importance"`
	Tags          []string               `json:"tags,omitempty"`
	Embedding     []float64              `json:"embedding,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	LastAccessed  time.Time              `json:"lastAccessed"`
	AccessCount   int                    `json:"accessCount"`
	Strength      float64                `json:"strength"`
	State         State                  `json:"state"`
	Tier          Tier                   `json:"tier"`
	Protected     bool                   `json:"protected"`
	Privacy       string                 `json:"privacy,omitempty"` // "", "pii", "financial"
	reviewIdx     int                    // spaced-repetition step, see ScheduleReview
}

// HasTag reports whether the record carries the given tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NeverForget reports whether r is exempt from forgetting given the
// configured importance/access-count thresholds: protected tag,
// importance ≥ threshold, or accessCount ≥ threshold.
func (r *Record) NeverForget(importanceThreshold float64, accessCountThreshold int) bool {
	return r.Protected || r.HasTag("protected") || r.Importance >= importanceThreshold || r.AccessCount >= accessCountThreshold
}

// Filters narrows a Search call.
type Filters struct {
	Type          Type
	MinImportance float64
	Tags          []string
	TextQuery     string
	VectorQuery   []float64
	Limit         int
}

// MaintenanceStats reports the outcome of one RunMaintenance pass.
type MaintenanceStats struct {
	Decayed      int
	Archived     int
	Deleted      int
	Consolidated int
	Promoted     int // cold -> warm, on reference
	Demoted      int // warm -> cold, on age/inactivity
}

// Patch is a partial update applied by Update.
type Patch struct {
	Content    *string
	Importance *float64
	Tags       []string
	Metadata   map[string]interface{}
	Protected  *bool
}
