package memory

import (
	"context"
)

// Embedder computes a vector embedding for a piece of text. Left abstract
// per spec.md §1: no concrete provider is wired, callers may supply their
// own or omit it entirely, in which case relevance falls back to a neutral
// default and diversity/search fall back to Jaccard similarity.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Store is the abstract memory store interface spec.md §4.1 describes:
// Create, Get, Search, Update, RunMaintenance. Implemented by Substrate,
// which fans operations out across the hot/warm/cold tiers.
type Store interface {
	Create(ctx context.Context, content string, typ Type, opts ...CreateOption) (string, error)
	Get(ctx context.Context, id string, reinforce bool) (*Record, error)
	Search(ctx context.Context, filters Filters) ([]*Record, error)
	Update(ctx context.Context, id string, patch Patch) (*Record, error)
	RunMaintenance(ctx context.Context) (MaintenanceStats, error)
}

// CreateOption configures an optional field on Create.
type CreateOption func(*createParams)

type createParams struct {
	importance *float64
	tags       []string
	embedding  []float64
	protected  bool
	privacy    string
	metadata   map[string]interface{}
}

// WithImportance overrides the caller-provided salience component; if
// omitted, salience defaults to 0.5.
func WithImportance(importance float64) CreateOption {
	return func(p *createParams) { p.importance = &importance }
}

// WithTags attaches tags, including the "protected" never-forget tag.
func WithTags(tags ...string) CreateOption {
	return func(p *createParams) { p.tags = tags }
}

// WithEmbedding attaches a caller-computed embedding.
func WithEmbedding(embedding []float64) CreateOption {
	return func(p *createParams) { p.embedding = embedding }
}

// WithProtected marks the record as exempt from forgetting.
func WithProtected() CreateOption {
	return func(p *createParams) { p.protected = true }
}

// WithPrivacy tags the record with a privacy class (pii, financial). The
// class is stored on the record; maintenance applies no retention cap of
// its own to privacy-tagged records.
func WithPrivacy(class string) CreateOption {
	return func(p *createParams) { p.privacy = class }
}

// WithMetadata attaches arbitrary structured metadata.
func WithMetadata(metadata map[string]interface{}) CreateOption {
	return func(p *createParams) { p.metadata = metadata }
}
