package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/itsneelabh/gomind-refine/core"
)

// ColdTier is the 1-5s tier: a version-controlled directory of
// markdown/JSON files on local disk, holding extracted patterns, the
// long-term archive, and human-readable procedures. Writes use the
// coordinator's write-then-rename pattern for crash safety and are
// best-effort with exponential backoff, per spec.md §4.1.
type ColdTier struct {
	root   string
	logger core.Logger
}

// NewColdTier creates a cold tier rooted at dir, creating it if absent.
func NewColdTier(dir string, logger core.Logger) (*ColdTier, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cold tier init: %w", err)
	}
	return &ColdTier{root: dir, logger: logger}, nil
}

// Put writes a record as JSON, retrying with exponential backoff on
// transient filesystem errors before giving up.
func (c *ColdTier) Put(ctx context.Context, rec *Record) error {
	op := func() (struct{}, error) {
		return struct{}{}, c.writeOnce(rec)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		c.logger.Error("cold tier write failed after retries", map[string]interface{}{
			"id":    rec.ID,
			"error": err.Error(),
		})
	}
	return err
}

func (c *ColdTier) writeOnce(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(c.root, rec.ID+".json.tmp")
	final := filepath.Join(c.root, rec.ID+".json")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// PutProcedure writes a human-readable markdown companion for a procedural
// pattern alongside its JSON record, so the cold tier stays directly
// readable per spec.md §4.1.
func (c *ColdTier) PutProcedure(ctx context.Context, rec *Record) error {
	if err := c.Put(ctx, rec); err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", rec.ID))
	sb.WriteString(fmt.Sprintf("- type: %s\n- importance: %.2f\n- createdAt: %s\n\n", rec.Type, rec.Importance, rec.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(rec.Content)
	sb.WriteString("\n")

	tmp := filepath.Join(c.root, rec.ID+".md.tmp")
	final := filepath.Join(c.root, rec.ID+".md")
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// Get reads a record by id.
func (c *ColdTier) Get(id string) (*Record, bool) {
	data, err := os.ReadFile(filepath.Join(c.root, id+".json"))
	if err != nil {
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

// Delete removes a record's JSON (and markdown companion, if any).
func (c *ColdTier) Delete(id string) {
	_ = os.Remove(filepath.Join(c.root, id+".json"))
	_ = os.Remove(filepath.Join(c.root, id+".md"))
}

// All lists every record archived in the cold tier.
func (c *ColdTier) All() []*Record {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil
	}
	var out []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		if rec, ok := c.Get(id); ok {
			out = append(out, rec)
		}
	}
	return out
}
