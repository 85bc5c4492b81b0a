package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/gomind-refine/core"
)

// fakeClock is a manually-advanced core.Clock for deterministic tests,
// matching the teacher's pattern of injecting time rather than sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *fakeClock) Sleep(d time.Duration) {}

func newTestSubstrate(t *testing.T, clock core.Clock) (*Substrate, string) {
	t.Helper()
	dir := t.TempDir()
	cold, err := NewColdTier(dir, nil)
	require.NoError(t, err)

	hot := NewHotTier(10*time.Minute, nil, clock, nil)
	warm := NewWarmTier(nil, dir+"/buffer", nil)

	cfg := core.DefaultConfig().Memory
	cfg.WarmTTL = 1 * time.Hour
	cfg.DestroyGrace = 1 * time.Hour

	return New(cfg, hot, warm, cold, nil, clock, nil), dir
}

// TestMemoryDecayPreservesProtectedRecord implements scenario 6 from
// spec.md §8: a protected record survives many maintenance cycles with no
// access, while an unprotected record of equal importance is eventually
// archived and deleted.
func TestMemoryDecayPreservesProtectedRecord(t *testing.T) {
	clock := newFakeClock(time.Now())
	sub, _ := newTestSubstrate(t, clock)
	ctx := context.Background()

	idA, err := sub.Create(ctx, "protected fact", TypeSemantic, WithImportance(0.6), WithTags("protected"))
	require.NoError(t, err)

	idB, err := sub.Create(ctx, "ordinary fact", TypeSemantic, WithImportance(0.6))
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		clock.Advance(6 * time.Hour)
		_, err := sub.RunMaintenance(ctx)
		require.NoError(t, err)
	}

	recA, err := sub.Get(ctx, idA, false)
	require.NoError(t, err)
	assert.Equal(t, StateActive, recA.State, "protected record must remain active")

	_, err = sub.Get(ctx, idB, false)
	assert.ErrorIs(t, err, core.ErrRecordNotFound, "unprotected record must eventually be destroyed")
}

func TestMemoryCreateRejectsInvalidType(t *testing.T) {
	clock := newFakeClock(time.Now())
	sub, _ := newTestSubstrate(t, clock)

	_, err := sub.Create(context.Background(), "x", Type("bogus"))
	require.Error(t, err)
	assert.True(t, core.IsInvalidInput(err))
}

func TestMemoryCreateRejectsImportanceOutOfRange(t *testing.T) {
	clock := newFakeClock(time.Now())
	sub, _ := newTestSubstrate(t, clock)

	_, err := sub.Create(context.Background(), "x", TypeSemantic, WithImportance(1.5))
	require.Error(t, err)
	assert.True(t, core.IsInvalidInput(err))
}

func TestMemoryCreateThenGetRoundTrip(t *testing.T) {
	clock := newFakeClock(time.Now())
	sub, _ := newTestSubstrate(t, clock)
	ctx := context.Background()

	id, err := sub.Create(ctx, "hello world", TypeEpisodic)
	require.NoError(t, err)

	rec, err := sub.Get(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, "hello world", rec.Content)
	assert.Equal(t, 1, rec.AccessCount)
}

func TestMemoryNeverForgetByAccessCount(t *testing.T) {
	clock := newFakeClock(time.Now())
	sub, _ := newTestSubstrate(t, clock)
	ctx := context.Background()

	id, err := sub.Create(ctx, "frequently used", TypeSemantic, WithImportance(0.3))
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		_, err := sub.Get(ctx, id, true)
		require.NoError(t, err)
	}

	for i := 0; i < 40; i++ {
		clock.Advance(6 * time.Hour)
		_, err := sub.RunMaintenance(ctx)
		require.NoError(t, err)
	}

	rec, err := sub.Get(ctx, id, false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rec.AccessCount, 50)
}
