package experts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/gomind-refine/core"
	"github.com/itsneelabh/gomind-refine/ratelimit"
)

// TestMultiExpertMajorityWithTie implements scenario 4 from spec.md §8:
// four experts cluster as {A,A,B,B} with scores 80,75,85,80. Majority vote
// counts tie at 2-2; the tie-break picks the class containing the single
// highest score (B, 85); agreement is 0.5; the losing class is preserved
// as a conflict.
func TestMultiExpertMajorityWithTie(t *testing.T) {
	scores := map[string]float64{"e1": 80, "e2": 75, "e3": 85, "e4": 80}
	outputs := map[string]string{
		"e1": "plan alpha",
		"e2": "plan alpha",
		"e3": "plan beta",
		"e4": "plan beta",
	}

	executor := ExecutorFunc(func(ctx context.Context, task Task, cfg Config) (Result, error) {
		return Result{
			ExpertID:   cfg.ID,
			Output:     outputs[cfg.ID],
			Score:      scores[cfg.ID],
			Confidence: 0.9,
		}, nil
	})

	configs := []Config{
		mustConfig(t, "e1", ArchetypeBalanced),
		mustConfig(t, "e2", ArchetypeBalanced),
		mustConfig(t, "e3", ArchetypeBalanced),
		mustConfig(t, "e4", ArchetypeBalanced),
	}

	limiter := ratelimit.New(10, 0, nil, nil, nil)
	engine := NewEngine(limiter, nil, core.NewRealClock(), nil)

	outcome, err := engine.Run(context.Background(), executor, Task{ID: "t1", Type: "implement"}, configs, VoteMajority, nil)
	require.NoError(t, err)

	assert.Equal(t, "plan beta", outcome.WinningOutput)
	assert.InDelta(t, 0.5, outcome.Consensus.AgreementLevel, 0.001)
	require.Len(t, outcome.Consensus.PreservedConflicts, 1)
	assert.Equal(t, "plan alpha", outcome.Consensus.PreservedConflicts[0].Output)
	assert.False(t, outcome.Degraded)
}

func TestMultiExpertDegradesOnInsufficientQuorum(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, task Task, cfg Config) (Result, error) {
		if cfg.ID == "e1" {
			return Result{ExpertID: cfg.ID, Output: "only usable", Score: 70, Confidence: 0.8}, nil
		}
		return Result{ExpertID: cfg.ID, Score: 0, Confidence: 0}, nil
	})

	configs := []Config{mustConfig(t, "e1", ArchetypeBalanced), mustConfig(t, "e2", ArchetypeSafety)}
	limiter := ratelimit.New(10, 0, nil, nil, nil)
	engine := NewEngine(limiter, nil, core.NewRealClock(), nil)

	outcome, err := engine.Run(context.Background(), executor, Task{ID: "t2"}, configs, VoteMajority, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Degraded)
	assert.Equal(t, "only usable", outcome.WinningOutput)
}

func TestMultiExpertZeroScoreNeverWinsAgainstUsableExpert(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, task Task, cfg Config) (Result, error) {
		switch cfg.ID {
		case "e1":
			return Result{ExpertID: cfg.ID, Output: "good plan", Score: 60, Confidence: 0.7}, nil
		case "e2":
			return Result{ExpertID: cfg.ID, Output: "also good", Score: 55, Confidence: 0.6}, nil
		default:
			return Result{}, assertError{}
		}
	})

	configs := []Config{
		mustConfig(t, "e1", ArchetypeBalanced),
		mustConfig(t, "e2", ArchetypeSafety),
		mustConfig(t, "e3", ArchetypeRobustness),
	}
	limiter := ratelimit.New(10, 0, nil, nil, nil)
	engine := NewEngine(limiter, nil, core.NewRealClock(), nil)

	outcome, err := engine.Run(context.Background(), executor, Task{ID: "t3"}, configs, VoteMajority, nil)
	require.NoError(t, err)
	assert.NotEqual(t, "", outcome.Consensus.Decision, "the failed expert's empty output must not win")
	assert.False(t, outcome.Degraded)
}

type assertError struct{}

func (assertError) Error() string { return "executor failed" }

func mustConfig(t *testing.T, id string, archetype Archetype) Config {
	t.Helper()
	cfg, ok := NewConfig(id, archetype)
	require.True(t, ok)
	return cfg
}
