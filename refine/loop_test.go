package refine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/gomind-refine/core"
)

// scriptedExecutor returns a fixed correctness score on the first call,
// then a second score on every subsequent call, implementing scenario 5
// from spec.md §8.
type scriptedExecutor struct {
	calls           int
	firstScore      float64
	subsequentScore float64
}

func (e *scriptedExecutor) Execute(ctx context.Context, spec TaskSpec, iteration int, critiques []Critique) (Attempt, error) {
	e.calls++
	score := e.subsequentScore
	if e.calls == 1 {
		score = e.firstScore
	}
	return Attempt{
		Output: "attempt output",
		Audit: Audit{
			Correctness:           score,
			CorrectnessNote:       "checked against success criteria",
			Efficiency:            0.8,
			EfficiencyNote:        "within budget",
			Safety:                1.0,
			SafetyNote:            "no unsafe actions taken",
			EvidenceAlignment:     0.9,
			EvidenceAlignmentNote: "grounded in provided context",
			ArtifactQuality:       0.9,
			ArtifactQualityNote:   "clean output",
		},
	}, nil
}

// TestRefinementRecoversAfterFailingFirstIteration implements scenario 5:
// the executor returns correctness 0.6 on iteration 1 (below the 0.8
// threshold), then 0.9 on iteration 2. Expected: 2 iterations stored,
// outcome=success.
func TestRefinementRecoversAfterFailingFirstIteration(t *testing.T) {
	executor := &scriptedExecutor{firstScore: 0.6, subsequentScore: 0.9}
	loop := NewLoop(nil, core.NewRealClock(), nil, nil)

	trace, err := loop.Run(context.Background(), TaskSpec{Goal: "implement feature X"}, executor)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, trace.Outcome)
	require.Len(t, trace.Iterations, 2)
	assert.Less(t, trace.Iterations[0].Audit.Correctness, Thresholds.Correctness)
	assert.GreaterOrEqual(t, trace.Iterations[1].Audit.Correctness, Thresholds.Correctness)
	assert.Equal(t, "refining", trace.Iterations[0].State)
	assert.Equal(t, "succeeding", trace.Iterations[1].State)
	assert.NotEmpty(t, trace.Iterations[0].Critiques)
}

func TestRefinementSafetyFailureAbortsImmediately(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, spec TaskSpec, iteration int, critiques []Critique) (Attempt, error) {
		return Attempt{
			Output: "dangerous plan",
			Audit: Audit{
				Correctness:     0.9,
				CorrectnessNote: "ok",
				Efficiency:      0.9,
				EfficiencyNote:  "ok",
				Safety:          0.0,
				SafetyNote:      "attempted an unguarded destructive action",
			},
		}, nil
	})
	loop := NewLoop(nil, core.NewRealClock(), nil, nil)

	trace, err := loop.Run(context.Background(), TaskSpec{Goal: "risky task", MaxIterations: 3}, executor)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, trace.Outcome)
	assert.Len(t, trace.Iterations, 1, "safety failure must abort after the first iteration")
}

func TestRefinementExhaustsWithoutSuccess(t *testing.T) {
	executor := &scriptedExecutor{firstScore: 0.3, subsequentScore: 0.3}
	loop := NewLoop(nil, core.NewRealClock(), nil, nil)

	trace, err := loop.Run(context.Background(), TaskSpec{Goal: "hard task", MaxIterations: 2}, executor)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, trace.Outcome)
	assert.Len(t, trace.Iterations, 2)
}
