package main

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/itsneelabh/gomind-refine/coordinator"
	"github.com/itsneelabh/gomind-refine/experts"
	"github.com/itsneelabh/gomind-refine/refine"
	"github.com/itsneelabh/gomind-refine/telemetry"
)

// coordinatorExpertExecutor implements experts.Executor by treating the
// file-based coordinator as the external interface named in spec.md: each
// expert call spawns a worker process and waits for its Result, since no
// concrete LLM backend is wired into this repo.
type coordinatorExpertExecutor struct {
	coord    *coordinator.Coordinator
	poll     time.Duration
}

func newCoordinatorExpertExecutor(coord *coordinator.Coordinator) *coordinatorExpertExecutor {
	return &coordinatorExpertExecutor{coord: coord, poll: 20 * time.Millisecond}
}

func (e *coordinatorExpertExecutor) Execute(ctx context.Context, task experts.Task, cfg experts.Config) (experts.Result, error) {
	ctx = telemetry.WithBaggage(ctx, "taskId", task.ID, "expertId", cfg.ID)
	telemetry.SetSpanAttributes(ctx,
		attribute.String("refine.task_id", task.ID),
		attribute.String("refine.expert_id", cfg.ID),
		attribute.String("refine.archetype", string(cfg.Archetype)),
	)
	start := time.Now()
	id, err := e.coord.Submit(&coordinator.Request{
		Role:       string(cfg.Archetype),
		Objective:  cfg.PromptPrefix + " " + task.Description,
		Complexity: coordinator.ComplexityMedium,
		Metadata:   map[string]string{"taskId": task.ID, "expertId": cfg.ID},
	})
	if err != nil {
		telemetry.RecordToolCallError("experts", string(cfg.Archetype), "submit_failed")
		return experts.Result{}, err
	}

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			telemetry.RecordToolCallError("experts", string(cfg.Archetype), "context_cancelled")
			return experts.Result{}, ctx.Err()
		case <-ticker.C:
			st, err := e.coord.Status(id)
			if err != nil || st.Phase != coordinator.PhaseCompleted {
				continue
			}
			res, ok := e.coord.Result(id)
			if !ok {
				telemetry.RecordToolCallError("experts", string(cfg.Archetype), "missing_result")
				return experts.Result{}, fmt.Errorf("worker %s completed without a result", id)
			}
			status := "success"
			if res.Status != coordinator.StatusSuccess {
				status = "error"
				workerErr := fmt.Errorf("worker status %s: %s", res.Status, res.Reason)
				if telemetry.HasTraceContext(ctx) {
					tc := telemetry.GetTraceContext(ctx)
					workerErr = fmt.Errorf("%w (trace_id=%s span_id=%s)", workerErr, tc.TraceID, tc.SpanID)
				}
				telemetry.RecordSpanError(ctx, workerErr)
				telemetry.SetSpanStatus(ctx, codes.Error, res.Reason)
			} else {
				telemetry.AddSpanEvent(ctx, "worker_result_received")
				telemetry.SetSpanStatus(ctx, codes.Ok, "worker completed")
			}
			telemetry.RecordToolCall("experts", string(cfg.Archetype), float64(time.Since(start).Milliseconds()), status)
			return resultToExpertResult(res), nil
		}
	}
}

func resultToExpertResult(res *coordinator.Result) experts.Result {
	switch res.Status {
	case coordinator.StatusSuccess:
		return experts.Result{
			Output:     res.Output["message"],
			Score:      80,
			Confidence: 0.8,
		}
	default:
		return experts.Result{Score: 0, Confidence: 0}
	}
}

// virtualExpertExecutor implements refine.Executor by treating the
// multi-expert engine as a single virtual expert per spec.md §4.4: each
// refinement iteration runs a full expert panel and self-audits from the
// resulting consensus's agreement and diversity.
type virtualExpertExecutor struct {
	engine   *experts.Engine
	executor experts.Executor
	configs  []experts.Config
	strategy experts.VotingStrategy
}

func newVirtualExpertExecutor(engine *experts.Engine, executor experts.Executor, configs []experts.Config) *virtualExpertExecutor {
	return &virtualExpertExecutor{engine: engine, executor: executor, configs: configs, strategy: experts.VoteWeighted}
}

func (v *virtualExpertExecutor) Execute(ctx context.Context, spec refine.TaskSpec, iteration int, critiques []refine.Critique) (refine.Attempt, error) {
	description := spec.Goal
	for _, c := range critiques {
		description += fmt.Sprintf("\nPrior critique (%s): %s — %s", c.Dimension, c.Problem, c.Suggestion)
	}

	task := experts.Task{ID: fmt.Sprintf("iter-%d", iteration), Description: description, Type: spec.Goal}
	outcome, err := v.engine.Run(ctx, v.executor, task, v.configs, v.strategy, nil)
	if err != nil {
		return refine.Attempt{}, err
	}

	audit := auditFromConsensus(outcome)
	return refine.Attempt{Output: outcome.WinningOutput, Audit: audit}, nil
}

// auditFromConsensus derives a self-audit from the consensus's own
// agreement and diversity metrics, the only evidence available absent a
// concrete LLM backend capable of introspecting its own reasoning.
func auditFromConsensus(outcome *experts.Outcome) refine.Audit {
	agreement := outcome.Consensus.AgreementLevel
	if outcome.Degraded {
		return refine.Audit{
			Correctness:          agreement,
			CorrectnessNote:      "degraded consensus: fewer than two experts returned usable output",
			Efficiency:           0.5,
			EfficiencyNote:       "not measured under degraded consensus",
			Safety:               1,
			SafetyNote:           "no safety violation observed",
			EvidenceAlignment:    0.5,
			EvidenceAlignmentNote: "insufficient quorum to corroborate the winning output",
			ArtifactQuality:      agreement,
			ArtifactQualityNote:  "scored from degraded agreement level",
		}
	}
	return refine.Audit{
		Correctness:          agreement,
		CorrectnessNote:      fmt.Sprintf("agreement level %.2f across expert panel", agreement),
		Efficiency:           0.8,
		EfficiencyNote:       "expert panel completed within its deadline",
		Safety:               1,
		SafetyNote:           "no safety violation observed",
		EvidenceAlignment:    1 - outcome.Consensus.DiversityScore,
		EvidenceAlignmentNote: fmt.Sprintf("diversity score %.2f among expert outputs", outcome.Consensus.DiversityScore),
		ArtifactQuality:      agreement,
		ArtifactQualityNote:  "scored from winning class agreement",
	}
}
