package refine

import (
	"context"
	"fmt"

	"github.com/itsneelabh/gomind-refine/core"
	"github.com/itsneelabh/gomind-refine/memory"
	"github.com/itsneelabh/gomind-refine/telemetry"
)

// TaskSpec is the refinement loop's input: a goal, the criteria that
// define success, any constraints on the attempt, and an iteration
// ceiling.
type TaskSpec struct {
	Goal            string
	SuccessCriteria []string
	Constraints     []string
	MaxIterations   int // default 3
}

func (t TaskSpec) iterationCeiling() int {
	if t.MaxIterations > 0 {
		return t.MaxIterations
	}
	return 3
}

// Attempt is one iteration's raw output from the executor, already
// self-audited: the executor (a single expert, or the multi-expert engine
// treated as one virtual expert) is responsible for producing both the
// output and its own justified self-audit.
type Attempt struct {
	Output string
	Audit  Audit
	Err    error
}

// Executor runs one refinement attempt given the task, the iteration
// index, and any critiques carried forward from the prior iteration.
type Executor interface {
	Execute(ctx context.Context, spec TaskSpec, iteration int, critiques []Critique) (Attempt, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, spec TaskSpec, iteration int, critiques []Critique) (Attempt, error)

func (f ExecutorFunc) Execute(ctx context.Context, spec TaskSpec, iteration int, critiques []Critique) (Attempt, error) {
	return f(ctx, spec, iteration, critiques)
}

// Supervisor observes one attempt's execution for anomalies (excessive
// duration, silence, safety violations) and can request an early abort.
// A nil Supervisor disables supervision.
type Supervisor interface {
	Observe(ctx context.Context, spec TaskSpec, iteration int) (abort bool, reason string)
}

// Loop drives the adapt -> iterate -> terminate -> persist algorithm of
// spec.md §4.4.
type Loop struct {
	store      memory.Store
	clock      core.Clock
	logger     core.Logger
	supervisor Supervisor
}

// NewLoop wires a Loop from the memory substrate used for trace adaptation
// and persistence. store may be nil to run without memory integration.
func NewLoop(store memory.Store, clock core.Clock, logger core.Logger, supervisor Supervisor) *Loop {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("refine")
	}
	return &Loop{store: store, clock: clock, logger: logger, supervisor: supervisor}
}

// Run executes spec through the refinement loop using executor, returning
// the completed trace. The trace is persisted to memory as a
// refinement_trace record regardless of outcome.
func (l *Loop) Run(ctx context.Context, spec TaskSpec, executor Executor) (*ProcessTrace, error) {
	l.adapt(ctx, spec)

	trace := &ProcessTrace{TaskGoal: spec.Goal, CreatedAt: l.clock.Now()}
	var critiques []Critique

	ceiling := spec.iterationCeiling()
	for i := 1; i <= ceiling; i++ {
		rec := IterationRecord{Index: i, StartedAt: l.clock.Now(), State: "executing"}

		if l.supervisor != nil {
			if abort, reason := l.supervisor.Observe(ctx, spec, i); abort {
				rec.State = "exhausting"
				rec.Error = fmt.Sprintf("supervisor aborted: %s", reason)
				rec.FinishedAt = l.clock.Now()
				trace.Iterations = append(trace.Iterations, rec)
				trace.Outcome = OutcomePartial
				l.persist(ctx, trace)
				return trace, nil
			}
		}

		endTiming := telemetry.TimeOperation("refine.iteration_duration_ms", "goal", spec.Goal)
		attempt, err := executor.Execute(ctx, spec, i, critiques)
		endTiming()
		rec.FinishedAt = l.clock.Now()
		if err != nil {
			rec.State = "auditing"
			rec.Error = err.Error()
			rec.Audit = Audit{
				Correctness:     0,
				CorrectnessNote: "executor returned an error: " + err.Error(),
				Safety:          1,
				SafetyNote:      "not evaluated: executor did not produce output",
			}
			trace.Iterations = append(trace.Iterations, rec)
			critiques = extractFeedback(rec.Audit, fmt.Sprintf("iteration-%d", i))
			continue
		}

		audit, flagged := clampUnjustified(attempt.Audit)
		if len(flagged) > 0 {
			l.logger.Warn("unjustified audit dimension clamped", map[string]interface{}{"iteration": i, "dimensions": flagged})
		}
		rec.Output = attempt.Output
		rec.Audit = audit
		rec.State = "auditing"

		if audit.Safety < Thresholds.Safety {
			rec.State = "exhausting"
			rec.Critiques = extractFeedback(audit, fmt.Sprintf("iteration-%d", i))
			trace.Iterations = append(trace.Iterations, rec)
			trace.Outcome = OutcomePartial
			l.persist(ctx, trace)
			return trace, nil
		}

		if audit.Passes() {
			rec.State = "succeeding"
			trace.Iterations = append(trace.Iterations, rec)
			trace.Outcome = OutcomeSuccess
			telemetry.Counter("refine.audit_passes", "goal", spec.Goal, "passed", "true")
			l.persist(ctx, trace)
			if i > 1 {
				l.promoteProcedure(ctx, spec, trace)
			}
			return trace, nil
		}

		rec.State = "refining"
		rec.Critiques = extractFeedback(audit, fmt.Sprintf("iteration-%d", i))
		critiques = rec.Critiques
		trace.Iterations = append(trace.Iterations, rec)
	}

	trace.Outcome = OutcomePartial
	telemetry.Counter("refine.audit_passes", "goal", spec.Goal, "passed", "false")
	l.persist(ctx, trace)
	return trace, nil
}

// adapt queries memory for up to five similar past traces. The results do
// not change how the run proceeds. It is best-effort: a lookup failure
// never aborts the run.
func (l *Loop) adapt(ctx context.Context, spec TaskSpec) {
	if l.store == nil {
		return
	}
	const k = 5
	_, err := l.store.Search(ctx, memory.Filters{Type: memory.TypeRefinementTrace, TextQuery: spec.Goal, Limit: k})
	if err != nil {
		l.logger.Warn("trace adaptation lookup failed", map[string]interface{}{"error": err.Error()})
	}
}

// persist writes the trace as a refinement_trace memory record: importance
// 0.8 on success, 0.6 otherwise.
func (l *Loop) persist(ctx context.Context, trace *ProcessTrace) {
	if l.store == nil {
		return
	}
	importance := 0.6
	if trace.Outcome == OutcomeSuccess {
		importance = 0.8
	}
	summary := trace.TaskGoal
	if best := trace.BestIteration(); best != nil {
		summary = best.Output
	}
	_, err := l.store.Create(ctx, summary, memory.TypeRefinementTrace,
		memory.WithImportance(importance),
		memory.WithMetadata(map[string]interface{}{
			"outcome":    string(trace.Outcome),
			"iterations": len(trace.Iterations),
		}),
	)
	if err != nil {
		l.logger.Warn("failed to persist refinement trace", map[string]interface{}{"error": err.Error()})
	}
}

// promoteProcedure extracts a successful multi-iteration refinement as a
// candidate procedural pattern, persisted through store.Create as a
// procedural record (the substrate places new procedural records in the
// warm tier, not the cold tier). Validation here is a simple existence
// check: promotion happens once, with no close duplicate already held.
func (l *Loop) promoteProcedure(ctx context.Context, spec TaskSpec, trace *ProcessTrace) {
	if l.store == nil {
		return
	}
	existing, err := l.store.Search(ctx, memory.Filters{Type: memory.TypeProcedural, TextQuery: spec.Goal, Limit: 1})
	if err == nil && len(existing) > 0 {
		return
	}
	best := trace.BestIteration()
	if best == nil {
		return
	}
	_, err = l.store.Create(ctx, best.Output, memory.TypeProcedural,
		memory.WithImportance(0.7),
		memory.WithTags("promoted-from-refinement"),
		memory.WithMetadata(map[string]interface{}{"goal": spec.Goal}),
	)
	if err != nil {
		l.logger.Warn("failed to promote procedural pattern", map[string]interface{}{"error": err.Error()})
	}
}
