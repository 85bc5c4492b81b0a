package experts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
	"github.com/itsneelabh/gomind-refine/memory"
	"github.com/itsneelabh/gomind-refine/ratelimit"
	"github.com/itsneelabh/gomind-refine/telemetry"
)

// Executor runs one expert's attempt at a task. Implementations cover a
// single in-process expert call or a call out to an LLM backend; engine
// failures from Execute itself are converted to zero-score results rather
// than propagated, per spec.md §4.3.
type Executor interface {
	Execute(ctx context.Context, task Task, cfg Config) (Result, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task Task, cfg Config) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, task Task, cfg Config) (Result, error) {
	return f(ctx, task, cfg)
}

// Outcome is the engine's output: the winning decision plus the full
// expert roster, diversity/agreement metrics, and preserved dissent.
type Outcome struct {
	Consensus          ConsensusRecord
	WinningOutput      string
	Degraded           bool
}

// Engine executes N experts in parallel through the rate limiter, scores
// and deduplicates their outputs, and emits a consensus with preserved
// dissent.
type Engine struct {
	limiter           *ratelimit.Limiter
	store             memory.Store
	clock             core.Clock
	logger            core.Logger
	metrics           core.MetricsRegistry
	duplicateThreshold float64
	duplicatePenalty   float64
	backendID          string
	deadline           time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithDuplicateThreshold(t float64) Option { return func(e *Engine) { e.duplicateThreshold = t } }
func WithDuplicatePenalty(p float64) Option   { return func(e *Engine) { e.duplicatePenalty = p } }
func WithBackendID(id string) Option         { return func(e *Engine) { e.backendID = id } }
func WithDeadline(d time.Duration) Option    { return func(e *Engine) { e.deadline = d } }

// NewEngine wires an Engine from the shared rate limiter and memory
// substrate; store may be nil to skip ConsensusRecord persistence.
func NewEngine(limiter *ratelimit.Limiter, store memory.Store, clock core.Clock, logger core.Logger, opts ...Option) *Engine {
	if clock == nil {
		clock = core.NewRealClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("experts")
	}
	e := &Engine{
		limiter:            limiter,
		store:              store,
		clock:              clock,
		logger:             logger,
		metrics:            core.GetGlobalMetricsRegistry(),
		duplicateThreshold: DefaultDuplicateThreshold,
		duplicatePenalty:   DefaultDuplicatePenalty,
		backendID:          "experts",
		deadline:           60 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes task through every configured expert, votes per strategy,
// and persists the resulting ConsensusRecord.
func (e *Engine) Run(ctx context.Context, executor Executor, task Task, configs []Config, strategy VotingStrategy, embedder memory.Embedder) (*Outcome, error) {
	if len(configs) == 0 {
		return nil, core.NewFrameworkError("experts.Run", core.KindInvalidInput, fmt.Errorf("no expert configs supplied"))
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	results := e.runExperts(deadlineCtx, executor, task, configs)

	n := len(configs)
	usable := 0
	for _, r := range results {
		if r.Score > 0 {
			usable++
		}
	}

	embeddings := make(map[string][]float64)
	if embedder != nil {
		for _, r := range results {
			if vec, err := embedder.Embed(ctx, r.Output); err == nil {
				embeddings[r.ExpertID] = vec
			}
		}
	}

	// N=1 degenerate case: no clustering is meaningful, agreement is
	// total and diversity is zero by definition.
	if n == 1 {
		r := results[0]
		rec := ConsensusRecord{
			TaskType:       task.Type,
			Decision:       r.Output,
			AgreementLevel: 1,
			DiversityScore: 0,
			Votes:          []Vote{{ExpertID: r.ExpertID, ClassID: 0, EffectiveScore: r.Score, Weight: 1}},
			Experts:        results,
			CreatedAt:      e.clock.Now(),
		}
		e.persist(ctx, rec)
		return &Outcome{Consensus: rec, WinningOutput: r.Output}, nil
	}

	if usable < 2 {
		return e.degradedOutcome(ctx, task, results)
	}

	clusterEquivalent(results, embeddings, e.duplicateThreshold)
	winnerClass, votes := vote(results, n, strategy, e.duplicatePenalty)

	sizes := classSizes(results)
	agreement := float64(sizes[winnerClass]) / float64(n)
	diversity := diversityScore(results, embeddings)

	var winningOutput string
	var conflicts []Conflict
	representative := make(map[int]*Result)
	for _, r := range results {
		cur, ok := representative[r.classID]
		if !ok || r.Score > cur.Score {
			representative[r.classID] = r
		}
	}
	for classID, rep := range representative {
		if classID == winnerClass {
			winningOutput = rep.Output
			continue
		}
		conflicts = append(conflicts, Conflict{
			ExpertID:    rep.ExpertID,
			Output:      rep.Output,
			Score:       rep.Score,
			Explanation: fmt.Sprintf("non-winning class (size %d) under %s voting", sizes[classID], strategy),
		})
	}

	rec := ConsensusRecord{
		TaskType:           task.Type,
		Votes:              votes,
		Decision:           winningOutput,
		AgreementLevel:     agreement,
		DiversityScore:     diversity,
		PreservedConflicts: conflicts,
		Experts:            results,
		CreatedAt:          e.clock.Now(),
	}
	e.persist(ctx, rec)
	e.emitConsensusMetric(ctx, task, rec)
	return &Outcome{Consensus: rec, WinningOutput: winningOutput}, nil
}

// emitConsensusMetric records the panel's agreement level at full control,
// tagged with whatever baggage the caller propagated (taskId/expertId from
// the orchestration layer) plus the consensus's own taskType/voteCount.
// Sampled at 50%: this fires once per refinement iteration, and the
// per-expert telemetry already wired in runOne carries the bulk of the
// signal needed to diagnose a single call.
func (e *Engine) emitConsensusMetric(ctx context.Context, task Task, rec ConsensusRecord) {
	labels := map[string]string{
		"taskType":  task.Type,
		"voteCount": fmt.Sprintf("%d", len(rec.Votes)),
	}
	for k, v := range telemetry.GetBaggage(ctx) {
		labels["baggage."+k] = v
	}
	telemetry.EmitWithOptions(ctx, "experts.consensus_agreement_level", rec.AgreementLevel,
		telemetry.WithLabels(labels),
		telemetry.WithSampleRate(0.5),
	)
}

// degradedOutcome handles the sub-quorum path: fewer than two experts
// returned usable output, so the engine returns the best single output
// marked degraded, with a preservedConflict entry explaining the shortfall.
func (e *Engine) degradedOutcome(ctx context.Context, task Task, results []*Result) (*Outcome, error) {
	var best *Result
	for _, r := range results {
		if best == nil || r.Score > best.Score {
			best = r
		}
	}
	conflicts := []Conflict{{
		Explanation: "insufficient quorum: fewer than two experts returned usable output",
	}}
	rec := ConsensusRecord{
		TaskType:           task.Type,
		Decision:           best.Output,
		AgreementLevel:     1.0 / float64(len(results)),
		DiversityScore:     0,
		PreservedConflicts: conflicts,
		Degraded:           true,
		Experts:            results,
		CreatedAt:          e.clock.Now(),
	}
	e.persist(ctx, rec)
	return &Outcome{Consensus: rec, WinningOutput: best.Output, Degraded: true}, nil
}

// runExperts calls the executor for every config in parallel, gating each
// call through the rate limiter and converting failures into zero-score
// results rather than propagating them.
func (e *Engine) runExperts(ctx context.Context, executor Executor, task Task, configs []Config) []*Result {
	results := make([]*Result, len(configs))
	var wg sync.WaitGroup
	for i, cfg := range configs {
		wg.Add(1)
		go func(i int, cfg Config) {
			defer wg.Done()
			results[i] = e.runOne(ctx, executor, task, cfg)
		}(i, cfg)
	}
	wg.Wait()
	return results
}

func (e *Engine) runOne(ctx context.Context, executor Executor, task Task, cfg Config) *Result {
	start := e.clock.Now()
	defer telemetry.Duration("experts.call_duration_ms", start, "expertId", cfg.ID, "archetype", string(cfg.Archetype))

	permit, err := e.limiter.Acquire(ctx, e.backendID, 1, 0)
	if err != nil {
		e.logger.Warn("expert rate-limited out", map[string]interface{}{"expertId": cfg.ID, "error": err.Error()})
		return &Result{ExpertID: cfg.ID, Score: 0, Confidence: 0}
	}
	defer e.limiter.Release(permit)

	iterCtx := ctx
	r, err := executor.Execute(iterCtx, task, cfg)
	r.ExpertID = cfg.ID
	r.LatencyMs = e.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		e.logger.Warn("expert execution failed", map[string]interface{}{"expertId": cfg.ID, "error": err.Error()})
		return &Result{ExpertID: cfg.ID, Score: 0, Confidence: 0, LatencyMs: r.LatencyMs}
	}
	return &r
}

func (e *Engine) persist(ctx context.Context, rec ConsensusRecord) {
	if e.store == nil {
		return
	}
	summary := rec.Decision
	if len(summary) > 500 {
		summary = summary[:500]
	}
	_, err := e.store.Create(ctx, summary, memory.TypeExpertConsensus,
		memory.WithImportance(rec.AgreementLevel),
		memory.WithMetadata(map[string]interface{}{
			"taskType":       rec.TaskType,
			"agreementLevel": rec.AgreementLevel,
			"diversityScore": rec.DiversityScore,
			"degraded":       rec.Degraded,
		}),
	)
	if err != nil {
		e.logger.Warn("failed to persist consensus record", map[string]interface{}{"error": err.Error()})
	}
	if e.metrics != nil {
		e.metrics.Gauge("experts.agreement_level", rec.AgreementLevel, "taskType", rec.TaskType)
	}
}
