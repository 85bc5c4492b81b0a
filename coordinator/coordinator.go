package coordinator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
	"github.com/itsneelabh/gomind-refine/telemetry"
)

// Config tunes the coordinator's scheduling and supervision behavior.
type Config struct {
	PollInterval  time.Duration // default 500ms
	MaxConcurrent int           // default 5
	MaxDepth      int           // default 2
	Supervision   supervisionConfig
}

// DefaultConfig returns spec.md §4.5's default knobs.
func DefaultConfig() Config {
	return Config{
		PollInterval:  500 * time.Millisecond,
		MaxConcurrent: 5,
		MaxDepth:      2,
		Supervision:   DefaultSupervisionConfig(),
	}
}

// Coordinator drives the file-based mailbox: polling requests/, spawning
// and supervising worker processes, enforcing maxConcurrent and timeouts,
// and producing durable results.
type Coordinator struct {
	cfg     Config
	mailbox *mailbox
	spawner Spawner
	clock   core.Clock
	logger  core.Logger
	metrics core.MetricsRegistry

	mu          sync.Mutex
	active      map[string]*activeEntry
	parentOf    map[string]string
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopped     chan struct{}
}

type activeEntry struct {
	proc          *agentProcess
	lastHeartbeat time.Time
	startedAt     time.Time
}

// New wires a Coordinator from a mailbox root directory and a Spawner.
func New(root string, cfg Config, spawner Spawner, clock core.Clock, logger core.Logger) (*Coordinator, error) {
	m, err := newMailbox(root)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = core.NewRealClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("coordinator")
	}
	return &Coordinator{
		cfg:      cfg,
		mailbox:  m,
		spawner:  spawner,
		clock:    clock,
		logger:   logger,
		metrics:  core.GetGlobalMetricsRegistry(),
		active:   make(map[string]*activeEntry),
		parentOf: make(map[string]string),
		stopped:  make(chan struct{}),
	}, nil
}

// Submit admits a Request into the mailbox's requests/ folder, returning
// its requestId. Requests exceeding maxDepth ancestry are rejected.
func (c *Coordinator) Submit(req *Request) (string, error) {
	if req.RequestID == "" {
		req.RequestID = core.NewID()
	}
	if req.Role == "" || req.Objective == "" {
		return "", core.NewFrameworkError("coordinator.Submit", core.KindInvalidInput, fmt.Errorf("request rejected: role and objective are required"))
	}
	if req.Complexity == "" {
		req.Complexity = ComplexityMedium
	}
	req.SubmittedAt = c.clock.Now()

	if len(req.Context) > inlineContextThreshold {
		path, err := c.mailbox.writeContextFile(req.RequestID, req.Context)
		if err != nil {
			return "", err
		}
		req.ContextPath = path
		req.Context = ""
	}

	c.mu.Lock()
	if req.ParentRequestID != "" {
		c.parentOf[req.RequestID] = req.ParentRequestID
		depth := ancestryDepth(req.RequestID, func(id string) (string, bool) {
			p, ok := c.parentOf[id]
			return p, ok
		})
		if depth > c.cfg.MaxDepth {
			c.mu.Unlock()
			return "", core.NewFrameworkError("coordinator.Submit", core.KindInvalidInput, fmt.Errorf("request rejected: max sub-request depth %d exceeded", c.cfg.MaxDepth))
		}
	}
	c.mu.Unlock()

	if err := c.mailbox.writeRequest(req); err != nil {
		return "", err
	}
	return req.RequestID, nil
}

// Start begins the polling loop in the background. It returns immediately;
// call Stop to shut down.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pollLoop(runCtx)
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	c.mu.Lock()
	slots := c.cfg.MaxConcurrent - len(c.active)
	c.mu.Unlock()
	if slots <= 0 {
		return
	}

	pending, err := c.mailbox.pendingRequests()
	if err != nil {
		c.logger.Error("failed to list pending requests", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, req := range pending {
		if slots <= 0 {
			return
		}
		if err := c.mailbox.move("requests", "processing", req.RequestID+".json"); err != nil {
			continue // lost the race or fs hiccup; it remains in requests/ for the next tick
		}
		c.promote(ctx, req)
		slots--
	}
}

func (c *Coordinator) promote(ctx context.Context, req *Request) {
	telemetry.Counter("coordinator.worker_spawned", "role", req.Role, "complexity", string(req.Complexity))

	child, err := c.spawner.Spawn(ctx, req)
	if err != nil {
		telemetry.Counter("coordinator.spawn_failed", "role", req.Role)
		c.finish(req, &Result{RequestID: req.RequestID, Status: StatusCrash, Reason: err.Error(), StartedAt: c.clock.Now(), FinishedAt: c.clock.Now()})
		return
	}

	proc := &agentProcess{req: req, child: child, clock: c.clock, logger: c.logger, lastOutputAt: c.clock.Now()}
	entry := &activeEntry{proc: proc, lastHeartbeat: c.clock.Now(), startedAt: c.clock.Now()}

	c.mu.Lock()
	c.active[req.RequestID] = entry
	c.mu.Unlock()

	telemetry.TrackGoroutines("coordinator.supervision_goroutines", 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer telemetry.TrackGoroutines("coordinator.supervision_goroutines", -1)
		defer telemetry.Duration("coordinator.request_duration_ms", entry.startedAt, "role", req.Role)

		// The submitting caller's goroutine and this supervision goroutine are
		// on opposite sides of an async boundary (the request was written to
		// and reread from the mailbox); StartLinkedSpan re-establishes a span
		// for this side without a trace to link back to, since Request carries
		// no trace identifiers.
		spanCtx, endSpan := telemetry.StartLinkedSpan(ctx, "coordinator.process_request", "", "", map[string]string{
			"request.id":   req.RequestID,
			"request.role": req.Role,
		})
		defer endSpan()

		res := proc.run(spanCtx, c.cfg.Supervision, c.mailbox)
		if res == nil {
			// The child exited on its own; prefer the Result it wrote itself.
			if own, ok := c.mailbox.readResult(req.RequestID); ok {
				res = own
			} else {
				now := c.clock.Now()
				res = &Result{RequestID: req.RequestID, Status: StatusCrash, Reason: "process exited without a result", StartedAt: entry.startedAt, FinishedAt: now}
			}
		}
		c.finish(req, res)
	}()
}

func (c *Coordinator) finish(req *Request, res *Result) {
	if _, ok := c.mailbox.readResult(req.RequestID); !ok {
		_ = c.mailbox.writeResult(res)
	}
	// The request file keeps a distinct name in results/ so it does not
	// overwrite the Result stored there under <id>.json.
	_ = os.Rename(c.mailbox.path("processing", req.RequestID+".json"), c.mailbox.path("results", req.RequestID+".request.json"))

	c.mu.Lock()
	delete(c.active, req.RequestID)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Counter("coordinator.requests_completed", "status", string(res.Status))
	}
	if res.Status == StatusSuccess {
		telemetry.RecordSuccess("coordinator.requests_completed", "role", req.Role)
	} else {
		telemetry.RecordError("coordinator.requests_completed", string(res.Status), "role", req.Role)
	}
}

// Status answers a status(requestId) query.
func (c *Coordinator) Status(requestID string) (RequestStatus, error) {
	c.mu.Lock()
	entry, active := c.active[requestID]
	c.mu.Unlock()

	if active {
		return RequestStatus{
			Phase:         PhaseProcessing,
			LastHeartbeat: entry.proc.lastHeartbeat(),
			ElapsedMs:     c.clock.Now().Sub(entry.startedAt).Milliseconds(),
		}, nil
	}
	if _, ok := c.mailbox.readResult(requestID); ok {
		return RequestStatus{Phase: PhaseCompleted}, nil
	}
	return RequestStatus{}, core.ErrRequestNotFound
}

// Result returns the terminal Result for a completed requestId, if any.
func (c *Coordinator) Result(requestID string) (*Result, bool) {
	return c.mailbox.readResult(requestID)
}

// Stop halts the polling loop. If drain is true it waits for in-flight
// processes to reach a terminal Result before returning.
func (c *Coordinator) Stop(drain bool) {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	if !drain {
		cancel()
		return
	}
	cancel()
	c.wg.Wait()
}

// ActiveCount reports the current number of in-flight processes, used by
// the universal invariant |processing/| <= maxConcurrent.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
