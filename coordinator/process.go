package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/itsneelabh/gomind-refine/core"
	"github.com/itsneelabh/gomind-refine/resilience"
	"github.com/itsneelabh/gomind-refine/telemetry"
)

// readinessLine is the plain-text fallback marker a worker may emit on
// stdout to signal readiness. The canonical form per spec.md §6 is a JSON
// line `{"ready": true, ...}`, checked by isReadinessLine.
const readinessLine = "READY"

// isReadinessLine reports whether line signals worker readiness: either
// the JSON protocol line `{"ready": true, ...}` or, for simple workers, the
// plain-text READY marker.
func isReadinessLine(line string) bool {
	var probe struct {
		Ready bool `json:"ready"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err == nil && probe.Ready {
		return true
	}
	return strings.Contains(line, readinessLine)
}

// ChildProcess abstracts a spawned worker so the coordinator can be tested
// without a real child process.
type ChildProcess interface {
	Lines() <-chan string
	Wait() error
	Kill() error
}

// Spawner creates a ChildProcess for a Request.
type Spawner interface {
	Spawn(ctx context.Context, req *Request) (ChildProcess, error)
}

// execSpawner runs a real worker binary via os/exec, streaming its stdout
// line by line. Transient start failures (the OS briefly out of PIDs or
// file descriptors) are retried; a worker binary that keeps failing to
// start trips a circuit breaker so the coordinator stops burning poll
// ticks attempting to spawn it.
type execSpawner struct {
	binary  string
	args    []string
	breaker *resilience.CircuitBreaker
}

// NewExecSpawner builds a Spawner that runs binary (with any fixed args)
// once per Request, passing the request ID as the trailing argument.
func NewExecSpawner(binary string, logger core.Logger, args ...string) Spawner {
	cb, _ := resilience.CreateCircuitBreaker("coordinator.spawn."+binary, resilience.ResilienceDependencies{Logger: logger})
	return &execSpawner{binary: binary, args: args, breaker: cb}
}

type execChildProcess struct {
	cmd      *exec.Cmd
	lines    chan string
	waitOnce sync.Once
	waitErr  error
}

func (s *execSpawner) Spawn(ctx context.Context, req *Request) (ChildProcess, error) {
	args := append(append([]string{}, s.args...), req.RequestID)

	var child *execChildProcess
	attempt := 0
	runErr := resilience.RetryWithCircuitBreaker(ctx, resilience.DefaultRetryConfig(), s.breaker, func() error {
		attempt++
		if attempt > 1 {
			telemetry.RecordToolCallRetry("coordinator", s.binary)
		}
		cmd := exec.CommandContext(ctx, s.binary, args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		cmd.Stderr = cmd.Stdout

		if err := cmd.Start(); err != nil {
			return err
		}

		lines := make(chan string, 64)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(stdout)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		child = &execChildProcess{cmd: cmd, lines: lines}
		return nil
	})
	if runErr != nil {
		return nil, core.NewFrameworkError("process.Spawn", core.KindResource, runErr)
	}
	return child, nil
}

func (p *execChildProcess) Lines() <-chan string { return p.lines }

// Wait is safe to call from multiple goroutines (the supervision loop and
// Kill may both want the exit outcome); cmd.Wait itself is only invoked
// once.
func (p *execChildProcess) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Kill escalates from SIGTERM to SIGKILL, giving the child a brief window
// to flush its own Result file before being forced down.
func (p *execChildProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = p.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return p.cmd.Process.Kill()
	}
}

// agentProcess supervises one running ChildProcess: health check,
// heartbeat tracking, and progressive timeout enforcement.
type agentProcess struct {
	req     *Request
	child   ChildProcess
	clock   core.Clock
	logger  core.Logger

	mu           sync.Mutex
	lastOutputAt time.Time
	outputBursts int
	ready        bool
}

// supervisionConfig holds the timing knobs spec.md §4.5 specifies.
type supervisionConfig struct {
	HealthCheckTimeout time.Duration // default 8s
	HeartbeatInterval  time.Duration // default 15s
	SilenceWarning     time.Duration // default 45s
	SilenceKill        time.Duration // default 90s
	ExtensionIncrement time.Duration // default 60s
	GlobalCap          time.Duration // default 240s
}

// DefaultSupervisionConfig returns spec.md §4.5's default timing knobs.
func DefaultSupervisionConfig() supervisionConfig {
	return supervisionConfig{
		HealthCheckTimeout: 8 * time.Second,
		HeartbeatInterval:  15 * time.Second,
		SilenceWarning:     45 * time.Second,
		SilenceKill:        90 * time.Second,
		ExtensionIncrement: 60 * time.Second,
		GlobalCap:          240 * time.Second,
	}
}

// run drives one process from spawn through a terminal Result. It never
// returns an error: all failure modes resolve to a synthesized Result.
func (p *agentProcess) run(ctx context.Context, cfg supervisionConfig, m *mailbox) *Result {
	started := p.clock.Now()

	if !p.awaitReady(cfg.HealthCheckTimeout) {
		_ = p.child.Kill()
		return &Result{RequestID: p.req.RequestID, Status: StatusCrash, Reason: "failed health check", StartedAt: started, FinishedAt: p.clock.Now()}
	}

	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()
	go p.drainOutput(drainCtx, m)

	budget := p.req.Complexity.initialBudget()
	deadline := started.Add(budget)

	done := make(chan error, 1)
	go func() { done <- p.child.Wait() }()

	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			finished := p.clock.Now()
			if err != nil {
				return &Result{RequestID: p.req.RequestID, Status: StatusCrash, Reason: err.Error(), StartedAt: started, FinishedAt: finished}
			}
			return nil // caller checks the mailbox for the worker's own Result file
		case <-ctx.Done():
			_ = p.child.Kill()
			return &Result{RequestID: p.req.RequestID, Status: StatusCrash, Reason: "coordinator shutting down", StartedAt: started, FinishedAt: p.clock.Now()}
		case <-ticker.C:
			now := p.clock.Now()
			silence := now.Sub(p.lastHeartbeat())

			if silence >= cfg.SilenceKill {
				_ = p.child.Kill()
				return &Result{RequestID: p.req.RequestID, Status: StatusTimeout, Reason: "timeout", StartedAt: started, FinishedAt: now}
			}
			if silence >= cfg.SilenceWarning {
				p.logger.Warn("worker silence warning", map[string]interface{}{"requestId": p.req.RequestID, "silenceSec": silence.Seconds()})
			}

			if now.After(deadline) {
				if p.makingProgress(cfg) && deadline.Sub(started) < cfg.GlobalCap {
					extended := deadline.Add(cfg.ExtensionIncrement)
					cap := started.Add(cfg.GlobalCap)
					if extended.After(cap) {
						extended = cap
					}
					deadline = extended
					p.logger.Info("extending worker budget", map[string]interface{}{"requestId": p.req.RequestID, "newDeadline": deadline})
					continue
				}
				_ = p.child.Kill()
				return &Result{RequestID: p.req.RequestID, Status: StatusTimeout, Reason: "timeout", StartedAt: started, FinishedAt: now}
			}
		}
	}
}

// makingProgress reports recent output (within 30s) and at least two
// distinct output bursts, per spec.md §4.5's extension rule.
func (p *agentProcess) makingProgress(cfg supervisionConfig) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.Now().Sub(p.lastOutputAt) <= 30*time.Second && p.outputBursts >= 2
}

func (p *agentProcess) lastHeartbeat() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOutputAt
}

// awaitReady blocks until the child emits the readiness marker or the
// health-check budget elapses. A budget of zero always fails, per the
// spec's boundary behavior.
func (p *agentProcess) awaitReady(budget time.Duration) bool {
	if budget <= 0 {
		return false
	}
	deadline := time.After(budget)
	for {
		select {
		case line, ok := <-p.child.Lines():
			if !ok {
				return false
			}
			p.recordOutput(line)
			if isReadinessLine(line) {
				p.mu.Lock()
				p.ready = true
				p.mu.Unlock()
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func (p *agentProcess) recordOutput(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastOutputAt = p.clock.Now()
	p.outputBursts++
}

// drainOutput consumes and logs all remaining lines from the child once
// readiness has been established, running concurrently with the
// supervision loop.
func (p *agentProcess) drainOutput(ctx context.Context, m *mailbox) {
	for {
		select {
		case line, ok := <-p.child.Lines():
			if !ok {
				return
			}
			p.recordOutput(line)
			m.appendLog(p.req.RequestID, line)
		case <-ctx.Done():
			return
		}
	}
}
