package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/gomind-refine/core"
)

// fakeChildProcess simulates a worker without spawning a real process: it
// emits a readiness marker, then a scripted sequence of output lines timed
// by a script function, then exits.
type fakeChildProcess struct {
	lines chan string
	done  chan error
	killed chan struct{}
}

func newFakeChildProcess() *fakeChildProcess {
	return &fakeChildProcess{
		lines:  make(chan string, 256),
		done:   make(chan error, 1),
		killed: make(chan struct{}, 1),
	}
}

func (p *fakeChildProcess) Lines() <-chan string { return p.lines }
func (p *fakeChildProcess) Wait() error           { return <-p.done }
func (p *fakeChildProcess) Kill() error {
	select {
	case p.killed <- struct{}{}:
	default:
	}
	select {
	case p.done <- fmt.Errorf("killed"):
	default:
	}
	return nil
}

// scriptedSpawner builds a fakeChildProcess per request and runs an
// arbitrary script against it in a goroutine, so tests can drive precise
// timing and output patterns.
type scriptedSpawner struct {
	script func(req *Request, p *fakeChildProcess)
}

func (s *scriptedSpawner) Spawn(ctx context.Context, req *Request) (ChildProcess, error) {
	p := newFakeChildProcess()
	go s.script(req, p)
	return p, nil
}

func echoSuccess(m *mailbox) func(req *Request, p *fakeChildProcess) {
	return func(req *Request, p *fakeChildProcess) {
		p.lines <- "READY"
		res := &Result{
			RequestID:  req.RequestID,
			Status:     StatusSuccess,
			Output:     map[string]string{"message": "ok"},
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
		}
		data, _ := json.Marshal(res)
		_ = m.writeAtomic("results", req.RequestID+".json", data)
		p.done <- nil
	}
}

// TestHappyPathSingleAgent implements scenario 1 from spec.md §8.
func TestHappyPathSingleAgent(t *testing.T) {
	dir := t.TempDir()
	clock := core.NewRealClock()

	coord, err := New(dir, DefaultConfig(), nil, clock, nil)
	require.NoError(t, err)
	coord.spawner = &scriptedSpawner{script: echoSuccess(coord.mailbox)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.cfg.PollInterval = 10 * time.Millisecond
	coord.Start(ctx)

	id, err := coord.Submit(&Request{Role: "implement", Objective: "echo 'ok'", Complexity: ComplexitySmall})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := coord.Status(id)
		return err == nil && st.Phase == PhaseCompleted
	}, 2*time.Second, 10*time.Millisecond)

	res, ok := coord.mailbox.readResult(id)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "ok", res.Output["message"])
}

// TestThreeParallelAgentsTrueParallelism implements scenario 2: three
// requests that each take ~150ms (scaled down from the spec's 15s for test
// speed) complete with wall-clock time well under 3x a single request's
// duration, proving they ran concurrently rather than serially.
func TestThreeParallelAgentsTrueParallelism(t *testing.T) {
	dir := t.TempDir()
	clock := core.NewRealClock()
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.MaxConcurrent = 5

	coord, err := New(dir, cfg, nil, clock, nil)
	require.NoError(t, err)

	perAgent := 150 * time.Millisecond
	coord.spawner = &scriptedSpawner{script: func(req *Request, p *fakeChildProcess) {
		p.lines <- "READY"
		time.Sleep(perAgent)
		res := &Result{RequestID: req.RequestID, Status: StatusSuccess, Output: map[string]string{"message": "ok"}}
		data, _ := json.Marshal(res)
		_ = coord.mailbox.writeAtomic("results", req.RequestID+".json", data)
		p.done <- nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)

	start := time.Now()
	ids := make([]string, 3)
	for i := range ids {
		id, err := coord.Submit(&Request{Role: "implement", Objective: fmt.Sprintf("task-%d", i), Complexity: ComplexitySmall})
		require.NoError(t, err)
		ids[i] = id
	}

	for _, id := range ids {
		id := id
		require.Eventually(t, func() bool {
			st, err := coord.Status(id)
			return err == nil && st.Phase == PhaseCompleted
		}, 2*time.Second, 10*time.Millisecond)
	}
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*perAgent, "three agents should run concurrently, not serially")
}

// TestTimeoutExtensionThenKill implements scenario 3: a worker emits output
// periodically (simulating visible progress) past its initial budget,
// earning extensions, then goes silent long enough to be killed with
// status=timeout.
func TestTimeoutExtensionThenKill(t *testing.T) {
	dir := t.TempDir()
	clock := core.NewRealClock()
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Supervision = supervisionConfig{
		HealthCheckTimeout: 200 * time.Millisecond,
		HeartbeatInterval:  20 * time.Millisecond,
		SilenceWarning:     60 * time.Millisecond,
		SilenceKill:        120 * time.Millisecond,
		ExtensionIncrement: 100 * time.Millisecond,
		GlobalCap:          300 * time.Millisecond,
	}

	coord, err := New(dir, cfg, nil, clock, nil)
	require.NoError(t, err)

	coord.spawner = &scriptedSpawner{script: func(req *Request, p *fakeChildProcess) {
		p.lines <- "READY"
		// Emit output bursts to earn extensions, then go silent forever.
		for i := 0; i < 3; i++ {
			time.Sleep(30 * time.Millisecond)
			p.lines <- fmt.Sprintf("progress %d", i)
		}
		<-p.killed
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)

	id, err := coord.Submit(&Request{Role: "implement", Objective: "long task", Complexity: ComplexitySmall})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := coord.Status(id)
		return err == nil && st.Phase == PhaseCompleted
	}, 3*time.Second, 10*time.Millisecond)

	res, ok := coord.mailbox.readResult(id)
	require.True(t, ok)
	assert.Equal(t, StatusTimeout, res.Status)
}

func TestSubmitRejectsMalformedRequest(t *testing.T) {
	dir := t.TempDir()
	coord, err := New(dir, DefaultConfig(), nil, core.NewRealClock(), nil)
	require.NoError(t, err)

	_, err = coord.Submit(&Request{})
	require.Error(t, err)
	assert.True(t, core.IsInvalidInput(err))
}

func TestSubmitRejectsExcessiveDepth(t *testing.T) {
	dir := t.TempDir()
	coord, err := New(dir, DefaultConfig(), nil, core.NewRealClock(), nil)
	require.NoError(t, err)
	coord.cfg.MaxDepth = 1

	id1, err := coord.Submit(&Request{Role: "r", Objective: "o"})
	require.NoError(t, err)

	id2, err := coord.Submit(&Request{Role: "r", Objective: "o", ParentRequestID: id1})
	require.NoError(t, err)

	_, err = coord.Submit(&Request{Role: "r", Objective: "o", ParentRequestID: id2})
	require.Error(t, err)
}
