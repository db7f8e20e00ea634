package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btk/orchestrator/pkg/types"
)

// fakeBackend implements chain.Backend for orchestrator-level tests.
type fakeBackend struct {
	id          string
	healthy     atomic.Bool
	succeed     bool
	block       time.Duration
	executed    atomic.Int64
	invalidated atomic.Int64
	probes      atomic.Int64
}

func newFakeBackend(id string, succeed bool) *fakeBackend {
	b := &fakeBackend{id: id, succeed: succeed}
	b.healthy.Store(true)
	return b
}

func (b *fakeBackend) ID() string             { return b.id }
func (b *fakeBackend) Info() types.BackendInfo { return types.BackendInfo{ID: b.id} }
func (b *fakeBackend) Close() error           { return nil }
func (b *fakeBackend) InvalidateTools()       { b.invalidated.Add(1) }

func (b *fakeBackend) Health(ctx context.Context) *types.HealthStatus {
	b.probes.Add(1)
	if !b.healthy.Load() {
		return nil
	}
	return &types.HealthStatus{Status: types.HealthHealthy}
}

func (b *fakeBackend) Tools(ctx context.Context) []*types.ToolDefinition {
	return []*types.ToolDefinition{{Name: "browser.click"}}
}

func (b *fakeBackend) Execute(ctx context.Context, task *types.Task) *types.TaskResult {
	b.executed.Add(1)
	if b.block > 0 {
		select {
		case <-time.After(b.block):
		case <-ctx.Done():
			return &types.TaskResult{TaskID: task.ID, Success: false, Error: types.ErrTimeout, ExecutedBy: b.id}
		}
	}
	if !b.succeed {
		return &types.TaskResult{TaskID: task.ID, Success: false, Error: "boom", ExecutedBy: b.id}
	}
	return &types.TaskResult{TaskID: task.ID, Success: true, ExecutedBy: b.id}
}

func newStarted(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	o := New(cfg)
	require.NoError(t, o.Start())
	t.Cleanup(o.Stop)
	return o
}

func TestSubmitBeforeStart(t *testing.T) {
	o := New(Config{})
	_, err := o.Submit(&types.Task{ToolName: "x"})
	assert.Error(t, err)
}

func TestExecuteRoutesToBackend(t *testing.T) {
	o := newStarted(t, Config{})
	b := newFakeBackend("A", true)
	require.NoError(t, o.Chain().Register(b))
	o.TrackBackend("A")

	res, err := o.Execute(context.Background(), &types.Task{ToolName: "browser.click"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "A", res.ExecutedBy)
	assert.EqualValues(t, 1, b.executed.Load())
	assert.Greater(t, res.ExecutionTime, time.Duration(0))
}

func TestExecuteRoutesLocalTool(t *testing.T) {
	o := newStarted(t, Config{})
	// No backends registered: local capabilities must still work.
	res, err := o.Execute(context.Background(), &types.Task{
		Type:     types.TaskTypeLocal,
		ToolName: "script.eval",
		Args:     map[string]any{"script": "1 + 1"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "local", res.ExecutedBy)
}

func TestLocalToolNameShortCircuitsChain(t *testing.T) {
	o := newStarted(t, Config{})
	b := newFakeBackend("A", true)
	require.NoError(t, o.Chain().Register(b))

	// A tool_call whose name matches a local capability never hits the chain.
	res, err := o.Execute(context.Background(), &types.Task{ToolName: "orchestrator.status"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 0, b.executed.Load())
}

func TestUnknownTaskTypeRejected(t *testing.T) {
	o := newStarted(t, Config{})
	b := newFakeBackend("A", true)
	require.NoError(t, o.Chain().Register(b))

	res, err := o.Execute(context.Background(), &types.Task{
		Type:     types.ParseTaskType("telepathy"),
		ToolName: "x",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unsupported task type")
	assert.EqualValues(t, 0, b.executed.Load(), "rejected tasks must not reach the chain")

	// Rejections bypass execution entirely, so counters stay untouched.
	st := o.Status()
	assert.EqualValues(t, 0, st.TasksProcessed)
	assert.EqualValues(t, 0, st.TasksFailed)
}

func TestMissingToolNameRejected(t *testing.T) {
	o := newStarted(t, Config{})
	res, err := o.Execute(context.Background(), &types.Task{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "tool name")
}

func TestSubmitAppliesDefaults(t *testing.T) {
	o := newStarted(t, Config{DefaultTaskTimeout: 7 * time.Second, DefaultRetries: 3})
	b := newFakeBackend("A", true)
	require.NoError(t, o.Chain().Register(b))

	task := &types.Task{ToolName: "x", Priority: "bogus"}
	_, err := o.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.False(t, task.CreatedAt.IsZero())
	assert.Equal(t, types.PriorityNormal, task.Priority)
	assert.Equal(t, 7*time.Second, task.Timeout)
	assert.Equal(t, 3, task.RetriesAllowed)
}

func TestMaxConcurrentAdmission(t *testing.T) {
	o := newStarted(t, Config{MaxConcurrent: 2})
	b := newFakeBackend("A", true)
	b.block = 150 * time.Millisecond
	require.NoError(t, o.Chain().Register(b))

	var chans []<-chan *types.TaskResult
	for i := 0; i < 5; i++ {
		ch, err := o.Submit(&types.Task{ToolName: "x"})
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	// With two workers and five blocking tasks, no more than two run at once.
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, o.ActiveTasks(), 2)
	assert.GreaterOrEqual(t, o.QueueDepth(), 1)

	for _, ch := range chans {
		select {
		case res := <-ch:
			assert.True(t, res.Success)
		case <-time.After(3 * time.Second):
			t.Fatal("task result never delivered")
		}
	}
	assert.Equal(t, 0, o.QueueDepth())
}

func TestCountersAndStatus(t *testing.T) {
	o := newStarted(t, Config{})
	good := newFakeBackend("good", true)
	require.NoError(t, o.Chain().Register(good))
	o.TrackBackend("good")

	res, err := o.Execute(context.Background(), &types.Task{ToolName: "x"})
	require.NoError(t, err)
	require.True(t, res.Success)

	st := o.Status()
	assert.Equal(t, types.HealthHealthy, st.Status)
	assert.EqualValues(t, 1, st.TasksProcessed)
	assert.EqualValues(t, 0, st.TasksFailed)
	assert.Empty(t, st.LastError)
	assert.GreaterOrEqual(t, st.UptimeMs, int64(0))
	require.NotNil(t, st.Memory)
	assert.Greater(t, st.Memory.Total, uint64(0))
	require.NotNil(t, st.Latency)
}

func TestFailedTaskSetsLastError(t *testing.T) {
	o := newStarted(t, Config{DefaultRetries: 1})
	bad := newFakeBackend("bad", false)
	require.NoError(t, o.Chain().Register(bad))
	o.TrackBackend("bad")

	res, err := o.Execute(context.Background(), &types.Task{ToolName: "x"})
	require.NoError(t, err)
	require.False(t, res.Success)

	st := o.Status()
	assert.EqualValues(t, 1, st.TasksProcessed)
	assert.EqualValues(t, 1, st.TasksFailed)
	assert.NotEmpty(t, st.LastError)
}

func TestStatusDegradedAndUnhealthy(t *testing.T) {
	o := newStarted(t, Config{})

	// No backends at all: degraded, not unhealthy.
	assert.Equal(t, types.HealthDegraded, o.Status().Status)

	o.TrackBackend("A")
	o.TrackBackend("B")
	assert.Equal(t, types.HealthHealthy, o.Status().Status)

	o.statusMu.Lock()
	o.statuses["A"].State = types.BackendStateOffline
	o.statusMu.Unlock()
	assert.Equal(t, types.HealthDegraded, o.Status().Status)

	o.statusMu.Lock()
	o.statuses["B"].State = types.BackendStateOffline
	o.statusMu.Unlock()
	assert.Equal(t, types.HealthUnhealthy, o.Status().Status)
}

type fakeReconnector struct {
	mu  sync.Mutex
	ids []string
}

func (r *fakeReconnector) Reconnect(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func TestHealthProbeMarksOfflineAndInvalidates(t *testing.T) {
	o := newStarted(t, Config{HealthCheckInterval: 30 * time.Millisecond})
	rec := &fakeReconnector{}
	o.SetReconnector(rec)

	b := newFakeBackend("A", true)
	require.NoError(t, o.Chain().Register(b))
	o.TrackBackend("A")

	b.healthy.Store(false)

	require.Eventually(t, func() bool {
		return o.BackendStatuses()["A"].State == types.BackendStateOffline
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, b.invalidated.Load(), int64(1),
		"tool cache must be dropped when a backend goes offline")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.ids, "A")
}

func TestMarkSeenRevivesBackend(t *testing.T) {
	o := newStarted(t, Config{})
	o.TrackBackend("A")

	o.statusMu.Lock()
	o.statuses["A"].State = types.BackendStateOffline
	o.statusMu.Unlock()

	o.MarkSeen("A", 0.5, 2)

	st := o.BackendStatuses()["A"]
	assert.Equal(t, types.BackendStateOnline, st.State)
	assert.Equal(t, 0.5, st.Load)
	assert.Equal(t, 2, st.ActiveTasks)
}

func TestSessions(t *testing.T) {
	o := newStarted(t, Config{})

	s := o.StartSession(types.SessionModeLive)
	require.NotEmpty(t, s.SessionID)
	require.NotEmpty(t, s.RunID)
	assert.Equal(t, 0, s.StepCounter)

	n, err := o.StepSession(s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, _ = o.StepSession(s.SessionID)
	assert.Equal(t, 2, n)

	got, ok := o.GetSession(s.SessionID)
	require.True(t, ok)
	assert.Equal(t, 2, got.StepCounter)
	assert.Len(t, o.Sessions(), 1)

	require.NoError(t, o.EndSession(s.SessionID))
	_, ok = o.GetSession(s.SessionID)
	assert.False(t, ok)

	_, err = o.StepSession(s.SessionID)
	assert.Error(t, err)
	assert.Error(t, o.EndSession(s.SessionID))
}

func TestStopFailsQueuedTasks(t *testing.T) {
	o := New(Config{MaxConcurrent: 1})
	require.NoError(t, o.Start())

	b := newFakeBackend("A", true)
	b.block = 200 * time.Millisecond
	require.NoError(t, o.Chain().Register(b))

	// First task occupies the single worker; the second waits in the queue.
	first, err := o.Submit(&types.Task{ToolName: "x"})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	second, err := o.Submit(&types.Task{ToolName: "x"})
	require.NoError(t, err)

	o.Stop()

	select {
	case res := <-second:
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "shutting down")
	case <-time.After(2 * time.Second):
		t.Fatal("queued task result never delivered after stop")
	}

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight task result never delivered")
	}
}

func TestDoubleStart(t *testing.T) {
	o := New(Config{})
	require.NoError(t, o.Start())
	defer o.Stop()
	assert.Error(t, o.Start())
}

func TestRecordLatencyClampsOutliers(t *testing.T) {
	o := New(Config{})

	// Both ends sit outside the histogram's trackable range; neither sample
	// may be dropped from the percentiles.
	o.recordLatency(10 * time.Minute)
	o.recordLatency(0)

	status := o.Status()
	require.NotNil(t, status.Latency)
	assert.InDelta(t, 5*60*1000, status.Latency.Max, 1000,
		"slow outlier must be clamped to the upper bound, not lost")
	assert.Greater(t, status.Latency.P99, 0.0)
}
