// Package orchestrator ties the task queue, the fallback chain and the local
// tool registry together into the central coordination service.
package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"btk/orchestrator/internal/chain"
	"btk/orchestrator/internal/localtool"
	"btk/orchestrator/internal/queue"
	"btk/orchestrator/pkg/logger"
	"btk/orchestrator/pkg/types"
)

// Reconnector is notified when a backend fails a health probe so the owning
// transport can try to re-establish it.
type Reconnector interface {
	Reconnect(backendID string)
}

// Config holds the orchestrator tunables.
type Config struct {
	// MaxConcurrent caps the number of tasks executing at once.
	MaxConcurrent int
	// HealthCheckInterval is the period of the backend probe loop.
	HealthCheckInterval time.Duration
	// DefaultTaskTimeout applies when a submitted task carries none.
	DefaultTaskTimeout time.Duration
	// DefaultRetries is the fallback budget when a task carries none.
	DefaultRetries int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:       8,
		HealthCheckInterval: 15 * time.Second,
		DefaultTaskTimeout:  30 * time.Second,
		DefaultRetries:      2,
	}
}

// Orchestrator is the central coordinator: it admits tasks through the
// priority queue, executes them on the fallback chain or the local tool
// registry, and tracks backend health.
type Orchestrator struct {
	config Config

	chain *chain.Chain
	queue *queue.Queue
	local *localtool.Registry

	// pending maps task ID to the channel its result is delivered on.
	pendingMu sync.Mutex
	pending   map[string]chan *types.TaskResult
	notify    chan struct{}

	// statuses holds the mutable health record per registered backend.
	statusMu sync.RWMutex
	statuses map[string]*types.BackendStatus

	reconnector Reconnector

	active         atomic.Int64
	tasksProcessed atomic.Int64
	tasksFailed    atomic.Int64

	errMu     sync.Mutex
	lastError string

	histMu  sync.Mutex
	latency *hdrhistogram.Histogram

	sessionMu sync.RWMutex
	sessions  map[string]*types.Session

	startedAt time.Time
	started   atomic.Bool
	stopOnce  sync.Once
	stopped   chan struct{}
}

// New creates an orchestrator. Zero Config values fall back to defaults.
func New(cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = def.DefaultTaskTimeout
	}
	if cfg.DefaultRetries < 0 {
		cfg.DefaultRetries = def.DefaultRetries
	}

	o := &Orchestrator{
		config:   cfg,
		chain:    chain.New(),
		queue:    queue.New(),
		local:    localtool.NewRegistry(),
		pending:  make(map[string]chan *types.TaskResult),
		notify:   make(chan struct{}, 1),
		statuses: make(map[string]*types.BackendStatus),
		// Track 1ms..5min with 3 significant digits.
		latency:  hdrhistogram.New(1, 5*60*1000, 3),
		sessions: make(map[string]*types.Session),
		stopped:  make(chan struct{}),
	}

	o.local.MustRegister(localtool.NewStatusTool(o.Status))
	o.local.MustRegister(localtool.NewExtractTool())
	o.local.MustRegister(localtool.NewScriptTool())

	return o
}

// Chain exposes the fallback chain for backend registration.
func (o *Orchestrator) Chain() *chain.Chain { return o.chain }

// LocalTools exposes the in-process tool registry.
func (o *Orchestrator) LocalTools() *localtool.Registry { return o.local }

// SetReconnector installs the callback invoked when a backend goes offline.
// Must be called before Start.
func (o *Orchestrator) SetReconnector(r Reconnector) { o.reconnector = r }

// Start launches the dispatcher and the health-check loop.
func (o *Orchestrator) Start() error {
	if o.started.Swap(true) {
		return fmt.Errorf("orchestrator already started")
	}
	o.startedAt = time.Now()

	for i := 0; i < o.config.MaxConcurrent; i++ {
		go o.worker()
	}
	go o.healthCheckLoop()

	logger.Info("orchestrator started",
		zap.Int("max_concurrent", o.config.MaxConcurrent),
		zap.Duration("health_check_interval", o.config.HealthCheckInterval))
	return nil
}

// Stop shuts the orchestrator down. Queued tasks that never ran are failed
// so no submitter blocks forever.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopped)

		for {
			task := o.queue.Dequeue()
			if task == nil {
				break
			}
			o.deliver(task.ID, &types.TaskResult{
				TaskID:  task.ID,
				Success: false,
				Error:   "orchestrator shutting down",
			})
		}
		logger.Info("orchestrator stopped")
	})
}

// Submit admits a task and returns the channel its result will arrive on.
// The channel is buffered; the result is delivered exactly once.
func (o *Orchestrator) Submit(task *types.Task) (<-chan *types.TaskResult, error) {
	if task == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}
	if !o.started.Load() {
		return nil, fmt.Errorf("orchestrator not started")
	}

	o.applyDefaults(task)

	ch := make(chan *types.TaskResult, 1)

	// Unknown task types never reach the queue or the chain.
	if task.Type == types.TaskTypeUnknown {
		ch <- &types.TaskResult{
			TaskID:  task.ID,
			Success: false,
			Error:   "unsupported task type",
		}
		return ch, nil
	}
	if task.Type == types.TaskTypeTool && task.ToolName == "" {
		ch <- &types.TaskResult{
			TaskID:  task.ID,
			Success: false,
			Error:   "tool name is required",
		}
		return ch, nil
	}

	o.pendingMu.Lock()
	o.pending[task.ID] = ch
	o.pendingMu.Unlock()

	o.queue.Enqueue(task)
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return ch, nil
}

// Execute submits a task and waits for its result or ctx cancellation.
func (o *Orchestrator) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	ch, err := o.Submit(task)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QueueDepth returns the number of tasks waiting for a worker.
func (o *Orchestrator) QueueDepth() int { return o.queue.Len() }

// ActiveTasks returns the number of tasks currently executing.
func (o *Orchestrator) ActiveTasks() int { return int(o.active.Load()) }

// applyDefaults fills the generated and defaulted task fields.
func (o *Orchestrator) applyDefaults(task *types.Task) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	switch task.Priority {
	case types.PriorityCritical, types.PriorityHigh, types.PriorityLow:
	default:
		task.Priority = types.PriorityNormal
	}
	if task.Timeout <= 0 {
		task.Timeout = o.config.DefaultTaskTimeout
	}
	if task.RetriesAllowed <= 0 {
		task.RetriesAllowed = o.config.DefaultRetries
	}
	task.RetriesLeft = task.RetriesAllowed
}

// worker pulls tasks off the queue one at a time; the worker count enforces
// the concurrency cap.
func (o *Orchestrator) worker() {
	for {
		task := o.queue.Dequeue()
		if task == nil {
			select {
			case <-o.notify:
				continue
			case <-o.stopped:
				return
			}
		}

		select {
		case <-o.stopped:
			o.deliver(task.ID, &types.TaskResult{
				TaskID:  task.ID,
				Success: false,
				Error:   "orchestrator shutting down",
			})
			return
		default:
		}

		o.runTask(task)
	}
}

func (o *Orchestrator) runTask(task *types.Task) {
	o.active.Add(1)
	defer o.active.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), task.Timeout)
	defer cancel()

	start := time.Now()
	var result *types.TaskResult
	if task.Type == types.TaskTypeLocal || o.local.Has(task.ToolName) {
		result = o.local.Execute(ctx, task)
	} else {
		result = o.chain.Execute(ctx, task)
	}
	elapsed := time.Since(start)
	result.ExecutionTime = elapsed

	o.tasksProcessed.Add(1)
	if !result.Success {
		o.tasksFailed.Add(1)
		o.setLastError(result.Error)
	}

	o.recordLatency(elapsed)

	logger.Debug("task finished",
		zap.String("task_id", task.ID),
		zap.String("tool", task.ToolName),
		zap.Bool("success", result.Success),
		zap.Duration("elapsed", elapsed))

	o.deliver(task.ID, result)
}

func (o *Orchestrator) deliver(taskID string, result *types.TaskResult) {
	o.pendingMu.Lock()
	ch, ok := o.pending[taskID]
	if ok {
		delete(o.pending, taskID)
	}
	o.pendingMu.Unlock()
	if ok {
		ch <- result
	}
}

func (o *Orchestrator) setLastError(msg string) {
	o.errMu.Lock()
	o.lastError = msg
	o.errMu.Unlock()
}

// recordLatency stores one task duration, clamped to the histogram's upper
// bound so a slow outlier still counts toward the percentiles instead of
// being dropped.
func (o *Orchestrator) recordLatency(elapsed time.Duration) {
	o.histMu.Lock()
	defer o.histMu.Unlock()

	ms := elapsed.Milliseconds()
	if hi := o.latency.HighestTrackableValue(); ms > hi {
		ms = hi
	}
	if lo := o.latency.LowestTrackableValue(); ms < lo {
		ms = lo
	}
	_ = o.latency.RecordValue(ms)
}

// ─── backend health ─────────────────────────────────────────────────────────

// TrackBackend starts health bookkeeping for a registered backend.
func (o *Orchestrator) TrackBackend(id string) {
	o.statusMu.Lock()
	o.statuses[id] = &types.BackendStatus{
		State:    types.BackendStateOnline,
		LastSeen: time.Now(),
	}
	o.statusMu.Unlock()
}

// UntrackBackend drops the health record of an unregistered backend.
func (o *Orchestrator) UntrackBackend(id string) {
	o.statusMu.Lock()
	delete(o.statuses, id)
	o.statusMu.Unlock()
}

// MarkSeen refreshes a backend's liveness from an incoming heartbeat.
func (o *Orchestrator) MarkSeen(id string, load float64, activeTasks int) {
	o.statusMu.Lock()
	if st, ok := o.statuses[id]; ok {
		st.LastSeen = time.Now()
		st.Load = load
		st.ActiveTasks = activeTasks
		if st.State == types.BackendStateOffline {
			st.State = types.BackendStateOnline
			logger.Info("backend back online", zap.String("backend_id", id))
		}
	}
	o.statusMu.Unlock()
}

// BackendStatuses returns a snapshot of every tracked backend.
func (o *Orchestrator) BackendStatuses() map[string]types.BackendStatus {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()

	out := make(map[string]types.BackendStatus, len(o.statuses))
	for id, st := range o.statuses {
		out[id] = *st
	}
	return out
}

func (o *Orchestrator) healthCheckLoop() {
	ticker := time.NewTicker(o.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.probeBackends()
		case <-o.stopped:
			return
		}
	}
}

// probeBackends health-checks every chain backend; a failed probe marks the
// backend offline, drops its tool cache and asks the reconnector for help.
func (o *Orchestrator) probeBackends() {
	for _, b := range o.chain.Backends() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		health := b.Health(ctx)
		cancel()

		o.statusMu.Lock()
		st, tracked := o.statuses[b.ID()]
		if !tracked {
			st = &types.BackendStatus{}
			o.statuses[b.ID()] = st
		}
		wasOnline := st.State != types.BackendStateOffline

		if health == nil {
			st.State = types.BackendStateOffline
		} else {
			st.LastSeen = time.Now()
			st.Load = health.Load
			if health.Status == types.HealthDegraded {
				st.State = types.BackendStateDegraded
			} else {
				st.State = types.BackendStateOnline
			}
		}
		o.statusMu.Unlock()

		if health == nil && wasOnline {
			logger.Warn("backend failed health probe", zap.String("backend_id", b.ID()))
			b.InvalidateTools()
			if o.reconnector != nil {
				o.reconnector.Reconnect(b.ID())
			}
		}
	}
}

// ─── sessions ───────────────────────────────────────────────────────────────

// StartSession opens a new caller session.
func (o *Orchestrator) StartSession(mode types.SessionMode) *types.Session {
	if mode != types.SessionModeReplay {
		mode = types.SessionModeLive
	}
	s := &types.Session{
		SessionID: uuid.New().String(),
		RunID:     uuid.New().String(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	o.sessionMu.Lock()
	o.sessions[s.SessionID] = s
	o.sessionMu.Unlock()
	return s
}

// GetSession looks a session up by ID.
func (o *Orchestrator) GetSession(id string) (*types.Session, bool) {
	o.sessionMu.RLock()
	defer o.sessionMu.RUnlock()
	s, ok := o.sessions[id]
	return s, ok
}

// StepSession advances a session's step counter and returns the new value.
func (o *Orchestrator) StepSession(id string) (int, error) {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return 0, fmt.Errorf("session '%s' not found", id)
	}
	s.StepCounter++
	return s.StepCounter, nil
}

// EndSession closes and removes a session.
func (o *Orchestrator) EndSession(id string) error {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()
	if _, ok := o.sessions[id]; !ok {
		return fmt.Errorf("session '%s' not found", id)
	}
	delete(o.sessions, id)
	return nil
}

// Sessions returns a snapshot of the live sessions.
func (o *Orchestrator) Sessions() []*types.Session {
	o.sessionMu.RLock()
	defer o.sessionMu.RUnlock()
	out := make([]*types.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// ─── status ─────────────────────────────────────────────────────────────────

// Status assembles the orchestrator's health snapshot. The overall status is
// healthy when every tracked backend is reachable, degraded when some are
// not, and unhealthy when none are.
func (o *Orchestrator) Status() *types.HealthStatus {
	o.statusMu.RLock()
	total := len(o.statuses)
	reachable := 0
	for _, st := range o.statuses {
		if st.State != types.BackendStateOffline {
			reachable++
		}
	}
	o.statusMu.RUnlock()

	status := types.HealthHealthy
	switch {
	case total == 0:
		// No backends registered yet; local tools still work.
		status = types.HealthDegraded
	case reachable == 0:
		status = types.HealthUnhealthy
	case reachable < total:
		status = types.HealthDegraded
	}

	o.errMu.Lock()
	lastErr := o.lastError
	o.errMu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	o.histMu.Lock()
	lat := &types.LatencyStats{
		P50: float64(o.latency.ValueAtQuantile(50)),
		P95: float64(o.latency.ValueAtQuantile(95)),
		P99: float64(o.latency.ValueAtQuantile(99)),
		Max: float64(o.latency.Max()),
	}
	o.histMu.Unlock()

	load := 0.0
	if o.config.MaxConcurrent > 0 {
		load = float64(o.active.Load()) / float64(o.config.MaxConcurrent)
	}

	return &types.HealthStatus{
		Status:         status,
		UptimeMs:       time.Since(o.startedAt).Milliseconds(),
		Load:           load,
		TasksProcessed: o.tasksProcessed.Load(),
		TasksQueued:    o.queue.Len(),
		TasksFailed:    o.tasksFailed.Load(),
		LastError:      lastErr,
		Memory: &types.MemoryStats{
			Used:       mem.HeapAlloc,
			Total:      mem.Sys,
			Percentage: float64(mem.HeapAlloc) / float64(mem.Sys) * 100,
		},
		Latency: lat,
	}
}
