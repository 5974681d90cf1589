// Package scheduler implements the task scheduler and worker pool
// (component B): a priority+dependency queue dispatched across a fixed
// pool of isolated workers with retries and exponential backoff. Grounded
// on aristath-sentinel's internal/queue (ticker-driven enqueue, Priority
// enum) and the atlas trading-backend's internal/workers.Pool (config
// struct, panic recovery, per-task timeout, metrics) — see DESIGN.md.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/logx"
)

// Config tunes the manager's concurrency and timing knobs.
type Config struct {
	MaxQueueSize       int
	MaxConcurrentTasks int
	TickInterval       time.Duration
	ShutdownDeadline   time.Duration
	DefaultTimeoutMs   int
	DefaultMaxRetries  int
}

// DefaultConfig mirrors spec.md §4.2's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:       500,
		MaxConcurrentTasks: 8,
		TickInterval:       1 * time.Second,
		ShutdownDeadline:   30 * time.Second,
		DefaultTimeoutMs:   30_000,
		DefaultMaxRetries:  3,
	}
}

// Manager is the scheduler + worker pool. Workers are modeled as a bounded
// concurrency semaphore: each dispatched task runs in its own goroutine
// under panic recovery, so a crashing or hanging handler cannot corrupt
// manager state — the isolation property spec.md §9 requires, expressed
// with Go's concurrency primitives rather than OS-level process isolation.
type Manager struct {
	cfg     Config
	log     *logx.Logger
	handlers map[domain.TaskType]Handler

	mu        sync.Mutex
	pending   *pendingStore
	completed map[string]bool
	failed    map[string]bool
	all       map[string]*domain.Task
	running   int

	sem      chan struct{}
	stop     chan struct{}
	stopped  bool
	wg       sync.WaitGroup
	tasksWG  sync.WaitGroup // running task executions, for graceful shutdown
	acceptNew bool

	metrics Metrics
}

// Metrics are cumulative scheduler counters exposed to the Engine.
type Metrics struct {
	mu         sync.Mutex
	Scheduled  int64
	Dispatched int64
	Completed  int64
	Failed     int64
	Retried    int64
	TimedOut   int64
	WorkerLost int64
	Rejected   int64
}

func (m *Metrics) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Scheduled: m.Scheduled, Dispatched: m.Dispatched, Completed: m.Completed,
		Failed: m.Failed, Retried: m.Retried, TimedOut: m.TimedOut,
		WorkerLost: m.WorkerLost, Rejected: m.Rejected,
	}
}

// New builds a Manager with a handler registry. Call RegisterHandler before
// Start for every domain.TaskType the deployment needs to run.
func New(cfg Config, log *logx.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log,
		handlers:  make(map[domain.TaskType]Handler),
		pending:   newPendingStore(),
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
		all:       make(map[string]*domain.Task),
		sem:       make(chan struct{}, cfg.MaxConcurrentTasks),
		stop:      make(chan struct{}),
		acceptNew: true,
	}
}

// RegisterHandler wires a handler for a task type.
func (m *Manager) RegisterHandler(t domain.TaskType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = h
}

// Schedule enqueues a task, returning its id. Rejects with ErrQueueFull
// once the pending queue reaches MaxQueueSize (spec.md §4.2).
func (m *Manager) Schedule(cfg TaskConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.acceptNew {
		return "", fmt.Errorf("scheduler is shutting down: %w", ErrQueueFull)
	}
	if m.pending.len() >= m.cfg.MaxQueueSize {
		m.metrics.mu.Lock()
		m.metrics.Rejected++
		m.metrics.mu.Unlock()
		return "", ErrQueueFull
	}

	timeout := cfg.TimeoutMs
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeoutMs
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = m.cfg.DefaultMaxRetries
	}
	scheduledAt := cfg.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}

	task := &domain.Task{
		ID:           uuid.NewString(),
		Type:         cfg.Type,
		Priority:     clampPriority(cfg.Priority),
		Payload:      cfg.Payload,
		MaxRetries:   maxRetries,
		TimeoutMs:    timeout,
		ScheduledAt:  scheduledAt,
		Dependencies: cfg.Dependencies,
		Status:       domain.TaskPending,
		CreatedAt:    time.Now(),
	}

	m.pending.add(task)
	m.all[task.ID] = task
	m.metrics.mu.Lock()
	m.metrics.Scheduled++
	m.metrics.mu.Unlock()
	return task.ID, nil
}

// GetTask returns a copy of a task's current state.
func (m *Manager) GetTask(id string) (domain.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.all[id]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

// Metrics returns a snapshot of cumulative scheduler counters.
func (m *Manager) Metrics() Metrics { return m.metrics.snapshot() }

// Start launches the tick loop in its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.tickLoop(ctx)
}

func (m *Manager) tickLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.dispatchReady()
		}
	}
}

// dispatchReady dispatches as many ready tasks as capacity allows: while a
// worker slot is free and a ready task exists (spec.md §4.2).
func (m *Manager) dispatchReady() {
	for {
		m.mu.Lock()
		if m.running >= m.cfg.MaxConcurrentTasks {
			m.mu.Unlock()
			return
		}
		now := time.Now()
		task := m.pending.selectReady(func(t *domain.Task) bool {
			if now.Before(t.ScheduledAt) {
				return false
			}
			for _, dep := range t.Dependencies {
				if !m.completed[dep] {
					return false
				}
			}
			return true
		})
		if task == nil {
			m.mu.Unlock()
			return
		}
		m.pending.remove(task.ID)
		task.Status = domain.TaskRunning
		task.StartedAt = time.Now()
		m.running++
		m.metrics.mu.Lock()
		m.metrics.Dispatched++
		m.metrics.mu.Unlock()
		m.mu.Unlock()

		select {
		case m.sem <- struct{}{}:
			m.tasksWG.Add(1)
			go m.execute(task)
		default:
			// No free slot despite the running<max check above (a task
			// finished between the check and here); requeue and stop.
			m.mu.Lock()
			task.Status = domain.TaskPending
			m.running--
			m.pending.add(task)
			m.mu.Unlock()
			return
		}
	}
}

type execResult struct {
	output  map[string]any
	err     error
	crashed bool
}

func (m *Manager) execute(task *domain.Task) {
	defer m.tasksWG.Done()
	defer func() { <-m.sem }()

	m.mu.Lock()
	handler, ok := m.handlers[task.Type]
	m.mu.Unlock()
	if !ok {
		m.finish(task, execResult{err: ErrUnknownTaskType})
		return
	}

	resultCh := make(chan execResult, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(task.TimeoutMs)*time.Millisecond)
	defer cancel()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- execResult{crashed: true, err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		out, err := handler(ctx, task)
		resultCh <- execResult{output: out, err: err}
	}()

	select {
	case res := <-resultCh:
		m.finish(task, res)
	case <-ctx.Done():
		m.finish(task, execResult{err: ErrTimedOut})
	}
}

func (m *Manager) finish(task *domain.Task, res execResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running--
	task.CompletedAt = time.Now()

	if res.crashed {
		m.metrics.mu.Lock()
		m.metrics.WorkerLost++
		m.metrics.mu.Unlock()
		task.LastError = ErrWorkerLost.Error()
		m.log.Warn("scheduler.worker_lost", map[string]any{"task_id": task.ID, "type": string(task.Type)})
		m.retryOrFail(task)
		return
	}

	if res.err != nil {
		task.LastError = res.err.Error()
		if res.err == ErrTimedOut {
			m.metrics.mu.Lock()
			m.metrics.TimedOut++
			m.metrics.mu.Unlock()
		}
		m.retryOrFail(task)
		return
	}

	task.Status = domain.TaskCompleted
	m.completed[task.ID] = true
	m.metrics.mu.Lock()
	m.metrics.Completed++
	m.metrics.mu.Unlock()
	m.log.Info("scheduler.task_completed", map[string]any{"task_id": task.ID, "type": string(task.Type)})
}

// retryOrFail applies the exponential-backoff retry rule (spec.md §4.2):
// scheduledAt = now + 1000*2^retryCount ms, re-enqueued as PENDING, until
// maxRetries is exceeded.
func (m *Manager) retryOrFail(task *domain.Task) {
	if task.RetryCount >= task.MaxRetries {
		task.Status = domain.TaskFailed
		m.failed[task.ID] = true
		m.metrics.mu.Lock()
		m.metrics.Failed++
		m.metrics.mu.Unlock()
		m.log.Warn("scheduler.task_failed", map[string]any{"task_id": task.ID, "type": string(task.Type), "error": task.LastError})
		return
	}

	task.RetryCount++
	backoff := time.Duration(1000*pow2(task.RetryCount)) * time.Millisecond
	task.ScheduledAt = time.Now().Add(backoff)
	task.Status = domain.TaskPending
	m.pending.add(task)
	m.metrics.mu.Lock()
	m.metrics.Retried++
	m.metrics.mu.Unlock()
}

func pow2(n int) int64 {
	r := int64(1)
	for i := 0; i < n; i++ {
		r *= 2
	}
	return r
}

// Shutdown stops accepting new tasks, waits up to the configured deadline
// for in-flight tasks to finish, then returns — the sequential protocol
// spec.md §4.2 requires (never an abrupt stop).
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.acceptNew = false
	m.stopped = true
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait() // tick loop exits

	done := make(chan struct{})
	go func() {
		m.tasksWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("scheduler.shutdown", map[string]any{"clean": true})
		return nil
	case <-time.After(m.cfg.ShutdownDeadline):
		m.log.Warn("scheduler.shutdown", map[string]any{"clean": false, "reason": "deadline exceeded with tasks still running"})
		return fmt.Errorf("scheduler shutdown deadline exceeded")
	}
}
