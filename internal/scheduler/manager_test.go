package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/logx"
)

func newTestManager(t *testing.T) *Manager {
	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.MaxConcurrentTasks = 2
	m := New(cfg, logx.New(logx.WithMinLevel(logx.LevelDebug)))
	return m
}

func TestScheduleRejectsWhenQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 1
	m := New(cfg, logx.New())

	_, err := m.Schedule(TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 5})
	require.NoError(t, err)

	_, err = m.Schedule(TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 5})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDispatchOrdersByPriorityThenScheduledAt(t *testing.T) {
	m := newTestManager(t)
	executed := make(chan string, 10)
	m.RegisterHandler(domain.TaskSystemHealthCheck, func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		executed <- task.ID
		return nil, nil
	})

	lowID, _ := m.Schedule(TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 1})
	highID, _ := m.Schedule(TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 9})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	var first, second string
	select {
	case first = <-executed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first task")
	}
	select {
	case second = <-executed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second task")
	}

	assert.Equal(t, highID, first, "higher priority task must dispatch first")
	assert.Equal(t, lowID, second)
}

func TestDependencyGatesReadiness(t *testing.T) {
	m := newTestManager(t)
	var order []string
	done := make(chan struct{}, 2)
	m.RegisterHandler(domain.TaskSystemHealthCheck, func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		order = append(order, task.ID)
		done <- struct{}{}
		return nil, nil
	})

	parentID, _ := m.Schedule(TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 1})
	childID, _ := m.Schedule(TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 10, Dependencies: []string{parentID}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	<-done
	<-done

	require.Len(t, order, 2)
	assert.Equal(t, parentID, order[0], "dependency must run before dependent task even though it has lower priority")
	assert.Equal(t, childID, order[1])
}

func TestRetryBackoffOnFailure(t *testing.T) {
	m := newTestManager(t)
	attempts := make(chan int, 5)
	count := 0
	m.RegisterHandler(domain.TaskSystemHealthCheck, func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		count++
		attempts <- count
		return nil, assertErr
	})

	id, _ := m.Schedule(TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 5, MaxRetries: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	<-attempts // first attempt fails, schedules retry ~2s out

	task, ok := m.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, 1, task.RetryCount)
}

func TestTimeoutFailsTask(t *testing.T) {
	m := newTestManager(t)
	// A TaskConfig.MaxRetries of 0 falls back to the manager default, so
	// retries are turned off here at the manager level.
	m.cfg.DefaultMaxRetries = 0
	released := make(chan struct{})
	m.RegisterHandler(domain.TaskSystemHealthCheck, func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		<-ctx.Done()
		close(released)
		return nil, nil
	})

	id, _ := m.Schedule(TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 5, TimeoutMs: 20, MaxRetries: 0})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	<-released

	// Give finish() a moment to run after ctx.Done fires on both sides.
	time.Sleep(50 * time.Millisecond)
	task, ok := m.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, domain.TaskFailed, task.Status)
	assert.Equal(t, ErrTimedOut.Error(), task.LastError)
}

func TestShutdownWaitsForRunningTasks(t *testing.T) {
	m := newTestManager(t)
	started := make(chan struct{})
	finish := make(chan struct{})
	m.RegisterHandler(domain.TaskSystemHealthCheck, func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		close(started)
		<-finish
		return nil, nil
	})

	_, _ = m.Schedule(TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	<-started

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- m.Shutdown(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	close(finish)

	select {
	case err := <-shutdownDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not wait for running task")
	}
}

var assertErr = &testError{"handler failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
