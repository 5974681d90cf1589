package engine

import (
	"context"
	"time"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/scheduler"
)

// registerRecurringTasks starts one re-submission loop per recurring job
// family spec.md §4.6 names. The scheduler itself only runs one-shot
// tasks; recurrence is the Engine re-scheduling the next occurrence on
// its own ticker, the same "periodic re-enqueue" shape the teacher's
// main.go uses for CoinManager's polling loops.
func (e *Engine) registerRecurringTasks(ctx context.Context) {
	if len(e.cfg.WatchlistAddresses) > 0 && e.cfg.BalanceCheckInterval > 0 {
		for _, addr := range e.cfg.WatchlistAddresses {
			e.wg.Add(1)
			go e.recur(ctx, e.cfg.BalanceCheckInterval, func() {
				_, _ = e.sched.Schedule(scheduler.TaskConfig{
					Type:     domain.TaskWhaleBalanceCheck,
					Priority: 3,
					Payload:  map[string]any{"address": addr},
				})
			})
		}
	}

	if e.cfg.SystemHealthInterval > 0 {
		e.wg.Add(1)
		go e.recur(ctx, e.cfg.SystemHealthInterval, func() {
			_, _ = e.sched.Schedule(scheduler.TaskConfig{Type: domain.TaskSystemHealthCheck, Priority: 5})
		})
	}

	if len(e.cfg.APIHealthURLs) > 0 && e.cfg.APIHealthInterval > 0 {
		for _, url := range e.cfg.APIHealthURLs {
			e.wg.Add(1)
			go e.recur(ctx, e.cfg.APIHealthInterval, func() {
				_, _ = e.sched.Schedule(scheduler.TaskConfig{
					Type:     domain.TaskAPIHealthCheck,
					Priority: 4,
					Payload:  map[string]any{"url": url},
				})
			})
		}
	}

	if e.cfg.MemoryCleanupInterval > 0 {
		e.wg.Add(1)
		go e.recur(ctx, e.cfg.MemoryCleanupInterval, func() {
			_, _ = e.sched.Schedule(scheduler.TaskConfig{Type: domain.TaskMemoryCleanup, Priority: 2})
		})
	}
}

func (e *Engine) recur(ctx context.Context, interval time.Duration, submit func()) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			submit()
		}
	}
}
