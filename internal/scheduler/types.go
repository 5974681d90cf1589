package scheduler

import (
	"context"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// TaskConfig is the caller-facing request to Schedule a Task.
type TaskConfig struct {
	Type         domain.TaskType
	Priority     int // 1-10, higher first; clamped into range
	Payload      map[string]any
	TimeoutMs    int
	MaxRetries   int
	ScheduledAt  time.Time // zero means "now"
	Dependencies []string
}

// Handler executes one task type. It must respect ctx's deadline; the
// scheduler treats a late return as TIMED_OUT regardless of whether the
// handler eventually finishes (the goroutine running it is abandoned).
type Handler func(ctx context.Context, task *domain.Task) (map[string]any, error)

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}
