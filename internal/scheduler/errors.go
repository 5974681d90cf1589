package scheduler

import "errors"

// Sentinel errors for the scheduler's ResourceExhaustion / timeout /
// worker-isolation failure modes (spec.md §4.2, §7).
var (
	ErrQueueFull       = errors.New("QUEUE_FULL")
	ErrTimedOut        = errors.New("TIMED_OUT")
	ErrWorkerLost      = errors.New("WORKER_LOST")
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrUnknownTask     = errors.New("unknown task id")
)
