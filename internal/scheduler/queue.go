package scheduler

import (
	"github.com/marketpulse/engine/internal/domain"
)

// pendingStore holds every task that hasn't been dispatched yet. Readiness
// depends on wall-clock time and on other tasks' completion, both of which
// change between ticks, so selection re-scans the whole set each time
// rather than keeping a priority heap whose ordering would go stale the
// moment a dependency completes. Task counts here are periodic-job scale
// (tens, not millions), so an O(n) scan per tick is the right trade.
type pendingStore struct {
	tasks map[string]*domain.Task
	seq   map[string]int64
	next  int64
}

func newPendingStore() *pendingStore {
	return &pendingStore{tasks: make(map[string]*domain.Task), seq: make(map[string]int64)}
}

func (p *pendingStore) add(t *domain.Task) {
	p.next++
	p.tasks[t.ID] = t
	p.seq[t.ID] = p.next
}

func (p *pendingStore) remove(id string) {
	delete(p.tasks, id)
	delete(p.seq, id)
}

func (p *pendingStore) len() int { return len(p.tasks) }

// selectReady returns the highest-priority ready task: now >= scheduledAt
// and every dependency id is in completed. Ties break by earlier
// scheduledAt, then by insertion order (spec.md §4.2, testable property #7).
func (p *pendingStore) selectReady(isReady func(*domain.Task) bool) *domain.Task {
	var best *domain.Task
	var bestSeq int64
	for id, t := range p.tasks {
		if !isReady(t) {
			continue
		}
		if best == nil || better(t, p.seq[id], best, bestSeq) {
			best = t
			bestSeq = p.seq[id]
		}
	}
	return best
}

func better(a *domain.Task, aSeq int64, b *domain.Task, bSeq int64) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return aSeq < bSeq
}
