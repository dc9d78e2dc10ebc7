// Package retry implements RetryScheduler: a cancellable one-shot
// timer per session id, enforcing that at most one timer per session
// id may be outstanding. Timers are not persisted; on restart they are
// recreated when resumeTasks re-invokes startTask.
package retry

import (
	"sync"
	"time"
)

// Scheduler hands out single-timer-per-id scheduling.
type Scheduler struct {
	interval time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New constructs a scheduler whose timers each fire once, interval
// after they are scheduled (10 seconds by default, via
// config.RetryIntervalSeconds).
func New(interval time.Duration) *Scheduler {
	return &Scheduler{interval: interval, timers: make(map[string]*time.Timer)}
}

// Schedule arms (or re-arms) the single outstanding timer for id,
// replacing any prior one. fn runs on its own goroutine when the timer
// fires; the caller is responsible for funnelling fn through the
// coordinator's single logical executor, since Session mutation must
// still be serialized.
func (s *Scheduler) Schedule(id string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(s.interval, fn)
}

// Cancel stops and forgets id's outstanding timer, if any.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// CancelAll stops every outstanding timer (coordinator disconnect).
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
