package sched

import (
	"sync"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"go.uber.org/zap"
)

// Purpose tags a timer so a subject can carry independent deadlines.
type Purpose string

const (
	PurposeReadiness Purpose = "READINESS"
	PurposeDuration  Purpose = "DURATION"
)

type key struct {
	subject string
	purpose Purpose
}

type entry struct {
	timer *time.Timer
	fn    func()
}

// Scheduler is a keyed one-shot timer facility. At most one live timer exists
// per (subject, purpose) pair; Cancel and ForceFire are safe against timers
// that already fired.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[key]*entry
	stopped bool
}

func New() *Scheduler {
	return &Scheduler{timers: make(map[key]*entry)}
}

// Arm schedules fn to run after delay. Returns false without rearming when a
// live timer already exists for the pair or the scheduler is stopped.
func (s *Scheduler) Arm(subject string, purpose Purpose, delay time.Duration, fn func()) bool {
	if s == nil || fn == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	k := key{subject: subject, purpose: purpose}
	if _, ok := s.timers[k]; ok {
		return false
	}
	e := &entry{fn: fn}
	e.timer = time.AfterFunc(delay, func() { s.fire(k) })
	s.timers[k] = e
	return true
}

// Cancel stops the pending timer for the pair. Cancelling an absent,
// already-fired or already-cancelled timer is a no-op returning false.
func (s *Scheduler) Cancel(subject string, purpose Purpose) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	k := key{subject: subject, purpose: purpose}
	e, ok := s.timers[k]
	if ok {
		delete(s.timers, k)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()
	return true
}

// ForceFire cancels any pending timer for the pair and invokes its callback
// synchronously. Returns false when no timer was registered.
func (s *Scheduler) ForceFire(subject string, purpose Purpose) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	k := key{subject: subject, purpose: purpose}
	e, ok := s.timers[k]
	if ok {
		delete(s.timers, k)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()
	s.invoke(k, e.fn)
	return true
}

// Stop cancels all pending timers and rejects further Arm calls.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.stopped = true
	entries := s.timers
	s.timers = make(map[key]*entry)
	s.mu.Unlock()
	for _, e := range entries {
		e.timer.Stop()
	}
}

func (s *Scheduler) fire(k key) {
	s.mu.Lock()
	e, ok := s.timers[k]
	if ok {
		delete(s.timers, k)
	}
	s.mu.Unlock()
	// Lost a race against Cancel/ForceFire after AfterFunc triggered.
	if !ok {
		return
	}
	s.invoke(k, e.fn)
}

// invoke isolates callback panics so a broken handler cannot take the
// scheduler (or the firing goroutine's siblings) down with it.
func (s *Scheduler) invoke(k key, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("timer_callback_panic",
				zap.String("subject", k.subject),
				zap.String("purpose", string(k.purpose)),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
