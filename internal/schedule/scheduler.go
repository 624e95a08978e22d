// Package schedule arms one-shot timers at local day boundaries.
//
// A Scheduler never loops on its own: every ArmNext call fires its callback
// at most once, and the owner decides whether to re-arm from inside it.
package schedule

import (
	"sync"
	"time"
)

// Timer is the part of *time.Timer a Scheduler needs.
type Timer interface {
	Stop() bool
}

// Scheduler arms midnight timers.
type Scheduler struct {
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) Timer
}

// New returns a Scheduler driven by the wall clock.
func New() *Scheduler {
	return &Scheduler{
		now: time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
}

// NewWithClock returns a Scheduler driven by the given clock and timer
// factory.
func NewWithClock(now func() time.Time, afterFunc func(d time.Duration, f func()) Timer) *Scheduler {
	return &Scheduler{now: now, afterFunc: afterFunc}
}

// NextMidnight returns the start of the calendar day after now, in loc.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Handle is the cancellation handle of one armed timer.
type Handle struct {
	mu    sync.Mutex
	at    time.Time
	timer Timer
	done  bool
	fired bool
}

// At is the instant the timer is armed for.
func (h *Handle) At() time.Time {
	return h.at
}

// Cancel stops the timer. It reports false when the timer already fired or
// was cancelled before.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	if h.timer != nil {
		h.timer.Stop()
	}
	return true
}

// Fired reports whether the callback has run.
func (h *Handle) Fired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}

// ArmNext schedules onFire to run once at NextMidnight(now, loc).
func (s *Scheduler) ArmNext(now time.Time, loc *time.Location, onFire func(at time.Time)) *Handle {
	h := &Handle{at: NextMidnight(now, loc)}
	h.mu.Lock()
	defer h.mu.Unlock()
	s.schedule(h, h.at.Sub(now), onFire)
	return h
}

// schedule must be called with h.mu held.
func (s *Scheduler) schedule(h *Handle, d time.Duration, onFire func(time.Time)) {
	h.timer = s.afterFunc(d, func() { s.fire(h, onFire) })
}

func (s *Scheduler) fire(h *Handle, onFire func(time.Time)) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	// Timers can wake early when the clock is adjusted; wait out the rest.
	if now := s.now(); now.Before(h.at) {
		s.schedule(h, h.at.Sub(now), onFire)
		h.mu.Unlock()
		return
	}
	h.done = true
	h.fired = true
	h.mu.Unlock()

	onFire(h.at)
}
