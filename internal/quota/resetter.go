package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pixora-labs/pixora/internal/schedule"
)

const resetTimeout = 10 * time.Second

// Resetter keeps one midnight timer per observed user. Each timer resets the
// user's allowance when it fires and then re-arms for the following day.
// A user not observed since the previous midnight reset still holds a full
// allowance, so their timer is dropped instead; the missed-reset check in
// Observe covers them when they return.
type Resetter struct {
	svc   *Service
	sched *schedule.Scheduler

	mu      sync.Mutex
	tracked map[string]*trackedUser
	stopped bool
}

type trackedUser struct {
	user     User
	handle   *schedule.Handle
	lastSeen time.Time
	// lastFire is the midnight this entry was re-armed from; zero until the
	// first reset.
	lastFire time.Time
}

// NewResetter creates a Resetter and attaches it to svc, so every Observe
// arms the user's next reset.
func NewResetter(svc *Service, sched *schedule.Scheduler) *Resetter {
	r := &Resetter{
		svc:     svc,
		sched:   sched,
		tracked: make(map[string]*trackedUser),
	}
	svc.resetter = r
	return r
}

// Track arms the user's next midnight reset unless one is already armed in
// the same zone.
func (r *Resetter) Track(u User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	now := r.svc.now()
	if t, ok := r.tracked[u.ID]; ok {
		if t.user.Location.String() == u.Location.String() {
			t.user = u
			t.lastSeen = now
			return
		}
		t.handle.Cancel()
	}

	r.armLocked(&trackedUser{user: u, lastSeen: now}, now)
}

// armLocked must be called with r.mu held.
func (r *Resetter) armLocked(t *trackedUser, from time.Time) {
	t.handle = r.sched.ArmNext(from, t.user.Location, func(at time.Time) { r.fire(t, at) })
	r.tracked[t.user.ID] = t
}

func (r *Resetter) fire(t *trackedUser, at time.Time) {
	r.mu.Lock()
	current, ok := r.tracked[t.user.ID]
	if !ok || current != t {
		r.mu.Unlock()
		return
	}
	if !t.lastFire.IsZero() && !t.lastSeen.After(t.lastFire) {
		delete(r.tracked, t.user.ID)
		r.mu.Unlock()
		slog.Debug("quota: user idle since last reset, untracking", "user_id", t.user.ID)
		return
	}
	u := t.user
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	// A failed reset is recovered by the missed-reset check on the next
	// observation, so the timer is re-armed either way.
	if _, err := r.svc.Reset(ctx, u, TriggerMidnight); err != nil {
		slog.Warn("quota: midnight reset failed", "user_id", u.ID, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.tracked[u.ID] != t {
		return
	}
	r.armLocked(&trackedUser{user: t.user, lastSeen: t.lastSeen, lastFire: at}, at)
}

// Len returns the number of users with an armed reset.
func (r *Resetter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

// Untrack cancels the user's pending reset.
func (r *Resetter) Untrack(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tracked[userID]; ok {
		t.handle.Cancel()
		delete(r.tracked, userID)
	}
}

// Pending returns the instant of the user's armed reset.
func (r *Resetter) Pending(userID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracked[userID]
	if !ok {
		return time.Time{}, false
	}
	return t.handle.At(), true
}

// Stop cancels every armed timer. Tracking after Stop is a no-op.
func (r *Resetter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for id, t := range r.tracked {
		t.handle.Cancel()
		delete(r.tracked, id)
	}
	slog.Info("quota: midnight resetter stopped")
}
