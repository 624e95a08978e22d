package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrNotCancellable   = errors.New("job can no longer be cancelled")
	ErrRegistryShutdown = errors.New("job registry is shut down")
)

// Registry holds live and recently finished jobs in memory. Jobs are
// transient; a terminal job is dropped once its outcome was observed or the
// retention period has passed.
type Registry struct {
	retention time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool
}

// NewRegistry creates a registry keeping unobserved terminal jobs for
// retention.
func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Registry{
		retention: retention,
		now:       time.Now,
		jobs:      make(map[string]*Job),
	}
}

func (r *Registry) add(j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryShutdown
	}
	r.jobs[j.ID] = j
	return nil
}

// Get returns the job owned by userID. Jobs of other users are reported as
// missing.
func (r *Registry) Get(id, userID string) (*Job, error) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok || j.UserID != userID {
		return nil, ErrJobNotFound
	}
	return j, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Sweep drops collectable jobs and returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, j := range r.jobs {
		if j.collectable(now, r.retention) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Debug("jobs: swept finished jobs", "removed", n, "remaining", r.Len())
			}
		}
	}
}

// Shutdown refuses new jobs and cancels every live one. It returns once all
// of them reached a terminal state or ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		live = append(live, j)
	}
	r.mu.Unlock()

	for _, j := range live {
		j.cancel()
	}
	for _, j := range live {
		select {
		case <-j.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
