package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLog is an in-process Log. The job, handler and cache tests use it in
// place of the Postgres repository.
type MemoryLog struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]Entry)}
}

func (m *MemoryLog) Append(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.Images = append([]string(nil), e.Images...)
	m.entries[e.UserID] = append(m.entries[e.UserID], cp)
	return nil
}

func (m *MemoryLog) Recent(ctx context.Context, userID string, n int, order Order) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	all := m.entries[userID]
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]Entry, len(all))
	copy(out, all)
	m.mu.RUnlock()

	if order == NewestFirst {
		reverse(out)
	}
	return out, nil
}

// Len returns the number of entries stored for userID.
func (m *MemoryLog) Len(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[userID])
}
