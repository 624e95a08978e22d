package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one successful generate job.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	JobID     string    `json:"job_id,omitempty"`
	Prompt    string    `json:"prompt"`
	Style     string    `json:"style,omitempty"`
	Quality   string    `json:"quality"`
	Images    []string  `json:"images"`
	CreatedAt time.Time `json:"timestamp"`
}

// Order selects how Recent sorts its result.
type Order string

const (
	OldestFirst Order = "oldest"
	NewestFirst Order = "newest"
)

// ParseOrder defaults to newest-first.
func ParseOrder(s string) Order {
	if Order(s) == OldestFirst {
		return OldestFirst
	}
	return NewestFirst
}

// View names a fixed window over the log.
type View string

const (
	ViewTrend  View = "trend"
	ViewDetail View = "detail"
	ViewAll    View = "all"
)

const (
	TrendSize  = 30
	DetailSize = 5
)

// Size returns how many entries the view reads. Zero means all of them.
func (v View) Size() int {
	switch v {
	case ViewTrend:
		return TrendSize
	case ViewDetail:
		return DetailSize
	}
	return 0
}

// ParseView reports false for unknown views.
func ParseView(s string) (View, bool) {
	switch View(s) {
	case "":
		return ViewDetail, true
	case ViewTrend, ViewDetail, ViewAll:
		return View(s), true
	}
	return "", false
}

// Log is the append-only record of generated images.
type Log interface {
	// Append stores e. There is no dedup and no cap.
	Append(ctx context.Context, e *Entry) error
	// Recent returns the last n entries for a user, or all of them when n
	// is not positive.
	Recent(ctx context.Context, userID string, n int, order Order) ([]Entry, error)
}

// Favorite is an image the user pinned.
type Favorite struct {
	UserID    string    `json:"user_id"`
	ImageURL  string    `json:"image_url"`
	Prompt    string    `json:"prompt,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AddFavoriteRequest struct {
	ImageURL string `json:"image_url" validate:"required,url"`
	Prompt   string `json:"prompt" validate:"max=2000"`
}

// reverse flips entries in place.
func reverse(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
