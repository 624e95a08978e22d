package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry matches the job_events table schema.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id"`
	EventType    string          `json:"event_type"`
	Severity     string          `json:"severity"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Resource types.
const (
	ResourceJob   = "job"
	ResourceQuota = "quota"
)

// ListParams holds pagination and filtering parameters for event queries.
type ListParams struct {
	EventType    string
	ResourceType string
	ResourceID   string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}
