package nats

import (
	"time"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamEvents holds every job and quota event.
const StreamEvents = "PIXORA_EVENTS"

// Subject constants.
const (
	SubjectEventsAll  = "pixora.events.>"
	SubjectJobEvent   = "pixora.events.jobs"
	SubjectQuotaEvent = "pixora.events.quota"
)

// Event types.
const (
	JobStarted    = "job.started"
	JobSucceeded  = "job.succeeded"
	JobFailed     = "job.failed"
	JobCancelled  = "job.cancelled"
	JobReconciled = "job.reconciled"
	QuotaConsumed = "quota.consumed"
	QuotaReset    = "quota.reset"
	QuotaTier     = "quota.tier_changed"
	QuotaRejected = "quota.rejected"
)

// JobEvent is published on every job lifecycle transition that matters to
// the audit trail.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	EventType  string    `json:"event_type"`
	State      string    `json:"state"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	ImageCount int       `json:"image_count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// QuotaEvent is published when a quota record changes or a request is
// rejected for lack of allowance.
type QuotaEvent struct {
	UserID          string    `json:"user_id"`
	Tier            string    `json:"tier"`
	EventType       string    `json:"event_type"`
	Kind            string    `json:"kind,omitempty"`
	Trigger         string    `json:"trigger,omitempty"` // midnight, missed, tier_change, manual
	GenerationsLeft int       `json:"generations_left"`
	UpscalesLeft    int       `json:"upscales_left"`
	Timestamp       time.Time `json:"timestamp"`
}
