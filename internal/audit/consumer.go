package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/pixora-labs/pixora/internal/nats"
)

const consumerName = "job-event-persister"

// Inserter persists converted events.
type Inserter interface {
	Insert(ctx context.Context, e *Entry) error
}

// Consumer listens on the job and quota event subjects and persists every
// event to the job_events table.
type Consumer struct {
	repo        Inserter
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new audit event Consumer.
func NewConsumer(repo Inserter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName,
		inats.SubjectJobEvent, inats.SubjectQuotaEvent)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	entry, err := Decode(msg.Subject(), msg.Data())
	if err != nil {
		// Malformed payloads never become valid; drop them.
		slog.Error("audit consumer: decoding event", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}

	if err := c.repo.Insert(ctx, entry); err != nil {
		slog.Error("audit consumer: persisting event", "error", err, "event_type", entry.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("audit consumer: persisted event",
		"event_type", entry.EventType,
		"user_id", entry.UserID,
		"resource_id", entry.ResourceID,
	)
}

// Decode converts a raw event published on subject into an Entry.
func Decode(subject string, data []byte) (*Entry, error) {
	switch subject {
	case inats.SubjectJobEvent:
		var event inats.JobEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("unmarshaling job event: %w", err)
		}
		return FromJobEvent(event), nil
	case inats.SubjectQuotaEvent:
		var event inats.QuotaEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("unmarshaling quota event: %w", err)
		}
		return FromQuotaEvent(event), nil
	default:
		return nil, fmt.Errorf("unexpected subject %q", subject)
	}
}

// FromJobEvent converts a job lifecycle event.
func FromJobEvent(event inats.JobEvent) *Entry {
	severity := "info"
	switch event.EventType {
	case inats.JobFailed, inats.JobReconciled:
		severity = "warn"
	}

	details := map[string]any{
		"kind":  event.Kind,
		"state": event.State,
	}
	if event.ErrorKind != "" {
		details["error_kind"] = event.ErrorKind
	}
	if event.Message != "" {
		details["message"] = event.Message
	}
	if event.ImageCount > 0 {
		details["image_count"] = event.ImageCount
	}

	return &Entry{
		ID:           uuid.New(),
		UserID:       event.UserID,
		EventType:    event.EventType,
		Severity:     severity,
		ResourceType: ResourceJob,
		ResourceID:   event.JobID,
		Details:      marshalDetails(details),
		CreatedAt:    event.Timestamp,
	}
}

// FromQuotaEvent converts a quota change.
func FromQuotaEvent(event inats.QuotaEvent) *Entry {
	details := map[string]any{
		"tier":             event.Tier,
		"generations_left": event.GenerationsLeft,
		"upscales_left":    event.UpscalesLeft,
	}
	if event.Kind != "" {
		details["kind"] = event.Kind
	}
	if event.Trigger != "" {
		details["trigger"] = event.Trigger
	}

	return &Entry{
		ID:           uuid.New(),
		UserID:       event.UserID,
		EventType:    event.EventType,
		Severity:     "info",
		ResourceType: ResourceQuota,
		ResourceID:   event.UserID,
		Details:      marshalDetails(details),
		CreatedAt:    event.Timestamp,
	}
}

func marshalDetails(details map[string]any) json.RawMessage {
	data, err := json.Marshal(details)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
