package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// HeaderEventType carries the event type so consumers can route without
// decoding the body.
const HeaderEventType = "Pixora-Event-Type"

// Publisher writes job and quota events to the event stream. Each message
// carries a Nats-Msg-Id derived from the event, so a retried publish inside
// the stream's duplicate window is stored once.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishJobEvent publishes a job lifecycle transition. A job emits each
// event type at most once, so job id and type identify the message.
func (p *Publisher) PublishJobEvent(ctx context.Context, event JobEvent) error {
	return p.publish(ctx, SubjectJobEvent, event.EventType, event.JobID+":"+event.EventType, event)
}

// PublishQuotaEvent publishes a quota change or rejection.
func (p *Publisher) PublishQuotaEvent(ctx context.Context, event QuotaEvent) error {
	id := event.UserID + ":" + event.EventType + ":" + strconv.FormatInt(event.Timestamp.UnixNano(), 10)
	return p.publish(ctx, SubjectQuotaEvent, event.EventType, id, event)
}

func (p *Publisher) publish(ctx context.Context, subject, eventType, msgID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", eventType, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(HeaderEventType, eventType)

	if _, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", eventType, subject, err)
	}
	return nil
}
