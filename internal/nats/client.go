package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pixora-labs/pixora/internal/config"
)

const (
	clientName = "pixora-api"

	// eventRetention bounds how long unconsumed events stay in the stream.
	// The audit consumer copies them into Postgres long before that.
	eventRetention = 72 * time.Hour

	// duplicateWindow must exceed the publisher's retry horizon so a
	// republished event with the same Nats-Msg-Id is dropped.
	duplicateWindow = 2 * time.Minute
)

// Client owns the NATS connection and its JetStream context.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient connects to cfg.URL and makes sure the event stream exists. The
// connection keeps retrying in the background after a disconnect.
func NewClient(ctx context.Context, cfg config.NATSConfig) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(clientName),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats: disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats: reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats: connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	c := &Client{conn: nc, js: js}
	if err := c.ensureEventStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	slog.Info("nats: connected", "url", cfg.URL, "stream", StreamEvents)
	return c, nil
}

// ensureEventStream creates or updates the stream carrying job and quota
// events.
func (c *Client) ensureEventStream(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamEvents,
		Description: "job lifecycle and quota events",
		Subjects:    []string{SubjectEventsAll},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		MaxAge:      eventRetention,
		Duplicates:  duplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("ensuring stream %s: %w", StreamEvents, err)
	}
	return nil
}

func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Healthy reports whether the connection is up. A nil client is unhealthy.
func (c *Client) Healthy() bool {
	return c != nil && c.conn.IsConnected()
}

// Close drains pending publishes and subscriptions, then closes.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		slog.Warn("nats: drain failed", "error", err)
	}
}
