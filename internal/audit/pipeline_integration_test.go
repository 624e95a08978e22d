//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixora-labs/pixora/internal/config"
	inats "github.com/pixora-labs/pixora/internal/nats"
	"github.com/pixora-labs/pixora/internal/testutil"
)

func TestConsumer_PersistsPublishedEvents(t *testing.T) {
	pool := testutil.StartPostgres(t)
	url := testutil.StartNATS(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := inats.NewClient(ctx, config.NATSConfig{URL: url})
	require.NoError(t, err)
	defer client.Close()

	repo := NewRepository(pool)
	consumer := NewConsumer(repo, inats.NewConsumerManager(client.JetStream()))
	go func() { _ = consumer.Start(ctx) }()

	pub := inats.NewPublisher(client.JetStream())
	now := time.Now().UTC()
	require.NoError(t, pub.PublishJobEvent(ctx, inats.JobEvent{
		JobID:     "job-1",
		UserID:    "u1",
		Kind:      "generate",
		EventType: inats.JobFailed,
		State:     "failed",
		ErrorKind: "provider",
		Timestamp: now,
	}))
	require.NoError(t, pub.PublishQuotaEvent(ctx, inats.QuotaEvent{
		UserID:          "u1",
		Tier:            "free",
		EventType:       inats.QuotaReset,
		Trigger:         "midnight",
		GenerationsLeft: 2,
		UpscalesLeft:    3,
		Timestamp:       now,
	}))

	var entries []Entry
	require.Eventually(t, func() bool {
		entries, _, err = repo.ListByUser(ctx, "u1", DefaultListParams())
		return err == nil && len(entries) == 2
	}, 15*time.Second, 100*time.Millisecond)

	byType := map[string]Entry{}
	for _, e := range entries {
		byType[e.EventType] = e
	}
	assert.Equal(t, "warn", byType[inats.JobFailed].Severity)
	assert.Equal(t, "job-1", byType[inats.JobFailed].ResourceID)
	assert.Equal(t, ResourceQuota, byType[inats.QuotaReset].ResourceType)

	jobsOnly, total, err := repo.ListByUser(ctx, "u1", ListParams{ResourceType: ResourceJob, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, jobsOnly, 1)
}
