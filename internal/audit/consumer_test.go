package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/pixora-labs/pixora/internal/nats"
)

func TestDecode_JobEvent(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	event := inats.JobEvent{
		JobID:      "job-1",
		UserID:     "user-1",
		Kind:       "generate",
		EventType:  inats.JobSucceeded,
		State:      "succeeded",
		ImageCount: 2,
		Timestamp:  ts,
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)

	entry, err := Decode(inats.SubjectJobEvent, data)
	require.NoError(t, err)

	assert.Equal(t, "user-1", entry.UserID)
	assert.Equal(t, inats.JobSucceeded, entry.EventType)
	assert.Equal(t, "info", entry.Severity)
	assert.Equal(t, ResourceJob, entry.ResourceType)
	assert.Equal(t, "job-1", entry.ResourceID)
	assert.True(t, ts.Equal(entry.CreatedAt))

	var details map[string]any
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.Equal(t, "generate", details["kind"])
	assert.Equal(t, float64(2), details["image_count"])
	assert.NotContains(t, details, "error_kind")
}

func TestFromJobEvent_FailureIsWarn(t *testing.T) {
	for _, eventType := range []string{inats.JobFailed, inats.JobReconciled} {
		entry := FromJobEvent(inats.JobEvent{
			JobID:     "job-1",
			UserID:    "user-1",
			EventType: eventType,
			ErrorKind: "provider",
			Message:   "Error generating images",
		})
		assert.Equal(t, "warn", entry.Severity, eventType)

		var details map[string]any
		require.NoError(t, json.Unmarshal(entry.Details, &details))
		assert.Equal(t, "provider", details["error_kind"])
		assert.Equal(t, "Error generating images", details["message"])
	}
}

func TestDecode_QuotaEvent(t *testing.T) {
	event := inats.QuotaEvent{
		UserID:          "user-1",
		Tier:            "free",
		EventType:       inats.QuotaReset,
		Trigger:         "midnight",
		GenerationsLeft: 2,
		UpscalesLeft:    3,
		Timestamp:       time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)

	entry, err := Decode(inats.SubjectQuotaEvent, data)
	require.NoError(t, err)
	assert.Equal(t, ResourceQuota, entry.ResourceType)
	assert.Equal(t, "user-1", entry.ResourceID)

	var details map[string]any
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.Equal(t, "midnight", details["trigger"])
	assert.Equal(t, float64(3), details["upscales_left"])
	assert.NotContains(t, details, "kind")
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(inats.SubjectJobEvent, []byte("{not json"))
	assert.Error(t, err)

	_, err = Decode("pixora.events.unknown", []byte("{}"))
	assert.Error(t, err)
}
