package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

func TestFinalize_PersistsAndCleansUp(t *testing.T) {
	runID := "run-1"
	store := newMemStore()
	bus := newMemBus()
	store.seed(&transcriptstore.Transcript{ID: "t-1", Status: transcriptstore.StatusProcessing, WorkflowRunID: &runID})

	objects := newMemObjects()
	objects.put("transcripts", "tmp/t-1/tracks/padded_1.webm", []byte("padded"))
	objects.put("recordings", "a.webm", []byte("source"))

	d := newTestDeps(store, bus, objects, &fakeLLM{}, &fakeASR{})

	merged := []transcriptstore.Word{
		{Text: "Hello", Start: 0, End: 0.5, Speaker: 0},
		{Text: "World", Start: 8, End: 10, Speaker: 1},
	}
	padded := []PaddedTrack{
		// Track 0 passed through unchanged: it lives in the source bucket
		// and must survive finalize.
		{TrackIndex: 0, Bucket: "recordings", PaddedKey: "a.webm"},
		{TrackIndex: 1, Bucket: "transcripts", PaddedKey: "tmp/t-1/tracks/padded_1.webm"},
	}

	err := d.Finalize(context.Background(), runID, "t-1", merged, 10000.0, padded)
	require.NoError(t, err)

	persisted, err := store.GetByID(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, transcriptstore.StatusEnded, persisted.Status)
	assert.Nil(t, persisted.WorkflowRunID, "a finished run disables resume logic")
	require.NotNil(t, persisted.DurationMs)
	assert.Equal(t, int64(10000), *persisted.DurationMs)

	// Padded temp blob is gone; the pass-through source is untouched.
	assert.False(t, objects.exists("transcripts", "tmp/t-1/tracks/padded_1.webm"))
	assert.True(t, objects.exists("recordings", "a.webm"))

	events := bus.published("t-1")
	require.Len(t, events, 3)
	assert.Equal(t, progressbus.KindTranscript, events[0].Event)
	assert.Equal(t, progressbus.KindDuration, events[1].Event)
	assert.Equal(t, progressbus.KindStatus, events[2].Event)

	var transcriptPayload progressbus.TranscriptPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &transcriptPayload))
	assert.Equal(t, "Hello World", transcriptPayload.Text)

	var durationPayload progressbus.DurationPayload
	require.NoError(t, json.Unmarshal(events[1].Data, &durationPayload))
	assert.InDelta(t, 10000.0, durationPayload.Duration, 1e-9)
}

func TestFinalize_RejectsIdleTranscript(t *testing.T) {
	store := newMemStore()
	store.seed(&transcriptstore.Transcript{ID: "t-1", Status: transcriptstore.StatusIdle})
	d := newTestDeps(store, newMemBus(), newMemObjects(), &fakeLLM{}, &fakeASR{})

	err := d.Finalize(context.Background(), "run-1", "t-1", nil, 1000, nil)
	require.Error(t, err)

	persisted, _ := store.GetByID(context.Background(), "t-1")
	assert.Equal(t, transcriptstore.StatusIdle, persisted.Status)
}

func TestFinalize_RerunSuppressesDuplicateEvents(t *testing.T) {
	runID := "run-1"
	store := newMemStore()
	bus := newMemBus()
	store.seed(&transcriptstore.Transcript{ID: "t-1", Status: transcriptstore.StatusProcessing, WorkflowRunID: &runID})
	d := newTestDeps(store, bus, newMemObjects(), &fakeLLM{}, &fakeASR{})

	merged := []transcriptstore.Word{{Text: "hi", Start: 0, End: 1, Speaker: 0}}

	require.NoError(t, d.Finalize(context.Background(), runID, "t-1", merged, 1000, nil))
	// A crashed worker re-drives the task; status is already ended so the
	// idempotent update and event-id dedup keep the log stable.
	require.NoError(t, d.Finalize(context.Background(), runID, "t-1", merged, 1000, nil))

	persisted, _ := store.GetByID(context.Background(), "t-1")
	assert.Len(t, persisted.Events, 3)
	assert.Len(t, bus.published("t-1"), 3)
}
