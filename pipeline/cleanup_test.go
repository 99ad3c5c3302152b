package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monadical-SAS/reflector/transcriptstore"
)

func consentManifest() Manifest {
	session := "sess-1"
	return Manifest{
		RecordingID:      "rec-1",
		MeetingSessionID: &session,
		Bucket:           "recordings",
		Tracks:           []Track{{S3Key: "a.webm"}, {S3Key: "b.webm"}},
		TranscriptID:     "t-1",
	}
}

func TestCleanupConsent_DenialDeletesAudio(t *testing.T) {
	store := newMemStore()
	store.seed(&transcriptstore.Transcript{ID: "t-1", Status: transcriptstore.StatusEnded})
	objects := newMemObjects()
	objects.put("recordings", "a.webm", []byte("a"))
	objects.put("recordings", "b.webm", []byte("b"))
	objects.put("transcripts", "t-1/audio.mp3", []byte("mp3"))

	d := newTestDeps(store, newMemBus(), objects, &fakeLLM{}, &fakeASR{})
	d.Consent = &fakeConsent{records: []ConsentRecord{{ParticipantID: "p1", Denied: true}}}

	err := d.CleanupConsent(context.Background(), "run-1", consentManifest(), "t-1/audio.mp3")
	require.NoError(t, err)

	assert.False(t, objects.exists("recordings", "a.webm"))
	assert.False(t, objects.exists("recordings", "b.webm"))
	assert.False(t, objects.exists("transcripts", "t-1/audio.mp3"))

	persisted, _ := store.GetByID(context.Background(), "t-1")
	assert.True(t, persisted.AudioDeleted)
	// Status stays ended: consent cleanup is not a failure path.
	assert.Equal(t, transcriptstore.StatusEnded, persisted.Status)
}

func TestCleanupConsent_ApprovalIsNoOp(t *testing.T) {
	store := newMemStore()
	store.seed(&transcriptstore.Transcript{ID: "t-1"})
	objects := newMemObjects()
	objects.put("recordings", "a.webm", []byte("a"))

	d := newTestDeps(store, newMemBus(), objects, &fakeLLM{}, &fakeASR{})
	d.Consent = &fakeConsent{records: []ConsentRecord{{ParticipantID: "p1", Denied: false}}}

	err := d.CleanupConsent(context.Background(), "run-1", consentManifest(), "t-1/audio.mp3")
	require.NoError(t, err)

	assert.True(t, objects.exists("recordings", "a.webm"))
	persisted, _ := store.GetByID(context.Background(), "t-1")
	assert.False(t, persisted.AudioDeleted)
}

func TestCleanupConsent_PartialFailureLeavesFlagUnset(t *testing.T) {
	store := newMemStore()
	store.seed(&transcriptstore.Transcript{ID: "t-1"})
	objects := newMemObjects()
	objects.put("recordings", "a.webm", []byte("a"))
	objects.put("recordings", "b.webm", []byte("b"))
	objects.put("transcripts", "t-1/audio.mp3", []byte("mp3"))
	objects.failDeletes = map[string]error{"recordings/b.webm": errors.New("transient s3 failure")}

	d := newTestDeps(store, newMemBus(), objects, &fakeLLM{}, &fakeASR{})
	d.Consent = &fakeConsent{records: []ConsentRecord{{ParticipantID: "p1", Denied: true}}}

	// The task completes with a warning: retries converge later.
	err := d.CleanupConsent(context.Background(), "run-1", consentManifest(), "t-1/audio.mp3")
	require.NoError(t, err)

	persisted, _ := store.GetByID(context.Background(), "t-1")
	assert.False(t, persisted.AudioDeleted, "flag only set after every deletion succeeds")
}

func TestCleanupConsent_NoSessionIsNoOp(t *testing.T) {
	store := newMemStore()
	store.seed(&transcriptstore.Transcript{ID: "t-1"})
	d := newTestDeps(store, newMemBus(), newMemObjects(), &fakeLLM{}, &fakeASR{})
	consent := &fakeConsent{err: errors.New("should not be called")}
	d.Consent = consent

	manifest := consentManifest()
	manifest.MeetingSessionID = nil
	err := d.CleanupConsent(context.Background(), "run-1", manifest, "t-1/audio.mp3")
	require.NoError(t, err)
}
