// Package pipeline implements the MultitrackPipeline DAG: every task and
// subflow from the recording manifest through Finalize, CleanupConsent,
// and the outbound notifications, wired onto taskgraph.
package pipeline

import (
	"context"
	"fmt"
)

// Track is one participant's recorded audio, identified by its key in the
// manifest's bucket.
type Track struct {
	S3Key string `json:"s3_key"`
}

// Manifest is the pipeline's input, immutable for the life of a workflow
// run.
type Manifest struct {
	RecordingID      string  `json:"recording_id"`
	MeetingSessionID *string `json:"meeting_session_id,omitempty"`
	Bucket           string  `json:"bucket"`
	Tracks           []Track `json:"tracks"`
	TranscriptID     string  `json:"transcript_id"`
	RoomID           *string `json:"room_id,omitempty"`
}

// RosterParticipant is one entry from the video conferencing platform's
// participant roster. Order corresponds to Manifest.Tracks order.
type RosterParticipant struct {
	ID          string
	DisplayName string
	UserID      *string
}

// ParticipantRoster fetches the roster for a recording manifest. The
// video conferencing platform behind it is external; this interface is
// the contract the pipeline depends on.
type ParticipantRoster interface {
	GetParticipants(ctx context.Context, manifest Manifest) ([]RosterParticipant, error)
}

// ConsentRecord reports whether a participant consented to recording
// retention.
type ConsentRecord struct {
	ParticipantID string
	Denied        bool
}

// ConsentProvider fetches a meeting's consent records from the external
// meeting platform.
type ConsentProvider interface {
	GetConsent(ctx context.Context, meetingSessionID string) ([]ConsentRecord, error)
}

// StaticRoster is the fallback ParticipantRoster when no meeting platform
// is wired: one synthetic participant per track.
type StaticRoster struct{}

// GetParticipants implements ParticipantRoster.
func (StaticRoster) GetParticipants(_ context.Context, manifest Manifest) ([]RosterParticipant, error) {
	out := make([]RosterParticipant, len(manifest.Tracks))
	for i := range manifest.Tracks {
		out[i] = RosterParticipant{
			ID:          fmt.Sprintf("%s-speaker-%d", manifest.RecordingID, i),
			DisplayName: fmt.Sprintf("Speaker %d", i),
		}
	}
	return out, nil
}

// NoConsentRecords is the fallback ConsentProvider: every participant is
// treated as consenting, making CleanupConsent a no-op.
type NoConsentRecords struct{}

// GetConsent implements ConsentProvider.
func (NoConsentRecords) GetConsent(context.Context, string) ([]ConsentRecord, error) {
	return nil, nil
}
