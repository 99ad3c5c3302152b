package pipeline

import (
	"context"
	"time"

	"github.com/Monadical-SAS/reflector/objectstore"
	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/remoteasr"
	"github.com/Monadical-SAS/reflector/remotellm"
	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// Deps bundles every collaborator a MultitrackPipeline run needs. Workers
// construct one fresh Deps per process rather than relying on ambient
// module-level clients, so forked workers never share connection pools.
type Deps struct {
	Engine   *taskgraph.Engine
	Store    transcriptstore.Store
	Bus      progressbus.Bus
	Objects  objectstore.Store
	ASR      remoteasr.Service
	LLM      remotellm.Service
	Roster   ParticipantRoster
	Consent  ConsentProvider
	Notifier Notifier
	Webhook  WebhookSender

	TranscriptBucket string
	DataDir          string
	WebhookSecret    string

	PresignTTL          time.Duration
	WaveformSegments    int
	TopicChunkWordCount int
}

// Notifier posts/updates a single chat message per transcript.
type Notifier interface {
	Notify(ctx context.Context, transcript *transcriptstore.Transcript) (messageID string, err error)
}

// WebhookSender delivers the completion webhook.
type WebhookSender interface {
	Send(ctx context.Context, roomSecret string, transcript *transcriptstore.Transcript, includeAudio bool) error
}
