package progressbus

import "encoding/json"

// Kind is the tagged-union discriminator for a ProgressEvent.
type Kind string

const (
	KindStatus           Kind = "STATUS"
	KindTopic            Kind = "TOPIC"
	KindFinalTitle       Kind = "FINAL_TITLE"
	KindFinalLongSummary Kind = "FINAL_LONG_SUMMARY"
	KindFinalShortSumm   Kind = "FINAL_SHORT_SUMMARY"
	KindDuration         Kind = "DURATION"
	KindWaveform         Kind = "WAVEFORM"
	KindTranscript       Kind = "TRANSCRIPT"
	KindActionItems      Kind = "ACTION_ITEMS"
)

// Event is one entry in a transcript's append-only event log, and the wire
// shape broadcast to ProgressBus subscribers:
//
//	{ "event": "TOPIC", "data": {...} }
type Event struct {
	// ID is a stable, replay-invariant identifier: (task_name,
	// transcript_id, attempt-invariant-id). Used to suppress duplicate
	// publishes when a task is re-driven after a crash.
	ID string `json:"id"`
	// Event is the Kind as transmitted on the wire.
	Event Kind `json:"event"`
	// Data is the kind-specific payload, already JSON-encoded so the bus
	// never needs to know the payload shapes.
	Data json.RawMessage `json:"data"`
}

// StatusPayload is the Data for KindStatus.
type StatusPayload struct {
	Value string `json:"value"` // "processing" | "ended" | "error"
}

// FinalTitlePayload is the Data for KindFinalTitle.
type FinalTitlePayload struct {
	Title string `json:"title"`
}

// FinalShortSummaryPayload is the Data for KindFinalShortSumm.
type FinalShortSummaryPayload struct {
	ShortSummary string `json:"short_summary"`
}

// FinalLongSummaryPayload is the Data for KindFinalLongSummary.
type FinalLongSummaryPayload struct {
	LongSummary string `json:"long_summary"`
}

// ActionItemsPayload is the Data for KindActionItems.
type ActionItemsPayload struct {
	ActionItems ActionItems `json:"action_items"`
}

// ActionItems is the structured output of IdentifyActionItems.
type ActionItems struct {
	Decisions []string `json:"decisions"`
	NextSteps []string `json:"next_steps"`
}

// TranscriptPayload is the Data for KindTranscript.
type TranscriptPayload struct {
	Text        string  `json:"text"`
	Translation *string `json:"translation,omitempty"`
}

// DurationPayload is the Data for KindDuration.
type DurationPayload struct {
	Duration float64 `json:"duration"` // milliseconds
}

// WaveformPayload is the Data for KindWaveform.
type WaveformPayload struct {
	Waveform []float64 `json:"waveform"`
}
