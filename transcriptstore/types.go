// Package transcriptstore is the persistent store of Transcript
// aggregates: status, participants, topics, the append-only event log,
// duration, summaries, and the workflow run id used to drive crash
// recovery. Backed by Postgres via gorm.
package transcriptstore

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/Monadical-SAS/reflector/progressbus"
)

// Status is the Transcript lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusEnded      Status = "ended"
	StatusError      Status = "error"
)

// AudioLocation records where the mixed audio currently lives.
type AudioLocation string

const (
	AudioLocationLocal   AudioLocation = "local"
	AudioLocationStorage AudioLocation = "storage"
)

// EventLog is a JSON-encoded, gorm-persisted slice of progressbus.Event,
// appended to transactionally alongside whatever field update produced
// each event.
type EventLog []progressbus.Event

// Value implements driver.Valuer.
func (l EventLog) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *EventLog) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, l)
}

// JSONWords is a JSON-encoded column for a topic's word window.
type JSONWords []Word

// Word is the merged, speaker-attributed word used throughout the
// pipeline. Timestamps are meeting-global seconds.
type Word struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker int     `json:"speaker"`
}

// Value implements driver.Valuer.
func (w JSONWords) Value() (driver.Value, error) {
	if w == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(w)
}

// Scan implements sql.Scanner.
func (w *JSONWords) Scan(value any) error {
	if value == nil {
		*w = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil
	}
	if len(b) == 0 {
		*w = nil
		return nil
	}
	return json.Unmarshal(b, w)
}

// ActionItemsColumn is a nullable JSON column for the structured action
// items output.
type ActionItemsColumn struct {
	progressbus.ActionItems
	Valid bool
}

// Value implements driver.Valuer.
func (a ActionItemsColumn) Value() (driver.Value, error) {
	if !a.Valid {
		return nil, nil
	}
	return json.Marshal(a.ActionItems)
}

// Scan implements sql.Scanner.
func (a *ActionItemsColumn) Scan(value any) error {
	if value == nil {
		*a = ActionItemsColumn{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil
	}
	if len(b) == 0 {
		*a = ActionItemsColumn{}
		return nil
	}
	if err := json.Unmarshal(b, &a.ActionItems); err != nil {
		return err
	}
	a.Valid = true
	return nil
}

// Transcript is the aggregate root.
type Transcript struct {
	ID     string `gorm:"primaryKey"`
	Name   string
	Status Status `gorm:"index"`

	SourceLanguage string
	TargetLanguage string
	MeetingID      string `gorm:"index"`
	ShareMode      string
	Locked         bool
	Reviewed       bool

	Participants []Participant `gorm:"foreignKey:TranscriptID;constraint:OnDelete:CASCADE"`
	Topics       []Topic       `gorm:"foreignKey:TranscriptID;constraint:OnDelete:CASCADE"`
	Events       EventLog      `gorm:"type:jsonb"`

	Title          *string
	ShortSummary   *string
	LongSummary    *string
	ActionItems    ActionItemsColumn `gorm:"type:jsonb"`
	DurationMs     *int64
	AudioLocation  AudioLocation
	AudioDeleted   bool
	WorkflowRunID  *string
	ZulipMessageID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant maps platform identity to the track/speaker index the
// pipeline assigned it. SpeakerIndex is unique per transcript and
// bijective with track index.
type Participant struct {
	ID           string `gorm:"primaryKey"`
	TranscriptID string `gorm:"primaryKey;index"`
	SpeakerIndex int
	DisplayName  string
	UserID       *string
}

// Topic is one chunk-labeled segment of the timeline. Transcript is a
// rendered text cache of Words populated by DetectTopics so reads never
// need to re-join the word list.
type Topic struct {
	ID           string `gorm:"primaryKey"`
	TranscriptID string `gorm:"index"`
	ChunkIndex   int
	Title        string
	Summary      string
	Transcript   string
	Timestamp    float64
	Duration     float64
	Words        JSONWords `gorm:"type:jsonb"`
}
