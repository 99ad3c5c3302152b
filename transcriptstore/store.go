package transcriptstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Monadical-SAS/reflector/progressbus"
)

// ErrNotFound is returned when a Transcript, Topic, or Participant does
// not exist.
var ErrNotFound = errors.New("transcriptstore: not found")

// Store is the TranscriptStore interface.
type Store interface {
	GetByID(ctx context.Context, id string) (*Transcript, error)
	Create(ctx context.Context, name, sourceLanguage, targetLanguage, meetingID string) (*Transcript, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	AppendEvent(ctx context.Context, id string, event progressbus.Event) error
	UpsertTopic(ctx context.Context, id string, topic Topic) error
	UpsertParticipant(ctx context.Context, id string, participant Participant) error
	DeleteParticipant(ctx context.Context, id, participantID string) error

	// Transaction runs fn inside a serializable transaction scope.
	// Callers must use this around any multi-field mutation and
	// co-located event append, and must not make a network call to
	// RemoteLLM/RemoteASR while holding it.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// GormStore is the gorm+Postgres backed Store implementation.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-connected *gorm.DB.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates/updates the transcript, topic, and participant
// tables. Intended for local development and tests; production schema
// changes go through migrations.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Transcript{}, &Topic{}, &Participant{})
}

// GetByID implements Store.
func (s *GormStore) GetByID(ctx context.Context, id string) (*Transcript, error) {
	var t Transcript
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Preload("Topics").
		First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transcriptstore: get_by_id: %w", err)
	}
	return &t, nil
}

// Create implements Store. The row starts in StatusIdle; the workflow
// flips it to processing when it begins.
func (s *GormStore) Create(ctx context.Context, name, sourceLanguage, targetLanguage, meetingID string) (*Transcript, error) {
	t := &Transcript{
		ID:             uuid.NewString(),
		Name:           name,
		Status:         StatusIdle,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		MeetingID:      meetingID,
		AudioLocation:  AudioLocationLocal,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("transcriptstore: create: %w", err)
	}
	return t, nil
}

// Update implements Store: a partial update serialized per row.
func (s *GormStore) Update(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Transcript{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("transcriptstore: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent implements Store. It appends to the Events JSON column in
// place, so a caller already inside Transaction gets the append in the
// same commit as any other field update it makes. Idempotent: if
// event.ID is already present, this is a no-op so a re-driven task does
// not double-publish.
func (s *GormStore) AppendEvent(ctx context.Context, id string, event progressbus.Event) error {
	var t Transcript
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("transcriptstore: append_event: load: %w", err)
	}
	for _, existing := range t.Events {
		if existing.ID == event.ID {
			return nil
		}
	}
	t.Events = append(t.Events, event)
	if err := s.db.WithContext(ctx).Model(&Transcript{}).Where("id = ?", id).Update("events", t.Events).Error; err != nil {
		return fmt.Errorf("transcriptstore: append_event: save: %w", err)
	}
	return nil
}

// UpsertTopic implements Store: replaces the topic with the same id, or
// inserts it if new, so a replayed chunk never duplicates a topic.
func (s *GormStore) UpsertTopic(ctx context.Context, id string, topic Topic) error {
	topic.TranscriptID = id
	err := s.db.WithContext(ctx).
		Where("id = ? AND transcript_id = ?", topic.ID, id).
		Assign(topic).
		FirstOrCreate(&Topic{}).Error
	if err != nil {
		return fmt.Errorf("transcriptstore: upsert_topic: %w", err)
	}
	return nil
}

// UpsertParticipant implements Store.
func (s *GormStore) UpsertParticipant(ctx context.Context, id string, participant Participant) error {
	participant.TranscriptID = id
	err := s.db.WithContext(ctx).
		Where("id = ? AND transcript_id = ?", participant.ID, id).
		Assign(participant).
		FirstOrCreate(&Participant{}).Error
	if err != nil {
		return fmt.Errorf("transcriptstore: upsert_participant: %w", err)
	}
	return nil
}

// DeleteParticipant implements Store.
func (s *GormStore) DeleteParticipant(ctx context.Context, id, participantID string) error {
	err := s.db.WithContext(ctx).
		Where("id = ? AND transcript_id = ?", participantID, id).
		Delete(&Participant{}).Error
	if err != nil {
		return fmt.Errorf("transcriptstore: delete_participant: %w", err)
	}
	return nil
}

// Transaction implements Store with a serializable isolation level.
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
}
