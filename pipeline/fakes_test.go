package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Monadical-SAS/reflector/objectstore"
	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/remoteasr"
	"github.com/Monadical-SAS/reflector/remotellm"
	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// memStore is an in-memory transcriptstore.Store for pipeline tests.
type memStore struct {
	mu          sync.Mutex
	transcripts map[string]*transcriptstore.Transcript
}

func newMemStore() *memStore {
	return &memStore{transcripts: make(map[string]*transcriptstore.Transcript)}
}

func (s *memStore) seed(t *transcriptstore.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[t.ID] = t
}

func (s *memStore) GetByID(_ context.Context, id string) (*transcriptstore.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return nil, transcriptstore.ErrNotFound
	}
	copied := *t
	copied.Participants = append([]transcriptstore.Participant(nil), t.Participants...)
	copied.Topics = append([]transcriptstore.Topic(nil), t.Topics...)
	copied.Events = append(transcriptstore.EventLog(nil), t.Events...)
	return &copied, nil
}

func (s *memStore) Create(_ context.Context, name, sourceLanguage, targetLanguage, meetingID string) (*transcriptstore.Transcript, error) {
	t := &transcriptstore.Transcript{
		ID:             fmt.Sprintf("t-%d", len(s.transcripts)+1),
		Name:           name,
		Status:         transcriptstore.StatusIdle,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		MeetingID:      meetingID,
	}
	s.seed(t)
	return t, nil
}

func (s *memStore) Update(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return transcriptstore.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "status":
			t.Status = v.(transcriptstore.Status)
		case "workflow_run_id":
			if v == nil {
				t.WorkflowRunID = nil
			} else {
				id := fmt.Sprint(v)
				t.WorkflowRunID = &id
			}
		case "title":
			title := v.(string)
			t.Title = &title
		case "short_summary":
			sum := v.(string)
			t.ShortSummary = &sum
		case "long_summary":
			sum := v.(string)
			t.LongSummary = &sum
		case "action_items":
			t.ActionItems = v.(transcriptstore.ActionItemsColumn)
		case "duration_ms":
			t.DurationMs = v.(*int64)
		case "audio_location":
			t.AudioLocation = transcriptstore.AudioLocation(fmt.Sprint(v))
		case "audio_deleted":
			t.AudioDeleted = v.(bool)
		case "zulip_message_id":
			id := fmt.Sprint(v)
			t.ZulipMessageID = &id
		}
	}
	return nil
}

func (s *memStore) AppendEvent(_ context.Context, id string, event progressbus.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return transcriptstore.ErrNotFound
	}
	for _, existing := range t.Events {
		if existing.ID == event.ID {
			return nil
		}
	}
	t.Events = append(t.Events, event)
	return nil
}

func (s *memStore) UpsertTopic(_ context.Context, id string, topic transcriptstore.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return transcriptstore.ErrNotFound
	}
	for i, existing := range t.Topics {
		if existing.ID == topic.ID {
			t.Topics[i] = topic
			return nil
		}
	}
	t.Topics = append(t.Topics, topic)
	return nil
}

func (s *memStore) UpsertParticipant(_ context.Context, id string, p transcriptstore.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return transcriptstore.ErrNotFound
	}
	for i, existing := range t.Participants {
		if existing.ID == p.ID {
			t.Participants[i] = p
			return nil
		}
	}
	t.Participants = append(t.Participants, p)
	return nil
}

func (s *memStore) DeleteParticipant(_ context.Context, id, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return transcriptstore.ErrNotFound
	}
	kept := t.Participants[:0]
	for _, p := range t.Participants {
		if p.ID != participantID {
			kept = append(kept, p)
		}
	}
	t.Participants = kept
	return nil
}

func (s *memStore) Transaction(ctx context.Context, fn func(tx transcriptstore.Store) error) error {
	return fn(s)
}

// memBus records published events, deduplicating by event id.
type memBus struct {
	mu     sync.Mutex
	events map[string][]progressbus.Event
}

func newMemBus() *memBus {
	return &memBus{events: make(map[string][]progressbus.Event)}
}

func (b *memBus) Publish(_ context.Context, transcriptID string, event progressbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.events[transcriptID] {
		if existing.ID == event.ID {
			return nil
		}
	}
	b.events[transcriptID] = append(b.events[transcriptID], event)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, transcriptID, cursor string) (<-chan progressbus.Event, func(), error) {
	b.mu.Lock()
	snapshot := append([]progressbus.Event(nil), b.events[transcriptID]...)
	b.mu.Unlock()

	out := make(chan progressbus.Event, len(snapshot))
	for _, ev := range snapshot {
		out <- ev
	}
	close(out)
	return out, func() {}, nil
}

func (b *memBus) published(transcriptID string) []progressbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]progressbus.Event(nil), b.events[transcriptID]...)
}

func (b *memBus) kinds(transcriptID string) []progressbus.Kind {
	kinds := []progressbus.Kind{}
	for _, ev := range b.published(transcriptID) {
		kinds = append(kinds, ev.Event)
	}
	return kinds
}

// memObjects is an in-memory objectstore.Store.
type memObjects struct {
	mu          sync.Mutex
	blobs       map[string][]byte
	deleted     []string
	failDeletes map[string]error
}

func newMemObjects() *memObjects {
	return &memObjects{blobs: make(map[string][]byte)}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (o *memObjects) put(bucket, key string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blobs[objKey(bucket, key)] = data
}

func (o *memObjects) exists(bucket, key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.blobs[objKey(bucket, key)]
	return ok
}

func (o *memObjects) Presign(_ context.Context, bucket, key string, op objectstore.Op, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.test/%s/%s?op=%s", bucket, key, op), nil
}

func (o *memObjects) Put(_ context.Context, bucket, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	o.put(bucket, key, data)
	return nil
}

func (o *memObjects) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.blobs[objKey(bucket, key)]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *memObjects) Delete(_ context.Context, bucket, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err, ok := o.failDeletes[objKey(bucket, key)]; ok {
		return err
	}
	delete(o.blobs, objKey(bucket, key))
	o.deleted = append(o.deleted, objKey(bucket, key))
	return nil
}

func (o *memObjects) Head(_ context.Context, bucket, key string) (objectstore.HeadResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.blobs[objKey(bucket, key)]
	if !ok {
		return objectstore.HeadResult{}, objectstore.ErrNotFound
	}
	return objectstore.HeadResult{Size: int64(len(data))}, nil
}

// fakeLLM serves scripted responses in call order. Structured responses
// are raw JSON decoded into out.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeLLM) next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp string
	if i < len(f.responses) {
		resp = f.responses[i]
	} else if len(f.responses) > 0 {
		resp = f.responses[len(f.responses)-1]
	}
	return resp, err
}

func (f *fakeLLM) Complete(_ context.Context, prompt string, _ []remotellm.Message) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.next()
}

func (f *fakeLLM) CompleteStructured(_ context.Context, prompt string, _ []remotellm.Message, _ []byte, out any) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	resp, err := f.next()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(resp), out)
}

// fakeASR returns scripted words keyed by substring of the presigned URL.
type fakeASR struct {
	words map[string][]remoteasr.Word
}

func (f *fakeASR) Transcribe(_ context.Context, audioURL, _ string) ([]remoteasr.Word, error) {
	for needle, words := range f.words {
		if needle != "" && containsStr(audioURL, needle) {
			return words, nil
		}
	}
	return nil, nil
}

func containsStr(haystack, needle string) bool {
	return len(haystack) >= len(needle) && bytes.Contains([]byte(haystack), []byte(needle))
}

// fakeConsent reports a fixed denial verdict.
type fakeConsent struct {
	records []ConsentRecord
	err     error
}

func (f *fakeConsent) GetConsent(context.Context, string) ([]ConsentRecord, error) {
	return f.records, f.err
}

// fakeRoster returns a fixed roster.
type fakeRoster struct {
	participants []RosterParticipant
	err          error
}

func (f *fakeRoster) GetParticipants(context.Context, Manifest) ([]RosterParticipant, error) {
	return f.participants, f.err
}

// fakeNotifier records Notify calls.
type fakeNotifier struct {
	mu        sync.Mutex
	calls     int
	messageID string
	err       error
}

func (f *fakeNotifier) Notify(_ context.Context, _ *transcriptstore.Transcript) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.messageID, f.err
}

// fakeWebhook records Send calls.
type fakeWebhook struct {
	mu           sync.Mutex
	calls        int
	lastSecret   string
	lastAudio    bool
	lastSnapshot *transcriptstore.Transcript
	err          error
}

func (f *fakeWebhook) Send(_ context.Context, roomSecret string, t *transcriptstore.Transcript, includeAudio bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSecret = roomSecret
	f.lastAudio = includeAudio
	f.lastSnapshot = t
	return f.err
}

// newTestDeps wires the fakes into a Deps with a store-less engine (no
// replay caching, no error hook unless the test installs one).
func newTestDeps(store *memStore, bus *memBus, objects *memObjects, llm *fakeLLM, asr *fakeASR) *Deps {
	return &Deps{
		Engine:              taskgraph.NewEngine(nil, nil),
		Store:               store,
		Bus:                 bus,
		Objects:             objects,
		ASR:                 asr,
		LLM:                 llm,
		Roster:              StaticRoster{},
		Consent:             NoConsentRecords{},
		Notifier:            &fakeNotifier{},
		Webhook:             &fakeWebhook{},
		TranscriptBucket:    "transcripts",
		DataDir:             "",
		WebhookSecret:       "room-secret",
		PresignTTL:          15 * time.Minute,
		WaveformSegments:    16,
		TopicChunkWordCount: 300,
	}
}

