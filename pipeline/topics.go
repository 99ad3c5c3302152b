package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// topicSchema is the JSON Schema TopicChunkSubflow validates RemoteLLM's
// response against.
var topicSchema = []byte(`{
	"type": "object",
	"required": ["title", "summary"],
	"properties": {
		"title": {"type": "string"},
		"summary": {"type": "string"}
	}
}`)

type topicChunkOutput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// titleStopWords are the function words a title leaves lower-cased:
// articles, coordinating conjunctions, and short prepositions. A crude
// stand-in for the noun/verb/adjective classes a POS tagger would give.
var titleStopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"and": {}, "or": {}, "but": {}, "nor": {}, "so": {}, "yet": {},
	"of": {}, "in": {}, "on": {}, "at": {}, "to": {}, "by": {},
	"for": {}, "with": {}, "from": {}, "as": {}, "per": {}, "via": {},
}

// titleCasePOS upper-cases lower-cased first-letter tokens outside the
// stop-word set (the leading token is always cased), forcing a
// conventional title case for short LLM-generated titles.
func titleCasePOS(title string) string {
	fields := strings.Fields(title)
	for i, f := range fields {
		r := []rune(f)
		if len(r) == 0 || !unicode.IsLower(r[0]) {
			continue
		}
		if _, stop := titleStopWords[strings.ToLower(f)]; stop && i > 0 {
			continue
		}
		r[0] = unicode.ToUpper(r[0])
		fields[i] = string(r)
	}
	return strings.Join(fields, " ")
}

// runTopicChunk implements TopicChunkSubflow: one LLM call labels a word
// window with a title and summary.
func (d *Deps) runTopicChunk(ctx context.Context, chunk taskgraph.Chunk[transcriptstore.Word]) (transcriptstore.Topic, error) {
	words := chunk.Items
	text := joinWords(words)

	prompt := fmt.Sprintf("Summarize this meeting excerpt into a short title and a one or two sentence summary.\n\n%s", text)

	var out topicChunkOutput
	if err := d.LLM.CompleteStructured(ctx, prompt, nil, topicSchema, &out); err != nil {
		return transcriptstore.Topic{}, fmt.Errorf("pipeline: topic_chunk[%d]: %w", chunk.Index, err)
	}

	return transcriptstore.Topic{
		ChunkIndex: chunk.Index,
		Title:      titleCasePOS(out.Title),
		Summary:    out.Summary,
		Transcript: text,
		Timestamp:  words[0].Start,
		Duration:   words[len(words)-1].End - words[0].Start,
		Words:      transcriptstore.JSONWords(words),
	}, nil
}

func joinWords(words []transcriptstore.Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// DetectTopics merges words, chunks them, fans out TopicChunkSubflow,
// then upserts+publishes each topic in chunk order inside a single
// transaction per chunk.
func (d *Deps) DetectTopics(ctx context.Context, runID, transcriptID string, perTrack [][]transcriptstore.Word) ([]transcriptstore.Topic, error) {
	merged := MergeWords(perTrack)
	chunks := taskgraph.ChunkFixed(merged, d.TopicChunkWordCount)

	decl := taskgraph.Decl{
		Name:    "DetectTopics",
		Timeout: taskgraph.TimeoutHeavy,
		Retries: 3,
	}

	topics, err := taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) ([]transcriptstore.Topic, error) {
		return taskgraph.FanOut(ctx, chunks, 0, func(ctx context.Context, chunk taskgraph.Chunk[transcriptstore.Word], _ int) (transcriptstore.Topic, error) {
			chunkDecl := taskgraph.Decl{
				Name:    fmt.Sprintf("TopicChunkSubflow[%d]", chunk.Index),
				Timeout: taskgraph.TimeoutLong,
				Retries: 3,
			}
			return taskgraph.Execute(ctx, d.Engine, runID, transcriptID, chunkDecl, func(ctx context.Context) (transcriptstore.Topic, error) {
				topic, err := d.runTopicChunk(ctx, chunk)
				if err != nil {
					return transcriptstore.Topic{}, err
				}
				topic.ID = fmt.Sprintf("%s-topic-%d", transcriptID, chunk.Index)
				return topic, nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	// Chunks may complete fan-out in any order, but upserts+publishes
	// must preserve chunk order.
	for _, topic := range topics {
		if err := d.upsertAndPublishTopic(ctx, transcriptID, topic); err != nil {
			return nil, err
		}
	}

	return topics, nil
}

func (d *Deps) upsertAndPublishTopic(ctx context.Context, transcriptID string, topic transcriptstore.Topic) error {
	eventID := fmt.Sprintf("DetectTopics:%s:%d", transcriptID, topic.ChunkIndex)
	data, err := json.Marshal(topic)
	if err != nil {
		return fmt.Errorf("pipeline: marshal topic event: %w", err)
	}
	event := progressbus.Event{ID: eventID, Event: progressbus.KindTopic, Data: data}

	err = d.Store.Transaction(ctx, func(tx transcriptstore.Store) error {
		if err := tx.UpsertTopic(ctx, transcriptID, topic); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, transcriptID, event)
	})
	if err != nil {
		return fmt.Errorf("pipeline: detect_topics: persist chunk %d: %w", topic.ChunkIndex, err)
	}

	if err := d.Bus.Publish(ctx, transcriptID, event); err != nil {
		return fmt.Errorf("pipeline: detect_topics: publish chunk %d: %w", topic.ChunkIndex, err)
	}
	return nil
}
