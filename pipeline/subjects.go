package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

var subjectsSchema = []byte(`{
	"type": "object",
	"required": ["subjects"],
	"properties": {
		"subjects": {"type": "array", "maxItems": 6, "items": {"type": "string"}}
	}
}`)

type subjectsOutput struct {
	Subjects []string `json:"subjects"`
}

// speakerLineTranscript builds a "{name}: {text}" transcript, starting a
// new line each time the speaker changes.
func speakerLineTranscript(words []transcriptstore.Word, names map[int]string) string {
	var b strings.Builder
	currentSpeaker := -1
	for _, w := range words {
		if w.Speaker != currentSpeaker {
			if currentSpeaker != -1 {
				b.WriteString("\n")
			}
			name := names[w.Speaker]
			if name == "" {
				name = fmt.Sprintf("Speaker %d", w.Speaker)
			}
			b.WriteString(name)
			b.WriteString(": ")
			currentSpeaker = w.Speaker
		} else {
			b.WriteString(" ")
		}
		b.WriteString(w.Text)
	}
	return b.String()
}

func participantNames(participants []transcriptstore.Participant) map[int]string {
	names := make(map[int]string, len(participants))
	for _, p := range participants {
		names[p.SpeakerIndex] = p.DisplayName
	}
	return names
}

// runExtractSubjects asks the LLM for the meeting's high-level subjects.
func (d *Deps) runExtractSubjects(ctx context.Context, merged []transcriptstore.Word, names map[int]string) ([]string, error) {
	text := speakerLineTranscript(merged, names)
	prompt := fmt.Sprintf("List up to 6 distinct subjects discussed in this meeting transcript:\n\n%s", text)

	var out subjectsOutput
	if err := d.LLM.CompleteStructured(ctx, prompt, nil, subjectsSchema, &out); err != nil {
		return nil, fmt.Errorf("pipeline: extract_subjects: %w", err)
	}
	return out.Subjects, nil
}

// ExtractSubjects runs the subject-extraction task.
func (d *Deps) ExtractSubjects(ctx context.Context, runID, transcriptID string, merged []transcriptstore.Word, participants []transcriptstore.Participant) ([]string, error) {
	decl := taskgraph.Decl{Name: "ExtractSubjects", Timeout: taskgraph.TimeoutMedium, Retries: 3}
	names := participantNames(participants)
	return taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) ([]string, error) {
		return d.runExtractSubjects(ctx, merged, names)
	})
}

// SubjectSummary is one ProcessSubjects result, in subject order.
type SubjectSummary struct {
	Subject string
	Summary string
}

// runSubjectSubflow requests a one-paragraph detailed summary of subject.
func (d *Deps) runSubjectSubflow(ctx context.Context, subject string, merged []transcriptstore.Word, names map[int]string) (SubjectSummary, error) {
	text := speakerLineTranscript(merged, names)
	prompt := fmt.Sprintf("Write a one-paragraph detailed summary of what was discussed about %q in this transcript:\n\n%s", subject, text)

	summary, err := d.LLM.Complete(ctx, prompt, nil)
	if err != nil {
		return SubjectSummary{}, fmt.Errorf("pipeline: subject_subflow[%q]: %w", subject, err)
	}
	return SubjectSummary{Subject: subject, Summary: strings.TrimSpace(summary)}, nil
}

// ProcessSubjects fans SubjectSubflow out over every subject, preserving
// subject order.
func (d *Deps) ProcessSubjects(ctx context.Context, runID, transcriptID string, subjects []string, merged []transcriptstore.Word, participants []transcriptstore.Participant) ([]SubjectSummary, error) {
	names := participantNames(participants)
	return taskgraph.FanOut(ctx, subjects, 0, func(ctx context.Context, subject string, i int) (SubjectSummary, error) {
		decl := taskgraph.Decl{
			Name:    fmt.Sprintf("SubjectSubflow[%d]", i),
			Timeout: taskgraph.TimeoutMedium,
			Retries: 3,
		}
		return taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) (SubjectSummary, error) {
			return d.runSubjectSubflow(ctx, subject, merged, names)
		})
	})
}
