package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// runTitle implements GenerateTitle. The title-overwrite asymmetry is
// load-bearing: a non-empty title is never replaced on re-run, but the
// event always re-publishes so UI reconciliation stays deterministic
// across retries.
func (d *Deps) runTitle(ctx context.Context, transcriptID string, topics []transcriptstore.Topic) (string, error) {
	transcript, err := d.Store.GetByID(ctx, transcriptID)
	if err != nil {
		return "", fmt.Errorf("pipeline: title: get_transcript: %w", err)
	}

	title := ""
	if transcript.Title != nil && *transcript.Title != "" {
		title = *transcript.Title
	} else {
		prompt := buildTitlePrompt(topics)
		text, err := d.LLM.Complete(ctx, prompt, nil)
		if err != nil {
			return "", fmt.Errorf("pipeline: title: complete: %w", err)
		}
		title = strings.TrimSpace(text)
		if err := d.Store.Update(ctx, transcriptID, map[string]any{"title": title}); err != nil {
			return "", fmt.Errorf("pipeline: title: persist: %w", err)
		}
	}

	event := progressbus.Event{
		ID:    fmt.Sprintf("GenerateTitle:%s", transcriptID),
		Event: progressbus.KindFinalTitle,
		Data:  mustMarshal(progressbus.FinalTitlePayload{Title: title}),
	}
	if err := d.Store.AppendEvent(ctx, transcriptID, event); err != nil {
		return "", fmt.Errorf("pipeline: title: append_event: %w", err)
	}
	if err := d.Bus.Publish(ctx, transcriptID, event); err != nil {
		return "", fmt.Errorf("pipeline: title: publish: %w", err)
	}
	return title, nil
}

func buildTitlePrompt(topics []transcriptstore.Topic) string {
	var b strings.Builder
	b.WriteString("Write a short, specific meeting title from these topics:\n\n")
	for _, t := range topics {
		fmt.Fprintf(&b, "- %s: %s\n", t.Title, t.Summary)
	}
	return b.String()
}

// GenerateTitle runs the title task.
func (d *Deps) GenerateTitle(ctx context.Context, runID, transcriptID string, topics []transcriptstore.Topic) (string, error) {
	decl := taskgraph.Decl{Name: "GenerateTitle", Timeout: taskgraph.TimeoutShort, Retries: 3}
	return taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) (string, error) {
		return d.runTitle(ctx, transcriptID, topics)
	})
}
