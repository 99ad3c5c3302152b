package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/taskgraph"
)

// RecapResult is GenerateRecap's output.
type RecapResult struct {
	ShortSummary string
	LongSummary  string
}

// buildLongSummary assembles the long-summary markdown.
func buildLongSummary(recap string, summaries []SubjectSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Quick recap\n\n%s\n\n# Summary\n\n", recap)
	for _, s := range summaries {
		fmt.Fprintf(&b, "**%s**\n%s\n\n", s.Subject, s.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// runRecap condenses the subject summaries into a short recap and the
// assembled long summary, persisting and publishing both.
func (d *Deps) runRecap(ctx context.Context, transcriptID string, summaries []SubjectSummary) (RecapResult, error) {
	var concatenated strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&concatenated, "%s: %s\n", s.Subject, s.Summary)
	}

	recap, err := d.LLM.Complete(ctx, fmt.Sprintf("Write a short recap paragraph from these subject summaries:\n\n%s", concatenated.String()), nil)
	if err != nil {
		return RecapResult{}, fmt.Errorf("pipeline: generate_recap: complete: %w", err)
	}
	recap = strings.TrimSpace(recap)

	result := RecapResult{
		ShortSummary: recap,
		LongSummary:  buildLongSummary(recap, summaries),
	}

	if err := d.Store.Update(ctx, transcriptID, map[string]any{
		"short_summary": result.ShortSummary,
		"long_summary":  result.LongSummary,
	}); err != nil {
		return RecapResult{}, fmt.Errorf("pipeline: generate_recap: persist: %w", err)
	}

	shortEvent := progressbus.Event{
		ID:    fmt.Sprintf("GenerateRecap:short:%s", transcriptID),
		Event: progressbus.KindFinalShortSumm,
		Data:  mustMarshal(progressbus.FinalShortSummaryPayload{ShortSummary: result.ShortSummary}),
	}
	longEvent := progressbus.Event{
		ID:    fmt.Sprintf("GenerateRecap:long:%s", transcriptID),
		Event: progressbus.KindFinalLongSummary,
		Data:  mustMarshal(progressbus.FinalLongSummaryPayload{LongSummary: result.LongSummary}),
	}
	for _, event := range []progressbus.Event{shortEvent, longEvent} {
		if err := d.Store.AppendEvent(ctx, transcriptID, event); err != nil {
			return RecapResult{}, fmt.Errorf("pipeline: generate_recap: append_event: %w", err)
		}
		if err := d.Bus.Publish(ctx, transcriptID, event); err != nil {
			return RecapResult{}, fmt.Errorf("pipeline: generate_recap: publish: %w", err)
		}
	}

	return result, nil
}

// GenerateRecap runs the recap task.
func (d *Deps) GenerateRecap(ctx context.Context, runID, transcriptID string, summaries []SubjectSummary) (RecapResult, error) {
	decl := taskgraph.Decl{Name: "GenerateRecap", Timeout: taskgraph.TimeoutMedium, Retries: 3}
	return taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) (RecapResult, error) {
		return d.runRecap(ctx, transcriptID, summaries)
	})
}
