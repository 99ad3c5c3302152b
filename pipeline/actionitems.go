package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

var actionItemsSchema = []byte(`{
	"type": "object",
	"required": ["decisions", "next_steps"],
	"properties": {
		"decisions": {"type": "array", "items": {"type": "string"}},
		"next_steps": {"type": "array", "items": {"type": "string"}}
	}
}`)

// runActionItems implements IdentifyActionItems. Failure is non-fatal,
// since IdentifyActionItems must not block Finalize's join: a failed LLM
// call yields an empty result, and a failed persist, event append or
// publish is logged while the extracted items are still returned.
func (d *Deps) runActionItems(ctx context.Context, transcriptID string, merged []transcriptstore.Word) progressbus.ActionItems {
	var b strings.Builder
	for _, w := range merged {
		b.WriteString(w.Text)
		b.WriteString(" ")
	}
	prompt := fmt.Sprintf("Extract decisions and next steps from this meeting transcript:\n\n%s", b.String())

	var out progressbus.ActionItems
	if err := d.LLM.CompleteStructured(ctx, prompt, nil, actionItemsSchema, &out); err != nil {
		logger.ErrorContext(ctx, "pipeline: identify_action_items failed, treating as empty", "transcript_id", transcriptID, "error", err)
		return progressbus.ActionItems{}
	}

	if err := d.Store.Update(ctx, transcriptID, map[string]any{
		"action_items": transcriptstore.ActionItemsColumn{ActionItems: out, Valid: true},
	}); err != nil {
		logger.ErrorContext(ctx, "pipeline: identify_action_items: persist failed", "transcript_id", transcriptID, "error", err)
		return out
	}

	event := progressbus.Event{
		ID:    fmt.Sprintf("IdentifyActionItems:%s", transcriptID),
		Event: progressbus.KindActionItems,
		Data:  mustMarshal(progressbus.ActionItemsPayload{ActionItems: out}),
	}
	if err := d.Store.AppendEvent(ctx, transcriptID, event); err != nil {
		logger.ErrorContext(ctx, "pipeline: identify_action_items: append_event failed", "transcript_id", transcriptID, "error", err)
		return out
	}
	if err := d.Bus.Publish(ctx, transcriptID, event); err != nil {
		logger.ErrorContext(ctx, "pipeline: identify_action_items: publish failed", "transcript_id", transcriptID, "error", err)
	}
	return out
}

// IdentifyActionItems runs the action-items task. It never returns an
// error: a failed LLM call degrades to an empty ActionItems, and a failed
// persist returns the extracted items unpersisted, rather than failing
// the pipeline.
func (d *Deps) IdentifyActionItems(ctx context.Context, runID, transcriptID string, merged []transcriptstore.Word) progressbus.ActionItems {
	decl := taskgraph.Decl{Name: "IdentifyActionItems", Timeout: taskgraph.TimeoutLong, Retries: 3, SkipErrorStatus: true}
	result, err := taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) (progressbus.ActionItems, error) {
		return d.runActionItems(ctx, transcriptID, merged), nil
	})
	if err != nil {
		return progressbus.ActionItems{}
	}
	return result
}
