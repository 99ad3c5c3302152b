package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// runFinalize persists the merged transcript text and duration, clears
// workflow_run_id, flips status to ended, then best-effort deletes every
// padded-track blob.
func (d *Deps) runFinalize(ctx context.Context, transcriptID string, merged []transcriptstore.Word, durationMs float64, padded []PaddedTrack) error {
	transcript, err := d.Store.GetByID(ctx, transcriptID)
	if err != nil {
		return fmt.Errorf("pipeline: finalize: load transcript: %w", err)
	}
	// A re-driven finalize finds the row already ended; any other status
	// must be a valid finalize transition (finalizing an idle or errored
	// transcript is a bug upstream, not something to paper over).
	if transcript.Status != transcriptstore.StatusEnded {
		if _, err := taskgraph.NewLifecycle(transcript.Status).Apply(taskgraph.EventFinalize, time.Now()); err != nil {
			return fmt.Errorf("pipeline: finalize: %w", err)
		}
	}

	var text strings.Builder
	for i, w := range merged {
		if i > 0 {
			text.WriteString(" ")
		}
		text.WriteString(w.Text)
	}

	transcriptEvent := progressbus.Event{
		ID:    fmt.Sprintf("Finalize:transcript:%s", transcriptID),
		Event: progressbus.KindTranscript,
		Data:  mustMarshal(progressbus.TranscriptPayload{Text: text.String()}),
	}
	durationEvent := progressbus.Event{
		ID:    fmt.Sprintf("Finalize:duration:%s", transcriptID),
		Event: progressbus.KindDuration,
		Data:  mustMarshal(progressbus.DurationPayload{Duration: durationMs}),
	}
	statusEvent := progressbus.Event{
		ID:    fmt.Sprintf("Finalize:status:%s", transcriptID),
		Event: progressbus.KindStatus,
		Data:  mustMarshal(progressbus.StatusPayload{Value: string(transcriptstore.StatusEnded)}),
	}

	err = d.Store.Transaction(ctx, func(tx transcriptstore.Store) error {
		roundedMs := int64(durationMs)
		if err := tx.Update(ctx, transcriptID, map[string]any{
			"duration_ms":     &roundedMs,
			"workflow_run_id": nil,
			"status":          transcriptstore.StatusEnded,
		}); err != nil {
			return err
		}
		for _, event := range []progressbus.Event{transcriptEvent, durationEvent, statusEvent} {
			if err := tx.AppendEvent(ctx, transcriptID, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipeline: finalize: persist: %w", err)
	}

	for _, event := range []progressbus.Event{transcriptEvent, durationEvent, statusEvent} {
		if err := d.Bus.Publish(ctx, transcriptID, event); err != nil {
			return fmt.Errorf("pipeline: finalize: publish: %w", err)
		}
	}

	// Padded-blob cleanup runs exactly once per successful pipeline,
	// here rather than per-track, so replayed consumers can still
	// re-presign the blobs. Failures are logged, not fatal.
	_, _ = taskgraph.FanOut(ctx, padded, 0, func(ctx context.Context, pt PaddedTrack, _ int) (struct{}, error) {
		if pt.Bucket != d.TranscriptBucket {
			return struct{}{}, nil // unpadded pass-through track, never uploaded to tmp/
		}
		if err := d.Objects.Delete(ctx, pt.Bucket, pt.PaddedKey); err != nil {
			logger.ErrorContext(ctx, "pipeline: finalize: delete padded blob failed", "key", pt.PaddedKey, "error", err)
		}
		return struct{}{}, nil
	})

	return nil
}

// Finalize runs the finalize task.
func (d *Deps) Finalize(ctx context.Context, runID, transcriptID string, merged []transcriptstore.Word, durationMs float64, padded []PaddedTrack) error {
	decl := taskgraph.Decl{Name: "Finalize", Timeout: taskgraph.TimeoutShort, Retries: 3}
	_, err := taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.runFinalize(ctx, transcriptID, merged, durationMs, padded)
	})
	return err
}
