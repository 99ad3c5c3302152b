package taskgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// NewTranscriptErrorHook builds the ErrorHook the error-handling decorator
// uses: on an uncaught task failure it sets the Transcript's status to
// error and publishes a STATUS event, inside one transaction so the event
// is never observed without the status change that produced it. The
// transition is validated through Lifecycle: a transcript that already
// reached a terminal status (a post-finalize straggler) is left alone.
func NewTranscriptErrorHook(store transcriptstore.Store, bus progressbus.Bus) ErrorHook {
	return func(ctx context.Context, transcriptID string, taskErr error) error {
		transcript, err := store.GetByID(ctx, transcriptID)
		if err != nil {
			return fmt.Errorf("taskgraph: error hook: load transcript: %w", err)
		}
		next, err := NewLifecycle(transcript.Status).Apply(EventFail, time.Now())
		if err != nil {
			logger.WarnContext(ctx, "taskgraph: not flipping transcript to error", "transcript_id", transcriptID, "status", transcript.Status, "reason", err)
			return nil
		}

		logger.ErrorContext(ctx, "taskgraph: task failure sets transcript status=error", "transcript_id", transcriptID, "error", taskErr)

		payload, _ := json.Marshal(progressbus.StatusPayload{Value: string(next)})
		event := progressbus.Event{
			ID:    fmt.Sprintf("error-status-%s-%s", transcriptID, uuid.NewString()),
			Event: progressbus.KindStatus,
			Data:  payload,
		}

		return store.Transaction(ctx, func(tx transcriptstore.Store) error {
			if err := tx.Update(ctx, transcriptID, map[string]any{"status": next}); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, transcriptID, event); err != nil {
				return err
			}
			if bus != nil {
				return bus.Publish(ctx, transcriptID, event)
			}
			return nil
		})
	}
}
