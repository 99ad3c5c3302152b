package pipeline

import (
	"context"
	"fmt"

	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/taskgraph"
)

// runCleanupConsent implements CleanupConsent: consent approval is the
// default and makes this a no-op; a denial deletes the original recording
// blobs and the mixed MP3, setting audio_deleted only if both deletions
// fully succeed.
func (d *Deps) runCleanupConsent(ctx context.Context, manifest Manifest, audioKey string) error {
	if manifest.MeetingSessionID == nil {
		return nil
	}

	records, err := d.Consent.GetConsent(ctx, *manifest.MeetingSessionID)
	if err != nil {
		return fmt.Errorf("pipeline: cleanup_consent: get_consent: %w", err)
	}

	denied := false
	for _, r := range records {
		if r.Denied {
			denied = true
			break
		}
	}
	if !denied {
		return nil
	}

	tracksOK := true
	for _, track := range manifest.Tracks {
		if err := d.Objects.Delete(ctx, manifest.Bucket, track.S3Key); err != nil {
			logger.ErrorContext(ctx, "pipeline: cleanup_consent: delete source track failed", "key", track.S3Key, "error", err)
			tracksOK = false
		}
	}

	audioOK := true
	if err := d.Objects.Delete(ctx, d.TranscriptBucket, audioKey); err != nil {
		logger.ErrorContext(ctx, "pipeline: cleanup_consent: delete mixed audio failed", "key", audioKey, "error", err)
		audioOK = false
	}

	if !tracksOK || !audioOK {
		logger.WarnContext(ctx, "pipeline: cleanup_consent: partial deletion, will converge on retry", "transcript_id", manifest.TranscriptID)
		return nil
	}

	if err := d.Store.Update(ctx, manifest.TranscriptID, map[string]any{"audio_deleted": true}); err != nil {
		return fmt.Errorf("pipeline: cleanup_consent: persist audio_deleted: %w", err)
	}
	return nil
}

// CleanupConsent runs the consent-cleanup task. Errors here still
// propagate so the orchestrator logs them, but SkipErrorStatus keeps the
// Transcript's status untouched.
func (d *Deps) CleanupConsent(ctx context.Context, runID string, manifest Manifest, audioKey string) error {
	decl := taskgraph.Decl{Name: "CleanupConsent", Timeout: taskgraph.TimeoutShort, Retries: 3, SkipErrorStatus: true}
	_, err := taskgraph.Execute(ctx, d.Engine, runID, manifest.TranscriptID, decl, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.runCleanupConsent(ctx, manifest, audioKey)
	})
	return err
}
