package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Monadical-SAS/reflector/audiocodec"
	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/metrics"
	"github.com/Monadical-SAS/reflector/objectstore"
	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// PipelineDAG is the static stage dependency graph, validated once at
// worker startup. Fan-out item counts within a stage are decided at
// runtime from the manifest and the merged word list.
func PipelineDAG() taskgraph.DAG {
	return taskgraph.DAG{
		"GetRecording":          {},
		"GetParticipants":       {"GetRecording"},
		"ProcessPaddings":       {"GetParticipants"},
		"ProcessTranscriptions": {"ProcessPaddings"},
		"MixdownTracks":         {"ProcessPaddings"},
		"DetectTopics":          {"ProcessTranscriptions"},
		"GenerateWaveform":      {"MixdownTracks"},
		"GenerateTitle":         {"DetectTopics"},
		"ExtractSubjects":       {"DetectTopics"},
		"ProcessSubjects":       {"ExtractSubjects"},
		"GenerateRecap":         {"ProcessSubjects"},
		"IdentifyActionItems":   {"DetectTopics"},
		"Finalize":              {"GenerateWaveform", "GenerateTitle", "GenerateRecap", "IdentifyActionItems"},
		"CleanupConsent":        {"Finalize"},
		"PostNotification":      {"CleanupConsent"},
		"SendWebhook":           {"CleanupConsent"},
	}
}

// recordingInfo is GetRecording's output: the validated manifest's track
// count plus the probed recording duration used to scale the mixdown
// timeout.
type recordingInfo struct {
	TrackCount               int     `json:"track_count"`
	RecordingDurationSeconds float64 `json:"recording_duration_seconds"`
}

// Run drives one full MultitrackPipeline for manifest under runID. Any
// stage failure surfaces here after its own retries; the engine's error
// hook has already flipped the Transcript to error by then, so Run only
// propagates.
func (d *Deps) Run(ctx context.Context, runID string, manifest Manifest) error {
	start := time.Now()
	metrics.RecordRunStart()
	status := "success"
	defer func() {
		metrics.RecordRunEnd(status, time.Since(start).Seconds())
	}()

	err := d.run(ctx, runID, manifest)
	if err != nil {
		status = "error"
	}
	return err
}

func (d *Deps) run(ctx context.Context, runID string, manifest Manifest) error {
	info, err := d.GetRecording(ctx, runID, manifest)
	if err != nil {
		return err
	}

	participants, err := d.GetParticipants(ctx, runID, manifest)
	if err != nil {
		return err
	}

	padded, err := d.ProcessPaddings(ctx, runID, manifest)
	if err != nil {
		return err
	}

	// Transcription and mixdown only share the padded tracks, so they
	// run as parallel branches.
	var perTrack [][]transcriptstore.Word
	var mixdown MixdownResult
	language := d.languageFor(ctx, manifest.TranscriptID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		perTrack, err = d.ProcessTranscriptions(gctx, runID, manifest.TranscriptID, padded, language)
		return err
	})
	g.Go(func() error {
		var err error
		mixdown, err = d.MixdownTracks(gctx, runID, manifest.TranscriptID, padded, info.RecordingDurationSeconds)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	var topics []transcriptstore.Topic
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		topics, err = d.DetectTopics(gctx, runID, manifest.TranscriptID, perTrack)
		return err
	})
	g.Go(func() error {
		_, err := d.GenerateWaveform(gctx, runID, manifest.TranscriptID, d.TranscriptBucket, mixdown.AudioKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	merged := MergeWords(perTrack)

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := d.GenerateTitle(gctx, runID, manifest.TranscriptID, topics)
		return err
	})
	g.Go(func() error {
		subjects, err := d.ExtractSubjects(gctx, runID, manifest.TranscriptID, merged, participants)
		if err != nil {
			return err
		}
		summaries, err := d.ProcessSubjects(gctx, runID, manifest.TranscriptID, subjects, merged, participants)
		if err != nil {
			return err
		}
		_, err = d.GenerateRecap(gctx, runID, manifest.TranscriptID, summaries)
		return err
	})
	g.Go(func() error {
		d.IdentifyActionItems(gctx, runID, manifest.TranscriptID, merged)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := d.Finalize(ctx, runID, manifest.TranscriptID, merged, mixdown.DurationMs, padded); err != nil {
		return err
	}

	if err := d.CleanupConsent(ctx, runID, manifest, mixdown.AudioKey); err != nil {
		logger.ErrorContext(ctx, "pipeline: consent cleanup failed, operators should re-run to converge",
			"transcript_id", manifest.TranscriptID, "error", err)
	}

	// The notification tail is best-effort: failures are logged and never
	// touch the Transcript's status.
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.PostNotification(gctx, runID, manifest.TranscriptID); err != nil {
			logger.ErrorContext(gctx, "pipeline: chat notification failed", "transcript_id", manifest.TranscriptID, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := d.SendWebhook(gctx, runID, manifest.TranscriptID); err != nil {
			logger.ErrorContext(gctx, "pipeline: webhook delivery failed", "transcript_id", manifest.TranscriptID, "error", err)
		}
		return nil
	})
	return g.Wait()
}

// GetRecording validates the manifest, records the run against the
// Transcript, flips it to processing, and probes the first track's
// container for the recording duration.
func (d *Deps) GetRecording(ctx context.Context, runID string, manifest Manifest) (recordingInfo, error) {
	decl := taskgraph.Decl{Name: "GetRecording", Timeout: taskgraph.TimeoutShort, Retries: 3}
	return taskgraph.Execute(ctx, d.Engine, runID, manifest.TranscriptID, decl, func(ctx context.Context) (recordingInfo, error) {
		if len(manifest.Tracks) == 0 {
			return recordingInfo{}, fmt.Errorf("pipeline: manifest %s has no tracks", manifest.RecordingID)
		}
		transcript, err := d.Store.GetByID(ctx, manifest.TranscriptID)
		if err != nil {
			return recordingInfo{}, fmt.Errorf("pipeline: get_recording: %w", err)
		}

		// A re-driven run finds the row already processing; anything else
		// must be a valid start transition (an ended or errored
		// transcript cannot be restarted under the same row).
		if transcript.Status != transcriptstore.StatusProcessing {
			if _, err := taskgraph.NewLifecycle(transcript.Status).Apply(taskgraph.EventStart, time.Now()); err != nil {
				return recordingInfo{}, fmt.Errorf("pipeline: get_recording: %w", err)
			}
		}

		event := progressbus.Event{
			ID:    fmt.Sprintf("GetRecording:status:%s", manifest.TranscriptID),
			Event: progressbus.KindStatus,
			Data:  mustMarshal(progressbus.StatusPayload{Value: string(transcriptstore.StatusProcessing)}),
		}
		err := d.Store.Transaction(ctx, func(tx transcriptstore.Store) error {
			if err := tx.Update(ctx, manifest.TranscriptID, map[string]any{
				"status":          transcriptstore.StatusProcessing,
				"workflow_run_id": runID,
			}); err != nil {
				return err
			}
			return tx.AppendEvent(ctx, manifest.TranscriptID, event)
		})
		if err != nil {
			return recordingInfo{}, fmt.Errorf("pipeline: get_recording: persist: %w", err)
		}
		if err := d.Bus.Publish(ctx, manifest.TranscriptID, event); err != nil {
			return recordingInfo{}, fmt.Errorf("pipeline: get_recording: publish: %w", err)
		}

		return recordingInfo{
			TrackCount:               len(manifest.Tracks),
			RecordingDurationSeconds: d.probeRecordingDuration(ctx, manifest),
		}, nil
	})
}

// probeRecordingDuration opens the first readable track header for its
// reported duration. Best-effort: the value only scales the mixdown
// timeout, so a failed probe degrades to 0 rather than failing the run.
func (d *Deps) probeRecordingDuration(ctx context.Context, manifest Manifest) float64 {
	for _, track := range manifest.Tracks {
		url, err := d.Objects.Presign(ctx, manifest.Bucket, track.S3Key, objectstore.OpGet, d.PresignTTL)
		if err != nil {
			continue
		}
		c, err := audiocodec.Open(url)
		if err != nil {
			continue
		}
		duration := c.DurationSeconds()
		c.Close()
		if duration > 0 {
			return duration
		}
	}
	return 0
}

// GetParticipants fetches the platform roster and upserts one Participant
// per track, speaker index equal to track index. The roster must cover
// every track: a missing participant would leave a speaker unattributable.
func (d *Deps) GetParticipants(ctx context.Context, runID string, manifest Manifest) ([]transcriptstore.Participant, error) {
	decl := taskgraph.Decl{Name: "GetParticipants", Timeout: taskgraph.TimeoutShort, Retries: 3}
	return taskgraph.Execute(ctx, d.Engine, runID, manifest.TranscriptID, decl, func(ctx context.Context) ([]transcriptstore.Participant, error) {
		roster, err := d.Roster.GetParticipants(ctx, manifest)
		if err != nil {
			return nil, fmt.Errorf("pipeline: get_participants: %w", err)
		}
		if len(roster) != len(manifest.Tracks) {
			return nil, fmt.Errorf("pipeline: roster has %d participants for %d tracks", len(roster), len(manifest.Tracks))
		}

		participants := make([]transcriptstore.Participant, len(roster))
		for i, r := range roster {
			participants[i] = transcriptstore.Participant{
				ID:           r.ID,
				SpeakerIndex: i,
				DisplayName:  r.DisplayName,
				UserID:       r.UserID,
			}
			if err := d.Store.UpsertParticipant(ctx, manifest.TranscriptID, participants[i]); err != nil {
				return nil, fmt.Errorf("pipeline: get_participants: upsert %d: %w", i, err)
			}
		}
		return participants, nil
	})
}

// languageFor reads the transcript's source language, defaulting to "en"
// when unset.
func (d *Deps) languageFor(ctx context.Context, transcriptID string) string {
	t, err := d.Store.GetByID(ctx, transcriptID)
	if err != nil || t.SourceLanguage == "" {
		return "en"
	}
	return t.SourceLanguage
}
