package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Monadical-SAS/reflector/audiocodec"
	"github.com/Monadical-SAS/reflector/objectstore"
	"github.com/Monadical-SAS/reflector/taskgraph"
)

// MixdownResult is MixdownTracks' output.
type MixdownResult struct {
	AudioKey    string  `json:"audio_key"`
	DurationMs  float64 `json:"duration_ms"`
	TracksMixed int     `json:"tracks_mixed"`
}

const mixdownTargetRate = 44100

// mixdownKey is the mixed audio's fixed key in the transcript bucket.
func mixdownKey(transcriptID string) string {
	return fmt.Sprintf("%s/audio.mp3", transcriptID)
}

// runMixdown implements MixdownTracks: presign every padded track, mix
// them into a single local MP3, and upload it.
func (d *Deps) runMixdown(ctx context.Context, transcriptID string, padded []PaddedTrack) (MixdownResult, error) {
	urls := make([]string, len(padded))
	sources := make([]audiocodec.MixSource, len(padded))
	for i, pt := range padded {
		url, err := d.Objects.Presign(ctx, pt.Bucket, pt.PaddedKey, objectstore.OpGet, d.PresignTTL)
		if err != nil {
			return MixdownResult{}, fmt.Errorf("pipeline: mixdown: presign track %d: %w", pt.TrackIndex, err)
		}
		urls[i] = url
		// Every padded track already starts at meeting t=0, so Mix needs
		// no further per-source delay.
		sources[i] = audiocodec.MixSource{URL: url, OffsetSecs: 0}
	}

	rate, ok := audiocodec.DetectSampleRate(urls)
	if !ok {
		rate = mixdownTargetRate
	}

	tmp, err := os.CreateTemp("", "mixdown_*.mp3")
	if err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	durationMs, err := audiocodec.Mix(sources, tmp, rate)
	if err != nil {
		tmp.Close()
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown: mix: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown: close temp: %w", err)
	}

	upload, err := os.Open(tmpPath)
	if err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown: reopen temp: %w", err)
	}
	defer upload.Close()

	key := mixdownKey(transcriptID)
	if err := d.Objects.Put(ctx, d.TranscriptBucket, key, upload); err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown: upload: %w", err)
	}

	if err := d.Store.Update(ctx, transcriptID, map[string]any{"audio_location": "storage"}); err != nil {
		return MixdownResult{}, fmt.Errorf("pipeline: mixdown: update transcript: %w", err)
	}

	return MixdownResult{AudioKey: key, DurationMs: durationMs, TracksMixed: len(padded)}, nil
}

// MixdownTracks runs the mixdown task, globally serialized on the
// "mixdown" key with a timeout scaled to the input size.
func (d *Deps) MixdownTracks(ctx context.Context, runID, transcriptID string, padded []PaddedTrack, recordingDurationSeconds float64) (MixdownResult, error) {
	decl := taskgraph.Decl{
		Name:           "MixdownTracks",
		TimeoutFunc:    func() time.Duration { return taskgraph.DynamicMixdownTimeout(len(padded), recordingDurationSeconds) },
		Retries:        3,
		ConcurrencyKey: "mixdown",
		MaxRuns:        1,
		Label:          taskgraph.WorkerLabelCPUHeavy,
	}
	return taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) (MixdownResult, error) {
		return d.runMixdown(ctx, transcriptID, padded)
	})
}
