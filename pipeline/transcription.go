package pipeline

import (
	"context"
	"fmt"

	"github.com/Monadical-SAS/reflector/objectstore"
	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// runTranscription implements TranscriptionSubflow: presign the padded
// track, call RemoteASR, and tag every word with the track's speaker
// index. Timestamps are already meeting-global because the padded track
// begins at meeting t=0.
func (d *Deps) runTranscription(ctx context.Context, padded PaddedTrack, language string) ([]transcriptstore.Word, error) {
	url, err := d.Objects.Presign(ctx, padded.Bucket, padded.PaddedKey, objectstore.OpGet, d.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("pipeline: transcription track %d: presign: %w", padded.TrackIndex, err)
	}

	words, err := d.ASR.Transcribe(ctx, url, language)
	if err != nil {
		return nil, fmt.Errorf("pipeline: transcription track %d: transcribe: %w", padded.TrackIndex, err)
	}

	out := make([]transcriptstore.Word, len(words))
	for i, w := range words {
		out[i] = transcriptstore.Word{Text: w.Text, Start: w.Start, End: w.End, Speaker: padded.TrackIndex}
	}
	return out, nil
}

// ProcessTranscriptions fans out TranscriptionSubflow over every padded
// track. A permanent ASR failure (invalid media) must surface on the
// Transcript, so the transcript id rides along for the error hook.
func (d *Deps) ProcessTranscriptions(ctx context.Context, runID, transcriptID string, padded []PaddedTrack, language string) ([][]transcriptstore.Word, error) {
	return taskgraph.FanOut(ctx, padded, 0, func(ctx context.Context, pt PaddedTrack, _ int) ([]transcriptstore.Word, error) {
		decl := taskgraph.Decl{
			Name:    fmt.Sprintf("TranscriptionSubflow[%d]", pt.TrackIndex),
			Timeout: taskgraph.TimeoutHeavy,
			Retries: 3,
		}
		return taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) ([]transcriptstore.Word, error) {
			return d.runTranscription(ctx, pt, language)
		})
	})
}
