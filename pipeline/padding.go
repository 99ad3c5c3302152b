package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/Monadical-SAS/reflector/audiocodec"
	"github.com/Monadical-SAS/reflector/objectstore"
	"github.com/Monadical-SAS/reflector/taskgraph"
)

// PaddedTrack is PaddingSubflow's output.
type PaddedTrack struct {
	TrackIndex int    `json:"track_index"`
	Bucket     string `json:"bucket"`
	PaddedKey  string `json:"padded_key"`
	Size       int64  `json:"size"`
}

// paddedKey is the content-addressed temp key a retried padding task
// overwrites on replay.
func paddedKey(transcriptID string, trackIndex int) string {
	return fmt.Sprintf("tmp/%s/tracks/padded_%d.webm", transcriptID, trackIndex)
}

// runPadding implements PaddingSubflow: presign the source, measure its
// meeting-start offset from container metadata, and either pass the track
// through unchanged (offset<=0) or pad it with silence and upload the
// result.
func (d *Deps) runPadding(ctx context.Context, transcriptID string, manifest Manifest, trackIndex int) (PaddedTrack, error) {
	track := manifest.Tracks[trackIndex]

	sourceURL, err := d.Objects.Presign(ctx, manifest.Bucket, track.S3Key, objectstore.OpGet, d.PresignTTL)
	if err != nil {
		return PaddedTrack{}, fmt.Errorf("pipeline: padding track %d: presign source: %w", trackIndex, err)
	}

	container, err := audiocodec.Open(sourceURL)
	if err != nil {
		return PaddedTrack{}, fmt.Errorf("pipeline: padding track %d: open: %w", trackIndex, err)
	}
	offsetSeconds := container.ExtractStartOffset()
	container.Close()

	if offsetSeconds <= 0 {
		head, err := d.Objects.Head(ctx, manifest.Bucket, track.S3Key)
		if err != nil {
			return PaddedTrack{}, fmt.Errorf("pipeline: padding track %d: head source: %w", trackIndex, err)
		}
		return PaddedTrack{TrackIndex: trackIndex, Bucket: manifest.Bucket, PaddedKey: track.S3Key, Size: head.Size}, nil
	}

	tmp, err := os.CreateTemp("", fmt.Sprintf("padded_%d_*.webm", trackIndex))
	if err != nil {
		return PaddedTrack{}, fmt.Errorf("pipeline: padding track %d: create temp: %w", trackIndex, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := audiocodec.PadWithSilence(sourceURL, tmp, offsetSeconds); err != nil {
		tmp.Close()
		return PaddedTrack{}, fmt.Errorf("pipeline: padding track %d: pad_with_silence: %w", trackIndex, err)
	}
	if err := tmp.Close(); err != nil {
		return PaddedTrack{}, fmt.Errorf("pipeline: padding track %d: close temp: %w", trackIndex, err)
	}

	upload, err := os.Open(tmpPath)
	if err != nil {
		return PaddedTrack{}, fmt.Errorf("pipeline: padding track %d: reopen temp: %w", trackIndex, err)
	}
	defer upload.Close()

	key := paddedKey(transcriptID, trackIndex)
	if err := d.Objects.Put(ctx, d.TranscriptBucket, key, upload); err != nil {
		return PaddedTrack{}, fmt.Errorf("pipeline: padding track %d: upload: %w", trackIndex, err)
	}

	info, err := upload.Stat()
	size := int64(0)
	if err == nil {
		size = info.Size()
	}

	return PaddedTrack{TrackIndex: trackIndex, Bucket: d.TranscriptBucket, PaddedKey: key, Size: size}, nil
}

// ProcessPaddings fans out PaddingSubflow over every track in manifest
// order. A failed padding fails the whole pipeline: a mis-aligned track
// would silently corrupt the merged timeline.
func (d *Deps) ProcessPaddings(ctx context.Context, runID string, manifest Manifest) ([]PaddedTrack, error) {
	indices := make([]int, len(manifest.Tracks))
	for i := range indices {
		indices[i] = i
	}

	return taskgraph.FanOut(ctx, indices, 0, func(ctx context.Context, trackIndex int, _ int) (PaddedTrack, error) {
		decl := taskgraph.Decl{
			Name:    fmt.Sprintf("PaddingSubflow[%d]", trackIndex),
			Timeout: taskgraph.TimeoutHeavy,
			Retries: 3,
		}
		return taskgraph.Execute(ctx, d.Engine, runID, manifest.TranscriptID, decl, func(ctx context.Context) (PaddedTrack, error) {
			return d.runPadding(ctx, manifest.TranscriptID, manifest, trackIndex)
		})
	})
}
