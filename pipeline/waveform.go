package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Monadical-SAS/reflector/audiocodec"
	"github.com/Monadical-SAS/reflector/objectstore"
	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/taskgraph"
)

// runWaveform implements GenerateWaveform: presign the mixed audio,
// decode it to a fixed-length peak vector, and persist it under the local
// data dir.
func (d *Deps) runWaveform(ctx context.Context, transcriptID, audioBucket, audioKey string) ([]float64, error) {
	url, err := d.Objects.Presign(ctx, audioBucket, audioKey, objectstore.OpGet, d.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("pipeline: waveform: presign: %w", err)
	}

	peaks, err := audiocodec.Waveform(url, d.WaveformSegments)
	if err != nil {
		return nil, fmt.Errorf("pipeline: waveform: decode: %w", err)
	}

	dir := filepath.Join(d.DataDir, transcriptID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: waveform: mkdir: %w", err)
	}
	path := filepath.Join(dir, "audio.json")
	blob, err := json.Marshal(peaks)
	if err != nil {
		return nil, fmt.Errorf("pipeline: waveform: marshal: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return nil, fmt.Errorf("pipeline: waveform: write: %w", err)
	}

	event := progressbus.Event{
		ID:    fmt.Sprintf("GenerateWaveform:%s", transcriptID),
		Event: progressbus.KindWaveform,
		Data:  mustMarshal(progressbus.WaveformPayload{Waveform: peaks}),
	}
	if err := d.Store.AppendEvent(ctx, transcriptID, event); err != nil {
		return nil, fmt.Errorf("pipeline: waveform: append_event: %w", err)
	}
	if err := d.Bus.Publish(ctx, transcriptID, event); err != nil {
		return nil, fmt.Errorf("pipeline: waveform: publish: %w", err)
	}

	return peaks, nil
}

// GenerateWaveform runs the waveform task.
func (d *Deps) GenerateWaveform(ctx context.Context, runID, transcriptID, audioBucket, audioKey string) ([]float64, error) {
	decl := taskgraph.Decl{Name: "GenerateWaveform", Timeout: taskgraph.TimeoutMedium, Retries: 3}
	return taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) ([]float64, error) {
		return d.runWaveform(ctx, transcriptID, audioBucket, audioKey)
	})
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("pipeline: marshal event payload: %v", err))
	}
	return b
}
